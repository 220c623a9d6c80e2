package client

import (
	"context"
	"fmt"
	"time"

	meshrpc "ledgervault/pkg/api/meshrpc/v1"
	"ledgervault/pkg/core"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// MaxMessageSize 覆盖最大的 FileIndex 分片
const MaxMessageSize = 64 * 1024 * 1024

// MeshClient 封装了到一个对端副本的连接，实现 p2p.Peer
type MeshClient struct {
	id      string
	conn    *grpc.ClientConn
	rpc     meshrpc.MeshClient
	timeout time.Duration
}

// NewMeshClient 创建客户端。
// 只负责创建对象，不等待连接就绪。timeout 为 0 时不限制单次调用。
func NewMeshClient(id, addr string, timeout time.Duration) (*MeshClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
		// 保持连接活跃
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	// NewClient 立即返回，连接在后台进行
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		// 这里的 err 通常只是配置错误 (如地址格式不对)，网络不通不会在这里报错
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	return NewMeshClientWithConn(id, conn, timeout), nil
}

// NewMeshClientWithConn 复用已有连接 (测试里用 bufconn)
func NewMeshClientWithConn(id string, conn *grpc.ClientConn, timeout time.Duration) *MeshClient {
	return &MeshClient{
		id:      id,
		conn:    conn,
		rpc:     meshrpc.NewMeshClient(conn),
		timeout: timeout,
	}
}

func (c *MeshClient) ID() string { return c.id }

func (c *MeshClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *MeshClient) Announce(ctx context.Context, from string, page types.PageID, commits []pagestorage.RemoteCommit) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.rpc.Announce(ctx, &meshrpc.AnnounceRequest{
		From:    from,
		Page:    string(page),
		Commits: toWire(commits),
	})
	return meshrpc.FromGRPC(err)
}

func (c *MeshClient) GetHeads(ctx context.Context, page types.PageID) ([]types.Hash, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.rpc.GetHeads(ctx, &meshrpc.GetHeadsRequest{Page: string(page)})
	if err != nil {
		return nil, meshrpc.FromGRPC(err)
	}
	heads := make([]types.Hash, 0, len(resp.Heads))
	for _, h := range resp.Heads {
		heads = append(heads, types.Hash(h))
	}
	return heads, nil
}

func (c *MeshClient) GetCommits(ctx context.Context, page types.PageID, ids []types.Hash) ([]pagestorage.RemoteCommit, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req := &meshrpc.GetCommitsRequest{Page: string(page), IDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		req.IDs = append(req.IDs, string(id))
	}
	resp, err := c.rpc.GetCommits(ctx, req)
	if err != nil {
		return nil, meshrpc.FromGRPC(err)
	}
	return fromWire(resp.Commits), nil
}

func (c *MeshClient) GetPiece(ctx context.Context, page types.PageID, id core.ObjectIdentifier) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.rpc.GetPiece(ctx, &meshrpc.GetPieceRequest{Page: string(page), Digest: []byte(id.Digest)})
	if err != nil {
		return nil, meshrpc.FromGRPC(err)
	}
	return resp.Data, nil
}

// Close 关闭底层连接
func (c *MeshClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func toWire(commits []pagestorage.RemoteCommit) []meshrpc.Commit {
	out := make([]meshrpc.Commit, 0, len(commits))
	for _, c := range commits {
		out = append(out, meshrpc.Commit{ID: string(c.ID), Data: c.Data})
	}
	return out
}

func fromWire(commits []meshrpc.Commit) []pagestorage.RemoteCommit {
	out := make([]pagestorage.RemoteCommit, 0, len(commits))
	for _, c := range commits {
		out = append(out, pagestorage.RemoteCommit{ID: types.Hash(c.ID), Data: c.Data})
	}
	return out
}
