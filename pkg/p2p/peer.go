// Package p2p 实现对端网格同步通道。
// 本地副本把新提交通知给所有已连接的对端，对端缺祖先时按 head 向回拉取。
package p2p

import (
	"context"
	"sort"
	"sync"

	"ledgervault/pkg/core"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/types"
)

// Peer 是一个远端副本。传输层 (进程内或 gRPC) 负责实现。
type Peer interface {
	ID() string
	Announce(ctx context.Context, from string, page types.PageID, commits []pagestorage.RemoteCommit) error
	GetHeads(ctx context.Context, page types.PageID) ([]types.Hash, error)
	GetCommits(ctx context.Context, page types.PageID, ids []types.Hash) ([]pagestorage.RemoteCommit, error)
	GetPiece(ctx context.Context, page types.PageID, id core.ObjectIdentifier) ([]byte, error)
}

// Transport 返回当前可用的对端
type Transport interface {
	Peers() []Peer
}

// PeerSet 是手动维护的对端集合
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

var _ Transport = (*PeerSet)(nil)

func NewPeerSet(peers ...Peer) *PeerSet {
	s := &PeerSet{peers: make(map[string]Peer)}
	for _, p := range peers {
		s.Add(p)
	}
	return s
}

func (s *PeerSet) Add(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID()] = p
}

func (s *PeerSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// Peers 按 ID 排序返回
func (s *PeerSet) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// LocalPeer 把另一个进程内的 Synchronizer 当作对端，用于测试和单进程多副本
type LocalPeer struct {
	id     string
	remote *Synchronizer
}

var _ Peer = (*LocalPeer)(nil)

func NewLocalPeer(id string, remote *Synchronizer) *LocalPeer {
	return &LocalPeer{id: id, remote: remote}
}

func (p *LocalPeer) ID() string { return p.id }

func (p *LocalPeer) Announce(ctx context.Context, from string, page types.PageID, commits []pagestorage.RemoteCommit) error {
	return p.remote.HandleAnnounce(ctx, from, page, commits)
}

func (p *LocalPeer) GetHeads(ctx context.Context, page types.PageID) ([]types.Hash, error) {
	return p.remote.HandleGetHeads(ctx, page)
}

func (p *LocalPeer) GetCommits(ctx context.Context, page types.PageID, ids []types.Hash) ([]pagestorage.RemoteCommit, error) {
	return p.remote.HandleGetCommits(ctx, page, ids)
}

func (p *LocalPeer) GetPiece(ctx context.Context, page types.PageID, id core.ObjectIdentifier) ([]byte, error) {
	return p.remote.HandleGetPiece(ctx, page, id)
}
