package service

import (
	"context"

	meshrpc "ledgervault/pkg/api/meshrpc/v1"
	"ledgervault/pkg/core"
	"ledgervault/pkg/p2p"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Handler 是对端请求的处理方，由 *p2p.Synchronizer 实现
type Handler interface {
	HandleAnnounce(ctx context.Context, from string, page types.PageID, commits []pagestorage.RemoteCommit) error
	HandleGetHeads(ctx context.Context, page types.PageID) ([]types.Hash, error)
	HandleGetCommits(ctx context.Context, page types.PageID, ids []types.Hash) ([]pagestorage.RemoteCommit, error)
	HandleGetPiece(ctx context.Context, page types.PageID, id core.ObjectIdentifier) ([]byte, error)
}

var _ Handler = (*p2p.Synchronizer)(nil)

// MeshService 把网格 RPC 转给 Handler
type MeshService struct {
	meshrpc.UnimplementedMeshServer
	h Handler
}

var _ meshrpc.MeshServer = (*MeshService)(nil)

func NewMeshService(h Handler) *MeshService {
	return &MeshService{h: h}
}

// validatePage 是请求的第一道校验
func validatePage(page string) error {
	if err := pagestorage.ValidatePageID(types.PageID(page)); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func validateHash(h string) error {
	if !types.Hash(h).IsValid() {
		return status.Errorf(codes.InvalidArgument, "invalid commit id %q", h)
	}
	return nil
}

func (s *MeshService) Announce(ctx context.Context, req *meshrpc.AnnounceRequest) (*meshrpc.AnnounceResponse, error) {
	if err := validatePage(req.Page); err != nil {
		return nil, err
	}
	commits := make([]pagestorage.RemoteCommit, 0, len(req.Commits))
	for _, c := range req.Commits {
		if err := validateHash(c.ID); err != nil {
			return nil, err
		}
		commits = append(commits, pagestorage.RemoteCommit{ID: types.Hash(c.ID), Data: c.Data})
	}

	if err := s.h.HandleAnnounce(ctx, req.From, types.PageID(req.Page), commits); err != nil {
		return nil, meshrpc.ToGRPC(err)
	}
	return &meshrpc.AnnounceResponse{}, nil
}

func (s *MeshService) GetHeads(ctx context.Context, req *meshrpc.GetHeadsRequest) (*meshrpc.GetHeadsResponse, error) {
	if err := validatePage(req.Page); err != nil {
		return nil, err
	}
	heads, err := s.h.HandleGetHeads(ctx, types.PageID(req.Page))
	if err != nil {
		return nil, meshrpc.ToGRPC(err)
	}
	resp := &meshrpc.GetHeadsResponse{Heads: make([]string, 0, len(heads))}
	for _, h := range heads {
		resp.Heads = append(resp.Heads, h.String())
	}
	return resp, nil
}

func (s *MeshService) GetCommits(ctx context.Context, req *meshrpc.GetCommitsRequest) (*meshrpc.GetCommitsResponse, error) {
	if err := validatePage(req.Page); err != nil {
		return nil, err
	}
	ids := make([]types.Hash, 0, len(req.IDs))
	for _, id := range req.IDs {
		if err := validateHash(id); err != nil {
			return nil, err
		}
		ids = append(ids, types.Hash(id))
	}

	records, err := s.h.HandleGetCommits(ctx, types.PageID(req.Page), ids)
	if err != nil {
		return nil, meshrpc.ToGRPC(err)
	}
	resp := &meshrpc.GetCommitsResponse{Commits: make([]meshrpc.Commit, 0, len(records))}
	for _, r := range records {
		resp.Commits = append(resp.Commits, meshrpc.Commit{ID: r.ID.String(), Data: r.Data})
	}
	return resp, nil
}

func (s *MeshService) GetPiece(ctx context.Context, req *meshrpc.GetPieceRequest) (*meshrpc.GetPieceResponse, error) {
	if err := validatePage(req.Page); err != nil {
		return nil, err
	}
	d, err := core.ParseObjectDigest(req.Digest)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	data, err := s.h.HandleGetPiece(ctx, types.PageID(req.Page), core.NewObjectIdentifier(d))
	if err != nil {
		return nil, meshrpc.ToGRPC(err)
	}
	return &meshrpc.GetPieceResponse{Data: data}, nil
}
