package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ledgervault/pkg/core"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/pagesync"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
)

// MaxCommitsPerRequest 限制一次 GetCommits 请求的 ID 数量
const MaxCommitsPerRequest = 256

type Config struct {
	// NodeID 标识本地副本，通知里带给对端
	NodeID    string
	Transport Transport
	Logger    logrus.FieldLogger
}

// Synchronizer 实现 pagesync.P2PSync，同时是对端请求的入口。
// 页面按 ID 注册，通道之间不互相持有引用。
type Synchronizer struct {
	nodeID    string
	transport Transport
	log       logrus.FieldLogger

	mu    sync.RWMutex
	pages map[types.PageID]*communicator
}

var _ pagesync.P2PSync = (*Synchronizer)(nil)

func NewSynchronizer(cfg Config) (*Synchronizer, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("p2p synchronizer requires a node id")
	}
	if cfg.Transport == nil {
		cfg.Transport = NewPeerSet()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Synchronizer{
		nodeID:    cfg.NodeID,
		transport: cfg.Transport,
		log:       cfg.Logger.WithField("node", cfg.NodeID),
		pages:     make(map[types.PageID]*communicator),
	}, nil
}

func (s *Synchronizer) NodeID() string { return s.nodeID }

// GetPageCommunicator 注册页面。同一页面同时只能注册一次。
func (s *Synchronizer) GetPageCommunicator(storage pagesync.Storage, client pagesync.ChannelClient) (pagesync.ChannelPageSync, error) {
	page := storage.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[page]; ok {
		return nil, status.Errorf(status.IllegalState, "page %s already has a p2p communicator", page)
	}
	c := &communicator{
		s:       s,
		page:    page,
		storage: storage,
		client:  client,
		log:     s.log.WithFields(logrus.Fields{"page": string(page), "channel": string(types.ChannelP2P)}),
	}
	s.pages[page] = c
	return c, nil
}

func (s *Synchronizer) lookup(page types.PageID) (*communicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.pages[page]
	if !ok {
		return nil, status.Errorf(status.NotFound, "page %s is not served by %s", page, s.nodeID)
	}
	return c, nil
}

func (s *Synchronizer) unregister(c *communicator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages[c.page] == c {
		delete(s.pages, c.page)
	}
}

// -----------------------------------------------------------------------------
// 对端请求入口
// -----------------------------------------------------------------------------

// HandleAnnounce 接收对端推送的提交。
// 未托管的页面直接忽略；缺祖先时唤醒本地同步循环去拉取，不算失败。
func (s *Synchronizer) HandleAnnounce(ctx context.Context, from string, page types.PageID, commits []pagestorage.RemoteCommit) error {
	c, err := s.lookup(page)
	if err != nil {
		return nil
	}
	err = c.client.ApplyRemoteCommits(ctx, commits)
	if status.CodeOf(err) == status.NotFound {
		c.log.WithField("from", from).Debug("announced commits have unknown ancestors, scheduling fetch")
		c.client.RequestSync()
		return nil
	}
	return err
}

func (s *Synchronizer) HandleGetHeads(ctx context.Context, page types.PageID) ([]types.Hash, error) {
	c, err := s.lookup(page)
	if err != nil {
		return nil, err
	}
	heads, err := c.storage.GetHeadCommits(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]types.Hash, 0, len(heads))
	for _, h := range heads {
		ids = append(ids, h.ID())
	}
	return ids, nil
}

// HandleGetCommits 返回请求中本地已知的提交，未知的跳过
func (s *Synchronizer) HandleGetCommits(ctx context.Context, page types.PageID, ids []types.Hash) ([]pagestorage.RemoteCommit, error) {
	if len(ids) > MaxCommitsPerRequest {
		return nil, status.Errorf(status.ParseError, "too many commits requested: %d", len(ids))
	}
	c, err := s.lookup(page)
	if err != nil {
		return nil, err
	}
	out := make([]pagestorage.RemoteCommit, 0, len(ids))
	for _, id := range ids {
		commit, err := c.storage.GetCommit(ctx, id)
		if status.CodeOf(err) == status.NotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pagestorage.RemoteCommit{ID: commit.ID(), Data: commit.Bytes()})
	}
	return out, nil
}

// HandleGetPiece 只读本地分片，不会再转发给其他对端
func (s *Synchronizer) HandleGetPiece(ctx context.Context, page types.PageID, id core.ObjectIdentifier) ([]byte, error) {
	c, err := s.lookup(page)
	if err != nil {
		return nil, err
	}
	return c.storage.GetLocalPiece(ctx, id)
}

// -----------------------------------------------------------------------------
// 页面通道
// -----------------------------------------------------------------------------

type communicator struct {
	s       *Synchronizer
	page    types.PageID
	storage pagesync.Storage
	client  pagesync.ChannelClient
	log     logrus.FieldLogger
}

// UploadCommit 通知所有对端。任一对端接受即成功；没有对端时也算成功，
// 之后连上的对端会通过 head 拉取补齐。
func (c *communicator) UploadCommit(ctx context.Context, commit *core.Commit) error {
	peers := c.s.transport.Peers()
	if len(peers) == 0 {
		return nil
	}
	record := []pagestorage.RemoteCommit{{ID: commit.ID(), Data: commit.Bytes()}}

	var errs []error
	for _, p := range peers {
		err := p.Announce(ctx, c.s.nodeID, c.page, record)
		if err == nil {
			c.log.WithFields(logrus.Fields{"peer": p.ID(), "commit": commit.ID().Short()}).Debug("commit announced")
			return nil
		}
		errs = append(errs, fmt.Errorf("peer %s: %w", p.ID(), err))
	}
	return status.Network(types.ChannelP2P, errors.Join(errs...))
}

// FetchCommits 向每个对端要 head，沿父链拉取本地没有的提交
func (c *communicator) FetchCommits(ctx context.Context) error {
	peers := c.s.transport.Peers()
	var (
		errs []error
		ok   int
	)
	for _, p := range peers {
		err := c.fetchFrom(ctx, p)
		if err == nil {
			ok++
			continue
		}
		// 对端没有托管这个页面
		if status.CodeOf(err) == status.NotFound {
			ok++
			continue
		}
		// 数据错误直接上报
		if code := status.CodeOf(err); code == status.ParseError || code == status.IllegalState {
			return err
		}
		c.log.WithError(err).WithField("peer", p.ID()).Warn("fetch from peer failed")
		errs = append(errs, err)
	}
	if ok == 0 && len(errs) > 0 {
		return status.Network(types.ChannelP2P, errors.Join(errs...))
	}
	return nil
}

func (c *communicator) fetchFrom(ctx context.Context, p Peer) error {
	heads, err := p.GetHeads(ctx, c.page)
	if err != nil {
		return err
	}

	var (
		collected []pagestorage.RemoteCommit
		queued    = make(map[types.Hash]struct{})
		want      []types.Hash
	)
	enqueue := func(ids []types.Hash) error {
		for _, id := range ids {
			if _, ok := queued[id]; ok {
				continue
			}
			queued[id] = struct{}{}
			has, err := c.storage.HasCommit(ctx, id)
			if err != nil {
				return err
			}
			if !has {
				want = append(want, id)
			}
		}
		return nil
	}
	if err := enqueue(heads); err != nil {
		return err
	}

	for len(want) > 0 {
		batch := want
		if len(batch) > MaxCommitsPerRequest {
			batch = batch[:MaxCommitsPerRequest]
		}
		want = want[len(batch):]

		records, err := p.GetCommits(ctx, c.page, batch)
		if err != nil {
			return err
		}
		if len(records) < len(batch) {
			return status.Errorf(status.NotFound, "peer %s is missing %d requested commits", p.ID(), len(batch)-len(records))
		}
		for _, r := range records {
			commit, err := core.DecodeCommit(r.Data)
			if err != nil {
				return err
			}
			if err := enqueue(commit.ParentIDs()); err != nil {
				return err
			}
		}
		collected = append(collected, records...)
	}

	if len(collected) == 0 {
		return nil
	}
	if err := c.client.ApplyRemoteCommits(ctx, collected); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"peer": p.ID(), "commits": len(collected)}).Info("commits fetched from peer")
	return nil
}

// GetPiece 依次询问对端
func (c *communicator) GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	err := status.Errorf(status.NotFound, "no peer has piece %s", id)
	for _, p := range c.s.transport.Peers() {
		data, perr := p.GetPiece(ctx, c.page, id)
		if perr == nil {
			return data, nil
		}
		err = perr
	}
	return nil, status.Network(types.ChannelP2P, err)
}

func (c *communicator) Close() error {
	c.s.unregister(c)
	return nil
}
