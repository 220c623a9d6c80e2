package cloud

import (
	"context"
	"errors"
	"fmt"

	"ledgervault/pkg/core"
	"ledgervault/pkg/meta"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/pagesync"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultUploadConcurrency = 8

type Config struct {
	Provider Provider
	Cursors  CursorStore
	// UploadConcurrency 是单个提交的分片并行上传数
	UploadConcurrency int
	Logger            logrus.FieldLogger
}

// Synchronizer 实现 pagesync.CloudSync
type Synchronizer struct {
	provider    Provider
	cursors     CursorStore
	concurrency int
	log         logrus.FieldLogger
}

var _ pagesync.CloudSync = (*Synchronizer)(nil)

func NewSynchronizer(cfg Config) (*Synchronizer, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("cloud synchronizer requires a provider")
	}
	if cfg.Cursors == nil {
		cfg.Cursors = NewMemoryCursors()
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = DefaultUploadConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Synchronizer{
		provider:    cfg.Provider,
		cursors:     cfg.Cursors,
		concurrency: cfg.UploadConcurrency,
		log:         cfg.Logger,
	}, nil
}

func (s *Synchronizer) CreatePageSync(storage pagesync.Storage, client pagesync.ChannelClient) (pagesync.ChannelPageSync, error) {
	page := storage.ID()
	return &pageSync{
		s:       s,
		storage: storage,
		client:  client,
		page:    page,
		cursor:  "cloud/" + string(page),
		log:     s.log.WithFields(logrus.Fields{"page": string(page), "channel": string(types.ChannelCloud)}),
	}, nil
}

type pageSync struct {
	s       *Synchronizer
	storage pagesync.Storage
	client  pagesync.ChannelClient
	page    types.PageID
	cursor  string
	log     logrus.FieldLogger
}

// UploadCommit 先上传全部分片，最后上传提交记录。
// 这样云端出现的提交引用的对象总是已经存在。
func (p *pageSync) UploadCommit(ctx context.Context, c *core.Commit) error {
	pieces, err := p.storage.CollectCommitPieces(ctx, c)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.s.concurrency)
	for _, id := range pieces {
		g.Go(func() error {
			return p.uploadPiece(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	record := []pagestorage.RemoteCommit{{ID: c.ID(), Data: c.Bytes()}}
	if err := p.s.provider.AddCommits(ctx, p.page, record); err != nil {
		return channelError(err)
	}
	p.log.WithFields(logrus.Fields{
		"commit": c.ID().Short(),
		"pieces": len(pieces),
	}).Debug("commit uploaded to cloud")
	return nil
}

func (p *pageSync) uploadPiece(ctx context.Context, id core.ObjectIdentifier) error {
	key := id.Digest.Key()
	has, err := p.s.provider.HasObject(ctx, key)
	if err != nil {
		return channelError(err)
	}
	if has {
		return nil
	}
	data, err := p.storage.GetLocalPiece(ctx, id)
	if err != nil {
		return err
	}
	if err := p.s.provider.AddObject(ctx, key, data); err != nil {
		return channelError(err)
	}
	return nil
}

// FetchCommits 从持久化的游标处拉取，写入成功后才推进游标
func (p *pageSync) FetchCommits(ctx context.Context) error {
	position, version, err := p.s.cursors.GetCursor(ctx, p.cursor)
	if err != nil && !isCursorMissing(err) {
		return err
	}

	records, next, err := p.s.provider.GetCommits(ctx, p.page, position, p.known(ctx))
	if err != nil {
		return channelError(err)
	}
	if len(records) > 0 {
		if err := p.client.ApplyRemoteCommits(ctx, records); err != nil {
			return err
		}
	}
	if next == position {
		return nil
	}

	err = p.s.cursors.UpdateCursor(ctx, p.cursor, next, version)
	if errors.Is(err, meta.ErrConcurrentUpdate) {
		// 另一个进程已经推进了游标，下轮从它的位置继续
		p.log.WithField("cursor", p.cursor).Warn("cursor moved concurrently")
		return nil
	}
	if err != nil {
		return err
	}
	if len(records) > 0 {
		p.log.WithField("commits", len(records)).Info("commits fetched from cloud")
	}
	return nil
}

// known 跳过本地已有的提交 (包括本副本自己上传的)。查询失败时照常下载。
func (p *pageSync) known(ctx context.Context) SkipFunc {
	return func(id types.Hash) bool {
		has, err := p.storage.HasCommit(ctx, id)
		return err == nil && has
	}
}

func (p *pageSync) GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	data, err := p.s.provider.GetObject(ctx, id.Digest.Key())
	if err != nil {
		return nil, channelError(err)
	}
	return data, nil
}

func (p *pageSync) Close() error { return nil }

// channelError 给云端错误标上通道，已分类的错误保持原类别
func channelError(err error) error {
	return status.Network(types.ChannelCloud, err)
}
