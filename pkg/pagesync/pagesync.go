package pagesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledgervault/pkg/backoff"
	"ledgervault/pkg/core"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// loop 是单个通道的同步状态。backoff 只在 runMu 下使用。
type loop struct {
	ch      types.Channel
	channel ChannelPageSync
	backoff backoff.Backoff
	wake    chan struct{}

	// runMu 串行化同一通道上的同步轮次
	runMu sync.Mutex

	mu      sync.Mutex
	state   SyncState
	stopped bool
}

func newLoop(ch types.Channel, channel ChannelPageSync, b backoff.Backoff) *loop {
	return &loop{
		ch:      ch,
		channel: channel,
		backoff: b,
		wake:    make(chan struct{}, 1),
		state:   StateIdle,
	}
}

func (l *loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// PageSync 是单个页面的同步协调器
type PageSync struct {
	storage Storage
	client  PageSyncClient
	onError func(error)
	poll    time.Duration
	log     logrus.FieldLogger
	loops   []*loop
	unwatch func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  bool
	errOnce sync.Map // types.Channel -> *sync.Once
}

var _ objectstore.Fetcher = (*PageSync)(nil)

// Channels 返回页面上启用的通道
func (ps *PageSync) Channels() []types.Channel {
	out := make([]types.Channel, 0, len(ps.loops))
	for _, l := range ps.loops {
		out = append(out, l.ch)
	}
	return out
}

// State 返回通道当前状态；未配置的通道返回 StateStopped
func (ps *PageSync) State(ch types.Channel) SyncState {
	l := ps.loop(ch)
	if l == nil {
		return StateStopped
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (ps *PageSync) loop(ch types.Channel) *loop {
	for _, l := range ps.loops {
		if l.ch == ch {
			return l
		}
	}
	return nil
}

// Start 为每个通道启动后台循环。重复调用无效。
func (ps *PageSync) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed || ps.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	ps.group = &errgroup.Group{}
	for _, l := range ps.loops {
		l.notify()
		ps.group.Go(func() error {
			ps.run(ctx, l)
			return nil
		})
	}
}

// SyncNow 唤醒所有通道
func (ps *PageSync) SyncNow() {
	for _, l := range ps.loops {
		l.notify()
	}
}

// SyncOnce 在调用方的 goroutine 里对每个通道执行一轮同步 (不重试)。
// 不可恢复的错误同样会停掉该通道并触发 onError。返回各通道错误的合并。
func (ps *PageSync) SyncOnce(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range ps.loops {
		if l.isStopped() {
			continue
		}
		g.Go(func() error {
			if err := ps.round(ctx, l); err != nil {
				ps.classify(l, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// OnNewCommits 实现 pagestorage.CommitWatcher：唤醒除来源以外的通道
func (ps *PageSync) OnNewCommits(_ []*core.Commit, source types.Channel) {
	for _, l := range ps.loops {
		if l.ch != source {
			l.notify()
		}
	}
}

// GetPiece 实现 objectstore.Fetcher，按顺序询问各通道 (对端在前)
func (ps *PageSync) GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	return ps.fetcherFor("").GetPiece(ctx, id)
}

// fetcherFor 返回优先询问 first 通道的取回器
func (ps *PageSync) fetcherFor(first types.Channel) objectstore.Fetcher {
	return objectstore.FetcherFunc(func(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
		order := make([]*loop, 0, len(ps.loops))
		if l := ps.loop(first); l != nil {
			order = append(order, l)
		}
		for _, l := range ps.loops {
			if l.ch != first {
				order = append(order, l)
			}
		}

		err := status.Errorf(status.NotFound, "piece %s not available from any channel", id)
		for _, l := range order {
			data, gerr := l.channel.GetPiece(ctx, id)
			if gerr == nil {
				return data, nil
			}
			ps.log.WithError(gerr).WithFields(logrus.Fields{
				"channel": string(l.ch),
				"piece":   id.String(),
			}).Debug("channel could not provide piece")
			err = gerr
		}
		return nil, err
	})
}

// Close 停止循环并关闭通道。进行中的操作结果被丢弃。
func (ps *PageSync) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	cancel, group := ps.cancel, ps.group
	ps.mu.Unlock()

	if ps.unwatch != nil {
		ps.unwatch()
	}
	ps.storage.SetSyncDelegate(nil)
	if cancel != nil {
		cancel()
		_ = group.Wait()
	}
	return ps.closeChannels()
}

func (ps *PageSync) isClosed() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.closed
}

func (ps *PageSync) closeChannels() error {
	var errs []error
	for _, l := range ps.loops {
		if err := l.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// 通道循环
// -----------------------------------------------------------------------------

func (ps *PageSync) run(ctx context.Context, l *loop) {
	log := ps.log.WithField("channel", string(l.ch))
	for {
		// 1. 等待唤醒 (或轮询)
		if !ps.waitWake(ctx, l) {
			return
		}
		if l.isStopped() {
			ps.setState(l, StateStopped)
			return
		}

		// 2. 一轮同步，可重试的错误按退避重来
		for {
			err := ps.round(ctx, l)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				ps.setState(l, StateIdle)
				break
			}

			retry := ps.classify(l, err)
			if l.isStopped() {
				return
			}
			if !retry {
				ps.setState(l, StateIdle)
				break
			}

			delay := l.backoff.GetNext()
			log.WithError(err).WithField("delay", delay).Warn("sync failed, retrying")
			ps.setState(l, StateBackoff)
			if !sleep(ctx, delay) {
				return
			}
		}
	}
}

func (ps *PageSync) waitWake(ctx context.Context, l *loop) bool {
	var tick <-chan time.Time
	if ps.poll > 0 {
		t := time.NewTimer(ps.poll)
		defer t.Stop()
		tick = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return true
	case <-tick:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// round 先上传本地未同步的提交，再拉取远端提交。成功时重置退避。
func (ps *PageSync) round(ctx context.Context, l *loop) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	ps.setState(l, StateSyncing)

	if err := ps.upload(ctx, l); err != nil {
		return err
	}
	if err := l.channel.FetchCommits(ctx); err != nil {
		return err
	}
	l.backoff.Reset()
	return nil
}

// upload 按代数顺序逐个上传，遇错即停，不跳过
func (ps *PageSync) upload(ctx context.Context, l *loop) error {
	commits, err := ps.storage.GetUnsyncedCommits(ctx, l.ch)
	if err != nil {
		return err
	}
	for _, c := range commits {
		if err := l.channel.UploadCommit(ctx, c); err != nil {
			return err
		}
		if err := ps.storage.MarkCommitSynced(ctx, l.ch, c.ID()); err != nil {
			return err
		}
		ps.log.WithFields(logrus.Fields{
			"channel": string(l.ch),
			"commit":  c.ID().Short(),
		}).Debug("commit uploaded")
	}
	return nil
}

// classify 处理一轮同步的错误，返回是否应该退避重试
func (ps *PageSync) classify(l *loop, err error) bool {
	log := ps.log.WithField("channel", string(l.ch))
	switch status.CodeOf(err) {
	case status.Unrecoverable:
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		ps.setState(l, StateStopped)
		log.WithError(err).Error("channel stopped on unrecoverable error")

		once, _ := ps.errOnce.LoadOrStore(l.ch, &sync.Once{})
		once.(*sync.Once).Do(func() {
			if ps.onError != nil {
				ps.onError(err)
			}
		})
		return false
	case status.ParseError, status.IllegalState:
		log.WithError(err).Error("sync dropped on invalid data")
		return false
	default:
		return status.IsRetryable(err)
	}
}

func (ps *PageSync) setState(l *loop, s SyncState) {
	l.mu.Lock()
	if l.state == s || (l.stopped && s != StateStopped) {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.mu.Unlock()
	if ps.client != nil {
		ps.client.OnSyncStateChanged(l.ch, s)
	}
}

// -----------------------------------------------------------------------------
// 交给通道的客户端
// -----------------------------------------------------------------------------

type channelClient struct {
	ps *PageSync
	ch types.Channel
}

func (c *channelClient) ApplyRemoteCommits(ctx context.Context, commits []pagestorage.RemoteCommit) error {
	if len(commits) == 0 {
		return nil
	}
	// 关闭之后到达的批次直接丢弃。返回错误而不是 nil，通道不会因此推进游标。
	if c.ps.isClosed() {
		return status.Errorf(status.IllegalState, "page sync for %s is closed, remote batch discarded", c.ps.storage.ID())
	}
	return c.ps.storage.AddCommitsFromSync(ctx, commits, c.ch, c.ps.fetcherFor(c.ch))
}

func (c *channelClient) RequestSync() {
	if l := c.ps.loop(c.ch); l != nil {
		l.notify()
	}
}
