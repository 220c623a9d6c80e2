package pagesync

import (
	"fmt"
	"time"

	"ledgervault/pkg/backoff"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
)

type Config struct {
	// 两个都可以为空，此时页面完全离线
	Cloud CloudSync
	P2P   P2PSync

	Backoff backoff.Config
	// Backoffs 覆盖 Backoff，测试里用来注入无抖动的实例
	Backoffs backoff.Factory
	// PollInterval 空闲时定期拉取的间隔，0 表示只在被唤醒时同步
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// LedgerSync 持有账本级的通道工厂，为每个页面创建 PageSync
type LedgerSync struct {
	cloud        CloudSync
	p2p          P2PSync
	backoffs     backoff.Factory
	pollInterval time.Duration
	log          logrus.FieldLogger
}

func New(cfg Config) (*LedgerSync, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Backoffs == nil {
		if cfg.Backoff == (backoff.Config{}) {
			cfg.Backoff = backoff.DefaultConfig
		}
		f, err := backoff.NewFactory(cfg.Backoff)
		if err != nil {
			return nil, fmt.Errorf("invalid sync backoff: %w", err)
		}
		cfg.Backoffs = f
	}
	return &LedgerSync{
		cloud:        cfg.Cloud,
		p2p:          cfg.P2P,
		backoffs:     cfg.Backoffs,
		pollInterval: cfg.PollInterval,
		log:          cfg.Logger,
	}, nil
}

// Channels 返回已配置的通道，对端在前
func (ls *LedgerSync) Channels() []types.Channel {
	var out []types.Channel
	if ls.p2p != nil {
		out = append(out, types.ChannelP2P)
	}
	if ls.cloud != nil {
		out = append(out, types.ChannelCloud)
	}
	return out
}

// CreatePageSync 为页面创建协调器。onError 在某个通道遇到不可恢复错误时调用，每个通道最多一次。
// 返回的 PageSync 需要调用 Start 才会在后台同步。
func (ls *LedgerSync) CreatePageSync(storage Storage, client PageSyncClient, onError func(error)) (*PageSync, error) {
	ps := &PageSync{
		storage: storage,
		client:  client,
		onError: onError,
		poll:    ls.pollInterval,
		log:     ls.log.WithField("page", string(storage.ID())),
	}

	// 对端优先：取回缺失对象时先问局域网里的副本
	if ls.p2p != nil {
		ch, err := ls.p2p.GetPageCommunicator(storage, &channelClient{ps: ps, ch: types.ChannelP2P})
		if err != nil {
			return nil, fmt.Errorf("failed to create p2p page sync: %w", err)
		}
		ps.loops = append(ps.loops, newLoop(types.ChannelP2P, ch, ls.backoffs()))
	}
	if ls.cloud != nil {
		ch, err := ls.cloud.CreatePageSync(storage, &channelClient{ps: ps, ch: types.ChannelCloud})
		if err != nil {
			ps.closeChannels()
			return nil, fmt.Errorf("failed to create cloud page sync: %w", err)
		}
		ps.loops = append(ps.loops, newLoop(types.ChannelCloud, ch, ls.backoffs()))
	}

	ps.unwatch = storage.Watch(ps)
	storage.SetSyncDelegate(ps)
	ps.log.WithField("channels", len(ps.loops)).Debug("page sync created")
	return ps, nil
}
