// Package pagesync 把一个页面和它的同步通道 (云端、对端网格) 连接起来。
// 每个通道有自己的重试循环和退避实例，一个通道的失败不影响另一个。
package pagesync

import (
	"context"

	"ledgervault/pkg/core"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/pagestorage"
	"ledgervault/pkg/types"
)

// Storage 是同步需要的页面存储能力，由 *pagestorage.PageStorage 实现
type Storage interface {
	ID() types.PageID
	GetCommit(ctx context.Context, id types.Hash) (*core.Commit, error)
	HasCommit(ctx context.Context, id types.Hash) (bool, error)
	GetHeadCommits(ctx context.Context) ([]*core.Commit, error)
	GetUnsyncedCommits(ctx context.Context, ch types.Channel) ([]*core.Commit, error)
	MarkCommitSynced(ctx context.Context, ch types.Channel, id types.Hash) error
	CollectCommitPieces(ctx context.Context, c *core.Commit) ([]core.ObjectIdentifier, error)
	GetLocalPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error)
	AddCommitsFromSync(ctx context.Context, commits []pagestorage.RemoteCommit, source types.Channel, fetch objectstore.Fetcher) error
	Watch(w pagestorage.CommitWatcher) func()
	SetSyncDelegate(f objectstore.Fetcher)
}

var _ Storage = (*pagestorage.PageStorage)(nil)

// ChannelClient 是协调器交给通道的回调入口
type ChannelClient interface {
	// ApplyRemoteCommits 把通道收到的提交写入页面，和本地提交走同一条写路径
	ApplyRemoteCommits(ctx context.Context, commits []pagestorage.RemoteCommit) error
	// RequestSync 唤醒该通道的同步循环 (例如收到了对端的通知)
	RequestSync()
}

// ChannelPageSync 是一个通道针对单个页面的同步实现
type ChannelPageSync interface {
	// UploadCommit 上传一个本地提交。调用方保证父提交已经上传过。
	UploadCommit(ctx context.Context, c *core.Commit) error
	// FetchCommits 拉取远端新提交并通过 ChannelClient 写入
	FetchCommits(ctx context.Context) error
	// GetPiece 从远端取回一个分片
	GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error)
	Close() error
}

// CloudSync 为页面创建云端通道
type CloudSync interface {
	CreatePageSync(storage Storage, client ChannelClient) (ChannelPageSync, error)
}

// P2PSync 为页面创建对端通道
type P2PSync interface {
	GetPageCommunicator(storage Storage, client ChannelClient) (ChannelPageSync, error)
}

// SyncState 是通道循环的状态
type SyncState int

const (
	StateIdle SyncState = iota
	StateSyncing
	StateBackoff
	StateStopped
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSyncing:
		return "SYNCING"
	case StateBackoff:
		return "BACKOFF"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// PageSyncClient 接收页面同步的状态通知，可以为 nil
type PageSyncClient interface {
	OnSyncStateChanged(ch types.Channel, state SyncState)
}

type PageSyncClientFunc func(ch types.Channel, state SyncState)

func (f PageSyncClientFunc) OnSyncStateChanged(ch types.Channel, state SyncState) { f(ch, state) }
