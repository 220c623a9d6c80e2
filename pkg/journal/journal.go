// Package journal 实现页面上的写事务。
// 一个 Journal 收集 Put/Delete，Commit 时整体交给页面存储生成一个新的 Commit。
package journal

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"ledgervault/pkg/core"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"github.com/google/uuid"
)

// State 是 Journal 的生命周期状态
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Change 是一个 key 上的最终修改。Entry 为 nil 表示删除。
type Change struct {
	Key   []byte
	Entry *core.Entry
}

func (c Change) IsDelete() bool { return c.Entry == nil }

// Committer 是页面存储一侧的提交入口
type Committer interface {
	// CommitJournal 把变更应用到当前 head 并原子地写入新 Commit。
	// 失败时 head 不变。
	CommitJournal(ctx context.Context, id types.JournalID, changes []Change) (*core.Commit, error)

	// ReleaseJournal 通知页面存储该 Journal 已结束 (无论成功与否)
	ReleaseJournal(id types.JournalID)
}

type Journal struct {
	mu        sync.Mutex
	id        types.JournalID
	state     State
	changes   map[string]Change
	committer Committer
}

func New(committer Committer) *Journal {
	return &Journal{
		id:        types.JournalID(uuid.NewString()),
		state:     StateOpen,
		changes:   make(map[string]Change),
		committer: committer,
	}
}

func (j *Journal) ID() types.JournalID { return j.id }

func (j *Journal) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Journal) checkOpen() error {
	if j.state != StateOpen {
		return status.Errorf(status.IllegalState, "journal %s is %s", j.id, j.state)
	}
	return nil
}

// Put 写入或覆盖一个 key。同一 Journal 里后写的生效。
func (j *Journal) Put(ctx context.Context, key []byte, id core.ObjectIdentifier, p core.Priority) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.checkOpen(); err != nil {
		return err
	}
	if !id.IsValid() {
		return status.Errorf(status.ParseError, "invalid identifier for key %q", key)
	}
	if p != core.PriorityEager && p != core.PriorityLazy {
		return status.Errorf(status.ParseError, "invalid priority %d", p)
	}

	k := bytes.Clone(key)
	j.changes[string(k)] = Change{
		Key:   k,
		Entry: &core.Entry{Key: k, Identifier: id, Priority: p},
	}
	return nil
}

// Delete 记录删除，覆盖本 Journal 里之前对该 key 的 Put
func (j *Journal) Delete(ctx context.Context, key []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.checkOpen(); err != nil {
		return err
	}
	k := bytes.Clone(key)
	j.changes[string(k)] = Change{Key: k}
	return nil
}

// Changes 返回按 key 排序的变更快照
func (j *Journal) Changes() []Change {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sortedChanges()
}

func (j *Journal) sortedChanges() []Change {
	out := make([]Change, 0, len(j.changes))
	for _, c := range j.changes {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return bytes.Compare(out[a].Key, out[b].Key) < 0 })
	return out
}

// Commit 把全部变更交给页面存储。
// 成功后进入 COMMITTED；失败后进入 ROLLED_BACK，调用方可以在新 Journal 里重试。
func (j *Journal) Commit(ctx context.Context) (*core.Commit, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.checkOpen(); err != nil {
		return nil, err
	}
	defer j.committer.ReleaseJournal(j.id)

	commit, err := j.committer.CommitJournal(ctx, j.id, j.sortedChanges())
	if err != nil {
		j.state = StateRolledBack
		return nil, err
	}
	j.state = StateCommitted
	return commit, nil
}

// Rollback 丢弃全部变更
func (j *Journal) Rollback() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.checkOpen(); err != nil {
		return err
	}
	j.state = StateRolledBack
	j.changes = nil
	j.committer.ReleaseJournal(j.id)
	return nil
}
