package pagestorage

import (
	"context"
	"slices"

	"ledgervault/pkg/core"
	"ledgervault/pkg/journal"
	"ledgervault/pkg/kv"
	"ledgervault/pkg/objectstore"
	"ledgervault/pkg/status"
	"ledgervault/pkg/treebuilder"
	"ledgervault/pkg/types"

	"github.com/sirupsen/logrus"
)

// StartJournal 开启写事务。同一页面同时只能有一个打开的 Journal。
func (ps *PageStorage) StartJournal() (*journal.Journal, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.openJournal != "" {
		return nil, status.Errorf(status.IllegalState, "page %s already has open journal %s", ps.page, ps.openJournal)
	}
	j := journal.New(ps)
	ps.openJournal = j.ID()
	return j, nil
}

// ReleaseJournal 实现 journal.Committer
func (ps *PageStorage) ReleaseJournal(id types.JournalID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.openJournal == id {
		ps.openJournal = ""
	}
}

// CommitJournal 实现 journal.Committer：
// 在当前 head 上覆盖变更，写 Tree 对象，再原子地写入 Commit、head 和未同步标记。
// 任何一步失败 head 都不变。空变更返回当前 head。
func (ps *PageStorage) CommitJournal(ctx context.Context, id types.JournalID, changes []journal.Change) (*core.Commit, error) {
	ps.writeMu.Lock()

	ps.mu.Lock()
	owner := ps.openJournal
	ps.mu.Unlock()
	if owner != id {
		ps.writeMu.Unlock()
		return nil, status.Errorf(status.IllegalState, "journal %s is not the open journal of page %s", id, ps.page)
	}

	commit, merged, err := ps.commitJournalLocked(ctx, changes)
	ps.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	ps.notify(merged, SourceLocal)
	if commit != nil && len(changes) > 0 {
		ps.notify([]*core.Commit{commit}, SourceLocal)
	}
	return commit, nil
}

func (ps *PageStorage) commitJournalLocked(ctx context.Context, changes []journal.Change) (*core.Commit, []*core.Commit, error) {
	// 1. 本地提交引用的对象必须已经在本地
	for _, c := range changes {
		if c.IsDelete() {
			continue
		}
		has, err := ps.objects.HasPiece(ctx, c.Entry.Identifier)
		if err != nil {
			return nil, nil, err
		}
		if !has {
			return nil, nil, status.Errorf(status.NotFound, "object %s for key %q is not stored", c.Entry.Identifier, c.Key)
		}
	}

	// 2. 有分叉时先算出合并提交，和本次提交一起落盘
	merged, err := ps.planMergesLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	var parent *core.Commit
	if len(merged) > 0 {
		parent = merged[len(merged)-1]
	} else {
		heads, err := ps.GetHeadCommits(ctx)
		if err != nil {
			return nil, nil, err
		}
		if len(heads) > 0 {
			parent = heads[len(heads)-1]
		}
	}

	base := core.EmptyTree()
	if parent != nil {
		if base, err = ps.GetTree(ctx, parent); err != nil {
			return nil, nil, err
		}
	}
	if len(changes) == 0 {
		if err := ps.persistLocked(ctx, merged, SourceLocal); err != nil {
			return nil, nil, err
		}
		return parent, merged, nil
	}

	// 3. 新状态
	tree, err := treebuilder.Apply(base, changes)
	if err != nil {
		return nil, nil, err
	}
	rootID, err := ps.builder.Write(ctx, tree)
	if err != nil {
		return nil, nil, err
	}

	var parents []*core.Commit
	if parent != nil {
		parents = []*core.Commit{parent}
	}
	commit, err := core.NewChildCommit(rootID, parents, ps.clock())
	if err != nil {
		return nil, nil, err
	}

	// 4. 合并提交和新提交在同一个 KV 事务里写入
	if err := ps.persistLocked(ctx, append(slices.Clone(merged), commit), SourceLocal); err != nil {
		return nil, nil, err
	}
	ps.log.WithFields(logrus.Fields{
		"commit":     commit.ID().Short(),
		"generation": commit.Generation,
		"changes":    len(changes),
	}).Info("journal committed")
	return commit, merged, nil
}

// persistLocked 在一个 KV 事务里写入提交、推进 head、打未同步标记
func (ps *PageStorage) persistLocked(ctx context.Context, commits []*core.Commit, source types.Channel) error {
	if len(commits) == 0 {
		return nil
	}
	err := ps.db.Update(ctx, func(b kv.Batch) error {
		for _, c := range commits {
			if err := b.Put(ps.commitKey(c.ID()), c.Bytes()); err != nil {
				return err
			}
			if err := ps.heads.Advance(b, c.ID(), c.ParentIDs()); err != nil {
				return err
			}
			for _, ch := range ps.channels {
				if ch == source {
					continue
				}
				if err := b.Put(ps.unsyncedKey(ch, c), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// 索引是尽力而为
	if ps.indexer != nil {
		for _, c := range commits {
			if err := ps.indexer.IndexCommit(ctx, ps.page, c, source); err != nil {
				ps.log.WithError(err).WithField("commit", c.ID().Short()).Warn("failed to index commit")
			}
		}
	}
	return nil
}

// AddCommitsFromSync 接收同步通道带来的提交：
// 校验 ID、按代数排序、要求父提交已知、补齐 Tree 和 EAGER 对象，
// 在写锁下原子写入，然后自动合并分叉的 head。
func (ps *PageStorage) AddCommitsFromSync(ctx context.Context, remote []RemoteCommit, source types.Channel, fetch objectstore.Fetcher) error {
	// 1. 解码和校验 (不需要锁)
	decoded := make([]*core.Commit, 0, len(remote))
	for _, rc := range remote {
		c, err := core.DecodeCommit(rc.Data)
		if err != nil {
			return err
		}
		if c.ID() != rc.ID {
			return status.Errorf(status.ParseError, "commit id mismatch: claimed %s, content %s", rc.ID.Short(), c.ID().Short())
		}
		decoded = append(decoded, c)
	}
	core.SortCommits(decoded)

	ps.writeMu.Lock()
	added, merged, err := ps.addCommitsLocked(ctx, decoded, source, fetch)
	ps.writeMu.Unlock()
	if err != nil {
		return err
	}

	ps.notify(added, source)
	ps.notify(merged, SourceLocal)
	return nil
}

func (ps *PageStorage) addCommitsLocked(ctx context.Context, commits []*core.Commit, source types.Channel, fetch objectstore.Fetcher) ([]*core.Commit, []*core.Commit, error) {
	known := make(map[types.Hash]bool)
	isKnown := func(id types.Hash) (bool, error) {
		if k, ok := known[id]; ok {
			return k, nil
		}
		has, err := ps.HasCommit(ctx, id)
		if err != nil {
			return false, err
		}
		known[id] = has
		return has, nil
	}

	var fresh []*core.Commit
	for _, c := range commits {
		// 2. 已有的直接跳过 (同一批里重复的也一样)
		has, err := isKnown(c.ID())
		if err != nil {
			return nil, nil, err
		}
		if has {
			continue
		}

		// 3. 父提交必须已知或在本批之前出现
		for _, p := range c.ParentIDs() {
			ok, err := isKnown(p)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				return nil, nil, status.Errorf(status.NotFound, "parent %s of commit %s is unknown", p.Short(), c.ID().Short())
			}
		}

		// 4. Tree 与 EAGER 对象必须在本地
		if err := ps.objects.EnsureObject(ctx, c.Root, fetch); err != nil {
			return nil, nil, err
		}
		tree, err := ps.builder.Load(ctx, c.Root)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range tree.Entries {
			if e.Priority != core.PriorityEager {
				continue
			}
			if err := ps.objects.EnsureObject(ctx, e.Identifier, fetch); err != nil {
				return nil, nil, err
			}
		}

		known[c.ID()] = true
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return nil, nil, nil
	}

	// 5. 一次性写入
	if err := ps.persistLocked(ctx, fresh, source); err != nil {
		return nil, nil, err
	}
	ps.log.WithFields(logrus.Fields{
		"source":  string(source),
		"commits": len(fresh),
	}).Info("commits added from sync")

	// 6. 自动合并
	merged, err := ps.planMergesLocked(ctx)
	if err == nil {
		err = ps.persistLocked(ctx, merged, SourceLocal)
	}
	if err != nil {
		// 远端提交已经落盘，合并失败只影响 head 数量，下次写入时重试
		ps.log.WithError(err).Warn("auto merge failed")
		return fresh, nil, nil
	}
	return fresh, merged, nil
}

// planMergesLocked 两两合并 head 直到只剩一个，只计算不落盘。
// 返回的合并提交按生成顺序排列，最后一个是合并后的唯一 head；调用方负责在一个事务里写入。
// 按 ID 排序选取合并对，合并结果与左右顺序无关，所以各副本会生成相同的合并提交。
func (ps *PageStorage) planMergesLocked(ctx context.Context) ([]*core.Commit, error) {
	ids, err := ps.heads.Heads(ctx)
	if err != nil {
		return nil, err
	}
	g := &commitGraph{ps: ps, pending: make(map[types.Hash]*core.Commit)}

	var merged []*core.Commit
	for len(ids) >= 2 {
		left, err := g.get(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		right, err := g.get(ctx, ids[1])
		if err != nil {
			return nil, err
		}

		m, err := ps.mergePair(ctx, g, left, right)
		if err != nil {
			return nil, err
		}
		ps.log.WithFields(logrus.Fields{
			"left":  left.ID().Short(),
			"right": right.ID().Short(),
			"merge": m.ID().Short(),
		}).Info("heads merged")

		// 与 refs.Manager.Advance 相同的效果：两个父节点出局，合并提交成为 head
		g.pending[m.ID()] = m
		merged = append(merged, m)
		ids = append(slices.Clone(ids[2:]), m.ID())
		slices.Sort(ids)
	}
	return merged, nil
}

// commitGraph 在已落盘的提交之上叠加尚未写入的合并提交
type commitGraph struct {
	ps      *PageStorage
	pending map[types.Hash]*core.Commit
}

func (g *commitGraph) get(ctx context.Context, id types.Hash) (*core.Commit, error) {
	if c, ok := g.pending[id]; ok {
		return c, nil
	}
	return g.ps.GetCommit(ctx, id)
}

func (ps *PageStorage) mergePair(ctx context.Context, g *commitGraph, left, right *core.Commit) (*core.Commit, error) {
	// 1. 共同祖先
	base := core.EmptyTree()
	ancestor, err := g.commonAncestor(ctx, left, right)
	if err != nil {
		return nil, err
	}
	if ancestor != nil {
		if base, err = ps.GetTree(ctx, ancestor); err != nil {
			return nil, err
		}
	}

	// 2. 三方合并
	lt, err := ps.GetTree(ctx, left)
	if err != nil {
		return nil, err
	}
	rt, err := ps.GetTree(ctx, right)
	if err != nil {
		return nil, err
	}
	tree, err := treebuilder.Merge(base, lt, rt, left, right, ps.strategy)
	if err != nil {
		return nil, err
	}
	rootID, err := ps.builder.Write(ctx, tree)
	if err != nil {
		return nil, err
	}

	// 3. 合并提交的时间戳取父节点最大值
	return core.NewChildCommit(rootID, []*core.Commit{left, right}, ps.clock())
}

// commonAncestor 返回两个提交的最佳共同祖先 (代数最大，然后时间戳、ID)，没有则为 nil
func (g *commitGraph) commonAncestor(ctx context.Context, a, b *core.Commit) (*core.Commit, error) {
	ancestorsA, err := g.ancestors(ctx, a)
	if err != nil {
		return nil, err
	}
	ancestorsB, err := g.ancestors(ctx, b)
	if err != nil {
		return nil, err
	}

	var common []*core.Commit
	for id, c := range ancestorsA {
		if _, ok := ancestorsB[id]; ok {
			common = append(common, c)
		}
	}
	if len(common) == 0 {
		return nil, nil
	}
	core.SortCommits(common)
	return common[len(common)-1], nil
}

// ancestors 返回包括自身在内的全部祖先
func (g *commitGraph) ancestors(ctx context.Context, c *core.Commit) (map[types.Hash]*core.Commit, error) {
	out := map[types.Hash]*core.Commit{c.ID(): c}
	stack := []*core.Commit{c}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range cur.ParentIDs() {
			if _, ok := out[p]; ok {
				continue
			}
			pc, err := g.get(ctx, p)
			if err != nil {
				return nil, err
			}
			out[p] = pc
			stack = append(stack, pc)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 未同步标记
// -----------------------------------------------------------------------------

// GetUnsyncedCommits 返回某个通道尚未确认的提交，按代数升序 (父提交在前)
func (ps *PageStorage) GetUnsyncedCommits(ctx context.Context, ch types.Channel) ([]*core.Commit, error) {
	prefix := ps.unsyncedPrefix(ch)
	var ids []types.Hash
	err := ps.db.Scan(ctx, prefix, func(k, _ []byte) error {
		rest := string(k[len(prefix):])
		// rest = <gen>/<id>
		ids = append(ids, types.Hash(rest[17:]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	commits := make([]*core.Commit, 0, len(ids))
	for _, id := range ids {
		c, err := ps.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	core.SortCommits(commits)
	return commits, nil
}

// MarkCommitSynced 清除通道上的未同步标记，重复调用无害
func (ps *PageStorage) MarkCommitSynced(ctx context.Context, ch types.Channel, id types.Hash) error {
	if !slices.Contains(ps.channels, ch) {
		return status.Errorf(status.IllegalState, "channel %s is not tracked", ch)
	}
	c, err := ps.GetCommit(ctx, id)
	if err != nil {
		return err
	}
	return ps.db.Update(ctx, func(b kv.Batch) error {
		return b.Delete(ps.unsyncedKey(ch, c))
	})
}
