package treebuilder

import (
	"sort"

	"ledgervault/pkg/core"
)

// Conflict 描述两边都改过且结果不同的一个 key。缺失用 nil 表示。
type Conflict struct {
	Key   []byte
	Base  *core.Entry
	Left  *core.Entry
	Right *core.Entry

	LeftCommit  *core.Commit
	RightCommit *core.Commit
}

// MergeStrategy 决定冲突 key 的最终值，返回 nil 表示删除
type MergeStrategy interface {
	Resolve(c Conflict) (*core.Entry, error)
}

// LastWriterWins 选时间戳更大的一边，时间戳相同选 ID 更大的一边。
// 结果与左右顺序无关，不同副本合并同一对 head 会得到同样的 Tree。
type LastWriterWins struct{}

func (LastWriterWins) Resolve(c Conflict) (*core.Entry, error) {
	if leftWins(c.LeftCommit, c.RightCommit) {
		return c.Left, nil
	}
	return c.Right, nil
}

func leftWins(l, r *core.Commit) bool {
	if l.Timestamp != r.Timestamp {
		return l.Timestamp > r.Timestamp
	}
	return l.ID() > r.ID()
}

// Merge 以 base 为共同祖先做三方合并：
// 只有一边改动的 key 取改动的一边，两边改成相同结果的直接采用，
// 两边改成不同结果的交给 strategy。
func Merge(base, left, right *core.Tree, leftCommit, rightCommit *core.Commit, strategy MergeStrategy) (*core.Tree, error) {
	if base == nil {
		base = core.EmptyTree()
	}
	if strategy == nil {
		strategy = LastWriterWins{}
	}

	b, l, r := base.Map(), left.Map(), right.Map()

	keys := make([]string, 0, len(l)+len(r))
	seen := make(map[string]struct{}, len(l)+len(r))
	for _, m := range []map[string]core.Entry{b, l, r} {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	entries := make([]core.Entry, 0, len(keys))
	for _, k := range keys {
		be, le, re := lookup(b, k), lookup(l, k), lookup(r, k)

		var result *core.Entry
		switch {
		case entryEqual(le, re):
			result = le
		case entryEqual(le, be):
			result = re
		case entryEqual(re, be):
			result = le
		default:
			var err error
			result, err = strategy.Resolve(Conflict{
				Key:         []byte(k),
				Base:        be,
				Left:        le,
				Right:       re,
				LeftCommit:  leftCommit,
				RightCommit: rightCommit,
			})
			if err != nil {
				return nil, err
			}
		}
		if result != nil {
			entries = append(entries, *result)
		}
	}
	return core.NewTree(entries)
}

func lookup(m map[string]core.Entry, k string) *core.Entry {
	e, ok := m[k]
	if !ok {
		return nil
	}
	return &e
}

func entryEqual(a, b *core.Entry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
