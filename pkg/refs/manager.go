// Package refs 维护页面的 head 集合。
// head 是没有子提交的 Commit；正常情况下只有一个，同步带来分叉时会暂时有多个，
// 直到页面存储生成合并提交。
package refs

import (
	"context"
	"sort"

	"ledgervault/pkg/kv"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"
)

var ErrNoHead = status.New(status.NotFound, "page has no head (empty page)")

// Manager 把 head 集合存在页面的 KV 命名空间里: p/<page>/h/<commit>
type Manager struct {
	db     kv.Store
	prefix string
}

func NewManager(db kv.Store, page types.PageID) *Manager {
	return &Manager{db: db, prefix: string(kv.Key("p", string(page), "h")) + "/"}
}

func (m *Manager) key(h types.Hash) []byte {
	return []byte(m.prefix + string(h))
}

// Heads 返回排序后的 head 列表，空页面返回空切片
func (m *Manager) Heads(ctx context.Context) ([]types.Hash, error) {
	var heads []types.Hash
	err := m.db.Scan(ctx, []byte(m.prefix), func(k, _ []byte) error {
		heads = append(heads, types.Hash(k[len(m.prefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })
	return heads, nil
}

// IsHead 检查某个 Commit 当前是否是 head
func (m *Manager) IsHead(ctx context.Context, h types.Hash) (bool, error) {
	return m.db.Has(ctx, m.key(h))
}

// Advance 在调用方的原子批次里把 head 推进到新提交：父节点不再是 head。
// 父节点本来就不是 head 时删除是无害的。
func (m *Manager) Advance(b kv.Batch, head types.Hash, parents []types.Hash) error {
	for _, p := range parents {
		if err := b.Delete(m.key(p)); err != nil {
			return err
		}
	}
	return b.Put(m.key(head), nil)
}
