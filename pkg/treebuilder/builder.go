// Package treebuilder 负责页面状态 (core.Tree) 的构造：
// Journal 变更的覆盖、Tree 对象的读写以及合并提交的三方合并。
package treebuilder

import (
	"bytes"
	"context"
	"fmt"

	"ledgervault/pkg/core"
	"ledgervault/pkg/exporter"
	"ledgervault/pkg/ingester"
	"ledgervault/pkg/journal"
)

// Apply 在 base 之上按顺序覆盖变更，同一个 key 后出现的生效
func Apply(base *core.Tree, changes []journal.Change) (*core.Tree, error) {
	if base == nil {
		base = core.EmptyTree()
	}
	state := base.Map()
	for _, c := range changes {
		if c.IsDelete() {
			delete(state, string(c.Key))
			continue
		}
		e := *c.Entry
		e.Key = bytes.Clone(c.Key)
		state[string(c.Key)] = e
	}

	entries := make([]core.Entry, 0, len(state))
	for _, e := range state {
		entries = append(entries, e)
	}
	return core.NewTree(entries)
}

// Builder 负责 Tree 对象在对象存储里的持久化
type Builder struct {
	ing *ingester.Ingester
	exp *exporter.Exporter
}

func NewBuilder(ing *ingester.Ingester, src exporter.PieceSource) *Builder {
	return &Builder{ing: ing, exp: exporter.NewExporter(src)}
}

// Write 把 Tree 当作普通对象写入，过大时会被切分成 FileIndex
func (b *Builder) Write(ctx context.Context, t *core.Tree) (core.ObjectIdentifier, error) {
	id, _, err := b.ing.IngestBytes(ctx, t.Bytes())
	if err != nil {
		return core.ObjectIdentifier{}, fmt.Errorf("failed to store tree: %w", err)
	}
	return id, nil
}

// Load 读取并解码 Tree 对象
func (b *Builder) Load(ctx context.Context, id core.ObjectIdentifier) (*core.Tree, error) {
	data, err := b.exp.ReadObject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree %s: %w", id, err)
	}
	return core.DecodeTree(data)
}
