package ingester

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"ledgervault/pkg/chunker"
	"ledgervault/pkg/core"
	"ledgervault/pkg/objectstore"

	"github.com/samber/lo"
)

type Ingester struct {
	store       *objectstore.Store
	chunker     string
	maxChildren int
}

type Option func(*Ingester)

// WithChunker 选择切分算法 (fastcdc | buzhash | rabin | size)
func WithChunker(kind string) Option {
	return func(i *Ingester) { i.chunker = kind }
}

// WithMaxChildren 设置单个 FileIndex 的子节点数，超过后分层。
// 取值需先经过 core.ValidateMaxChildren，越界的值会被忽略。
func WithMaxChildren(n int) Option {
	return func(i *Ingester) {
		if core.ValidateMaxChildren(n) == nil {
			i.maxChildren = n
		}
	}
}

func NewIngester(store *objectstore.Store, opts ...Option) *Ingester {
	ing := &Ingester{
		store:       store,
		chunker:     chunker.KindFastCDC,
		maxChildren: core.DefaultMaxChildren,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest 读取数据流，切分，存储，返回对象标识和逻辑大小。
// 只有一块时直接返回值分片；多块时建 FileIndex，必要时分层。
func (ing *Ingester) Ingest(ctx context.Context, reader io.Reader) (core.ObjectIdentifier, uint64, error) {
	splitter, err := chunker.NewSplitter(ing.chunker, reader)
	if err != nil {
		return core.ObjectIdentifier{}, 0, err
	}

	// 1. 切分并存储值分片
	var children []core.FileIndexChild
	for {
		chunk, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return core.ObjectIdentifier{}, 0, fmt.Errorf("failed to read chunk: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return core.ObjectIdentifier{}, 0, err
		}

		id, err := ing.store.AddValue(ctx, chunk)
		if err != nil {
			return core.ObjectIdentifier{}, 0, fmt.Errorf("failed to store chunk: %w", err)
		}
		children = append(children, core.FileIndexChild{Identifier: id, Size: uint64(len(chunk))})
	}

	// 2. 空输入和单块输入不需要索引
	switch len(children) {
	case 0:
		id, err := ing.store.AddValue(ctx, nil)
		return id, 0, err
	case 1:
		return children[0].Identifier, children[0].Size, nil
	}

	// 3. 逐层向上建索引，直到一层能放下
	for len(children) > ing.maxChildren {
		groups := lo.Chunk(children, ing.maxChildren)
		next := make([]core.FileIndexChild, 0, len(groups))
		for _, g := range groups {
			id, total, err := ing.store.AddIndex(ctx, g)
			if err != nil {
				return core.ObjectIdentifier{}, 0, fmt.Errorf("failed to store index: %w", err)
			}
			next = append(next, core.FileIndexChild{Identifier: id, Size: total})
		}
		children = next
	}

	id, total, err := ing.store.AddIndex(ctx, children)
	if err != nil {
		return core.ObjectIdentifier{}, 0, fmt.Errorf("failed to store index: %w", err)
	}
	return id, total, nil
}

// IngestBytes 是 Ingest 的内存版本
func (ing *Ingester) IngestBytes(ctx context.Context, data []byte) (core.ObjectIdentifier, uint64, error) {
	return ing.Ingest(ctx, bytes.NewReader(data))
}
