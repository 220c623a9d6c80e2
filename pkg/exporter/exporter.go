package exporter

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"ledgervault/pkg/core"
	"ledgervault/pkg/status"
)

// PieceSource 按标识读取单个分片。objectstore.Store 和页面的懒加载读取器都满足它。
type PieceSource interface {
	GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error)
}

type Exporter struct {
	src PieceSource
}

func NewExporter(src PieceSource) *Exporter {
	return &Exporter{src: src}
}

// Export 把对象还原后按顺序写入 writer，返回写入的字节数。
// FileIndex 记录的大小与实际子对象不符时返回 PARSE_ERROR。
func (e *Exporter) Export(ctx context.Context, id core.ObjectIdentifier, w io.Writer) (uint64, error) {
	data, err := e.src.GetPiece(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to get piece %s: %w", id, err)
	}

	// 1. 值分片直接写出
	if id.Type() != core.TypeIndex {
		n, err := w.Write(data)
		if err != nil {
			return uint64(n), status.Wrap(status.IOError, err, "write value")
		}
		return uint64(n), nil
	}

	// 2. 索引: 按顺序还原每个子对象
	idx, err := core.ParseFileIndex(data)
	if err != nil {
		return 0, err
	}
	var written uint64
	for i, child := range idx.Children {
		n, err := e.Export(ctx, child.Identifier, w)
		written += n
		if err != nil {
			return written, err
		}
		if n != child.Size {
			return written, status.Errorf(status.ParseError,
				"child %d of %s has size %d, index says %d", i, id, n, child.Size)
		}
	}
	return written, nil
}

// ReadObject 把整个对象读进内存
func (e *Exporter) ReadObject(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.Export(ctx, id, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrintObject 打印对象的结构信息，原始值只打印摘要
func (e *Exporter) PrintObject(ctx context.Context, id core.ObjectIdentifier, w io.Writer) error {
	if id.Type() == core.TypeIndex {
		data, err := e.src.GetPiece(ctx, id)
		if err != nil {
			return err
		}
		idx, err := core.ParseFileIndex(data)
		if err != nil {
			return err
		}
		printFileIndex(idx, w)
		return nil
	}

	data, err := e.ReadObject(ctx, id)
	if err != nil {
		return err
	}
	if ok, err := PrintStructure(data, w); ok || err != nil {
		return err
	}
	fmt.Fprintf(w, "Type: Value\nSize: %s\n", fmtSize(uint64(len(data))))
	return nil
}
