package chunker

import (
	"bufio"
	"fmt"
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"
)

// 支持的切分算法
const (
	KindFastCDC = "fastcdc"
	KindBuzhash = "buzhash"
	KindRabin   = "rabin"
	KindSize    = "size"
)

// Splitter 按顺序产出数据块，结束时返回 io.EOF
type Splitter interface {
	NextBytes() ([]byte, error)
}

// NewSplitter 根据名字创建切分器。空名字等价于 fastcdc。
func NewSplitter(kind string, r io.Reader) (Splitter, error) {
	switch kind {
	case "", KindFastCDC:
		return newCDCSplitter(r), nil
	case KindBuzhash:
		return boxochunker.NewBuzhash(r), nil
	case KindRabin:
		return boxochunker.NewRabin(r, AvgSize), nil
	case KindSize:
		return boxochunker.NewSizeSplitter(r, AvgSize), nil
	default:
		return nil, fmt.Errorf("unknown chunker %q", kind)
	}
}

// cdcSplitter 把流式输入接到无状态的 Chunker 上。
// 每次最多缓冲 MaxSize 字节，只吐出第一个切点之前的数据。
type cdcSplitter struct {
	r   *bufio.Reader
	c   *Chunker
	buf []byte
	eof bool
}

func newCDCSplitter(r io.Reader) *cdcSplitter {
	return &cdcSplitter{
		r: bufio.NewReaderSize(r, MaxSize),
		c: NewChunker(),
	}
}

func (s *cdcSplitter) NextBytes() ([]byte, error) {
	// 1. 补满缓冲区
	for !s.eof && len(s.buf) < MaxSize {
		tmp := make([]byte, MaxSize-len(s.buf))
		n, err := io.ReadFull(s.r, tmp)
		s.buf = append(s.buf, tmp[:n]...)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.eof = true
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(s.buf) == 0 {
		return nil, io.EOF
	}

	// 2. 只取第一个切点。
	// 缓冲区不足 MaxSize 时说明已经读到末尾，Cut 的结果与整体切分一致。
	cuts := s.c.Cut(s.buf)
	end := cuts[0]
	chunk := make([]byte, end)
	copy(chunk, s.buf[:end])
	s.buf = append(s.buf[:0], s.buf[end:]...)
	return chunk, nil
}
