package chunker

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Deterministic(t *testing.T) {
	// 1. 准备数据：100KB 随机数据
	data := make([]byte, 100*1024)
	rand.Read(data)

	c := NewChunker()

	// 2. 第一次切分
	cuts1 := c.Cut(data)
	assert.NotEmpty(t, cuts1)
	assert.Equal(t, len(data), cuts1[len(cuts1)-1], "最后一块必须结束于文件末尾")

	// 3. 第二次切分 (验证确定性)
	cuts2 := c.Cut(data)
	assert.Equal(t, cuts1, cuts2, "对于相同数据，切分点必须完全一致")
}

func TestChunker_MinMaxConstraints(t *testing.T) {
	data := make([]byte, 200*1024)
	c := NewChunker()
	cuts := c.Cut(data)

	start := 0
	for i, end := range cuts {
		size := end - start

		// 最后一块可能小于 MinSize
		if i < len(cuts)-1 {
			assert.GreaterOrEqual(t, size, MinSize, "Chunk %d size %d too small", i, size)
		}
		assert.LessOrEqual(t, size, MaxSize, "Chunk %d size %d too large", i, size)

		start = end
	}
	assert.Equal(t, len(data), start)
}

func TestChunker_Small(t *testing.T) {
	c := NewChunker()
	assert.Nil(t, c.Cut(nil))
	assert.Equal(t, []int{10}, c.Cut(make([]byte, 10)))
}

func readAll(t *testing.T, s Splitter) [][]byte {
	t.Helper()
	var chunks [][]byte
	for {
		b, err := s.NextBytes()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, b)
	}
}

func TestSplitter_ReassemblesInput(t *testing.T) {
	data := make([]byte, 300*1024+17)
	rand.Read(data)

	for _, kind := range []string{KindFastCDC, KindBuzhash, KindRabin, KindSize} {
		t.Run(kind, func(t *testing.T) {
			s, err := NewSplitter(kind, bytes.NewReader(data))
			require.NoError(t, err)

			chunks := readAll(t, s)
			assert.NotEmpty(t, chunks)
			assert.Equal(t, data, bytes.Join(chunks, nil))
		})
	}
}

func TestSplitter_FastCDCMatchesCut(t *testing.T) {
	data := make([]byte, 250*1024)
	rand.Read(data)

	s, err := NewSplitter(KindFastCDC, bytes.NewReader(data))
	require.NoError(t, err)

	var ends []int
	off := 0
	for _, c := range readAll(t, s) {
		off += len(c)
		ends = append(ends, off)
	}
	assert.Equal(t, NewChunker().Cut(data), ends)
}

func TestSplitter_Unknown(t *testing.T) {
	_, err := NewSplitter("md5", bytes.NewReader(nil))
	assert.Error(t, err)
}
