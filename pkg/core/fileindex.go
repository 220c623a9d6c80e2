package core

import (
	"encoding/binary"
	"fmt"

	"ledgervault/pkg/status"

	"github.com/cespare/xxhash"
)

// FileIndex 二进制布局 (小端):
//
//	magic "LVFI" | u32 version | u32 child_count
//	child_count × ( identifier | u64 size )
//	u64 total_size | u64 xxhash64(以上全部字节)
const (
	fileIndexMagic   = "LVFI"
	fileIndexVersion = uint32(1)

	fileIndexHeaderSize  = 4 + 4 + 4
	fileIndexTrailerSize = 8 + 8

	// MaxFileIndexChildren 是结构上限，解析时强制执行
	MaxFileIndexChildren = 1 << 16

	// DefaultMaxChildren 是切分时单个 FileIndex 的默认子节点数，超过则分层
	DefaultMaxChildren = 1024
)

// FileIndexChild 是 (子对象, 大小) 对。顺序决定子对象在逻辑对象中的偏移。
type FileIndexChild struct {
	Identifier ObjectIdentifier
	Size       uint64
}

// FileIndex 描述一个被切分的复合对象
type FileIndex struct {
	Children  []FileIndexChild
	TotalSize uint64
}

// BuildFileIndex 按给定顺序序列化子节点，返回字节和总大小
func BuildFileIndex(children []FileIndexChild) ([]byte, uint64) {
	size := fileIndexHeaderSize + fileIndexTrailerSize
	for _, c := range children {
		size += c.Identifier.encodedSize() + 8
	}

	buf := make([]byte, 0, size)
	buf = append(buf, fileIndexMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, fileIndexVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(children)))

	var total uint64
	for _, c := range children {
		buf = c.Identifier.appendBinary(buf)
		buf = binary.LittleEndian.AppendUint64(buf, c.Size)
		total += c.Size
	}
	buf = binary.LittleEndian.AppendUint64(buf, total)
	buf = binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
	return buf, total
}

// CheckValidFileIndexSerialization 在信任任何字段之前校验整个信封：
// 长度字段、子节点数上限、摘要结构、无尾随垃圾、校验和以及 size 求和。
func CheckValidFileIndexSerialization(data []byte) bool {
	_, ok := decodeFileIndex(data)
	return ok
}

// ParseFileIndex 总是先做完整校验，失败返回 PARSE_ERROR
func ParseFileIndex(data []byte) (*FileIndex, error) {
	idx, ok := decodeFileIndex(data)
	if !ok {
		return nil, status.Errorf(status.ParseError, "invalid file index serialization (%d bytes)", len(data))
	}
	return idx, nil
}

func decodeFileIndex(data []byte) (*FileIndex, bool) {
	// 1. 信封: 最小长度、magic、版本
	if len(data) < fileIndexHeaderSize+fileIndexTrailerSize {
		return nil, false
	}
	if string(data[:4]) != fileIndexMagic {
		return nil, false
	}
	if binary.LittleEndian.Uint32(data[4:8]) != fileIndexVersion {
		return nil, false
	}

	// 2. 校验和覆盖除最后 8 字节外的全部内容
	body := data[:len(data)-8]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(data[len(data)-8:]) {
		return nil, false
	}

	count := binary.LittleEndian.Uint32(data[8:12])
	if count > MaxFileIndexChildren {
		return nil, false
	}

	// 3. 逐个子节点，所有长度都必须落在缓冲区内
	entries := body[fileIndexHeaderSize : len(body)-8]
	children := make([]FileIndexChild, 0, count)
	var sum uint64
	for i := uint32(0); i < count; i++ {
		id, n, ok := decodeIdentifier(entries)
		if !ok {
			return nil, false
		}
		entries = entries[n:]
		if len(entries) < 8 {
			return nil, false
		}
		size := binary.LittleEndian.Uint64(entries[:8])
		entries = entries[8:]

		if sum+size < sum {
			return nil, false
		}
		sum += size
		children = append(children, FileIndexChild{Identifier: id, Size: size})
	}

	// 4. 不允许尾随垃圾
	if len(entries) != 0 {
		return nil, false
	}

	total := binary.LittleEndian.Uint64(body[len(body)-8:])
	if total != sum {
		return nil, false
	}
	return &FileIndex{Children: children, TotalSize: total}, true
}

// ValidateMaxChildren 检查单个 FileIndex 子节点数的配置值。少于 2 个子节点无法分层。
func ValidateMaxChildren(n int) error {
	if n < 2 || n > MaxFileIndexChildren {
		return fmt.Errorf("max children %d out of range [2, %d]", n, MaxFileIndexChildren)
	}
	return nil
}
