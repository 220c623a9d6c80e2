package core

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"github.com/zeebo/blake3"
)

// DigestType 是摘要首字节的类型标记
type DigestType byte

const (
	DigestInline    DigestType = 0x00 // 内容原样内嵌
	DigestValueHash DigestType = 0x01 // 叶子数据的 Hash
	DigestIndexHash DigestType = 0x02 // 序列化 FileIndex 的 Hash

	DigestUnknown DigestType = 0xff
)

func (t DigestType) String() string {
	switch t {
	case DigestInline:
		return "INLINE"
	case DigestValueHash:
		return "VALUE_HASH"
	case DigestIndexHash:
		return "INDEX_HASH"
	default:
		return "UNKNOWN"
	}
}

const (
	// HashSize 是 BLAKE3-256 的输出长度
	HashSize = 32

	// MaxInlineSize 是内联内容的结构上限，任何策略都不能超过它
	MaxInlineSize = 1024

	// DefaultInlineThreshold 小于该长度的 VALUE 内容直接内联
	DefaultInlineThreshold = 32
)

// ObjectDigest 是不透明的内容标识：1 字节类型标记 + 负载
// (内联内容或 32 字节 Hash)。按字节比较，可直接作为 map key。
type ObjectDigest string

// DigestPolicy 决定内联阈值
type DigestPolicy struct {
	InlineThreshold int
}

var DefaultDigestPolicy = DigestPolicy{InlineThreshold: DefaultInlineThreshold}

// NewDigestPolicy 校验阈值并返回策略
func NewDigestPolicy(threshold int) (DigestPolicy, error) {
	if threshold < 0 || threshold > MaxInlineSize {
		return DigestPolicy{}, fmt.Errorf("inline threshold %d out of range [0, %d]", threshold, MaxInlineSize)
	}
	return DigestPolicy{InlineThreshold: threshold}, nil
}

// Compute 计算内容摘要。只有 VALUE 会被内联，INDEX 总是取 Hash，
// 所以 INLINE 摘要一定对应 VALUE 对象。
func (p DigestPolicy) Compute(t ObjectType, content []byte) ObjectDigest {
	if t != TypeIndex && len(content) < p.InlineThreshold && len(content) <= MaxInlineSize {
		buf := make([]byte, 0, 1+len(content))
		buf = append(buf, byte(DigestInline))
		buf = append(buf, content...)
		return ObjectDigest(buf)
	}

	tag := DigestValueHash
	if t == TypeIndex {
		tag = DigestIndexHash
	}
	sum := blake3.Sum256(content)
	buf := make([]byte, 0, 1+HashSize)
	buf = append(buf, byte(tag))
	buf = append(buf, sum[:]...)
	return ObjectDigest(buf)
}

// ComputeObjectDigest 使用默认策略计算摘要
func ComputeObjectDigest(t ObjectType, content []byte) ObjectDigest {
	return DefaultDigestPolicy.Compute(t, content)
}

// IsDigestValid 只做结构检查 (标记 + 长度)，不检查内容是否存在
func IsDigestValid(d ObjectDigest) bool {
	if len(d) == 0 {
		return false
	}
	switch DigestType(d[0]) {
	case DigestInline:
		return len(d)-1 <= MaxInlineSize
	case DigestValueHash, DigestIndexHash:
		return len(d) == 1+HashSize
	default:
		return false
	}
}

// GetObjectDigestType 从摘要自身结构读出类型
func GetObjectDigestType(d ObjectDigest) DigestType {
	if !IsDigestValid(d) {
		return DigestUnknown
	}
	return DigestType(d[0])
}

// GetObjectType 把摘要类型映射到对象类型
func GetObjectType(t DigestType) ObjectType {
	if t == DigestIndexHash {
		return TypeIndex
	}
	return TypeValue
}

// ExtractObjectDigestData 返回内联内容或 Hash 字节
func ExtractObjectDigestData(d ObjectDigest) []byte {
	if len(d) == 0 {
		return nil
	}
	return []byte(d[1:])
}

// IsInline 报告内容是否直接嵌在摘要里 (不需要存储)
func (d ObjectDigest) IsInline() bool {
	return GetObjectDigestType(d) == DigestInline
}

// Key 返回非内联对象在存储后端的键 (Hash 的 Hex)；内联对象返回空
func (d ObjectDigest) Key() types.Hash {
	switch GetObjectDigestType(d) {
	case DigestValueHash, DigestIndexHash:
		return types.Hash(hex.EncodeToString([]byte(d[1:])))
	default:
		return ""
	}
}

// String 返回整个摘要的 Hex，可用 ParseObjectDigestHex 还原
func (d ObjectDigest) String() string {
	return hex.EncodeToString([]byte(d))
}

// ParseObjectDigest 是反序列化边界：畸形摘要返回 PARSE_ERROR
func ParseObjectDigest(b []byte) (ObjectDigest, error) {
	d := ObjectDigest(b)
	if !IsDigestValid(d) {
		return "", status.Errorf(status.ParseError, "malformed object digest (%d bytes)", len(b))
	}
	return d, nil
}

func ParseObjectDigestHex(s string) (ObjectDigest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", status.Wrap(status.ParseError, err, "digest is not hex")
	}
	return ParseObjectDigest(b)
}

// VerifyObjectDigest 检查数据是否确实是摘要所描述的内容。
// 远端数据入库前必须通过这里。
func VerifyObjectDigest(d ObjectDigest, content []byte) bool {
	switch GetObjectDigestType(d) {
	case DigestInline:
		return bytes.Equal([]byte(d[1:]), content)
	case DigestValueHash:
		sum := blake3.Sum256(content)
		return bytes.Equal([]byte(d[1:]), sum[:])
	case DigestIndexHash:
		sum := blake3.Sum256(content)
		return bytes.Equal([]byte(d[1:]), sum[:]) && CheckValidFileIndexSerialization(content)
	default:
		return false
	}
}

// MarshalCBOR 把摘要编码为 byte string (而不是 text string)
func (d ObjectDigest) MarshalCBOR() ([]byte, error) {
	return em.Marshal([]byte(d))
}

// UnmarshalCBOR 解码并做结构校验
func (d *ObjectDigest) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := dm.Unmarshal(data, &b); err != nil {
		return err
	}
	parsed, err := ParseObjectDigest(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
