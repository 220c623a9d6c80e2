package core

import (
	"encoding/binary"
	"fmt"
)

// ObjectIdentifier = 摘要 + 位置元数据。
// 摘要相同的两个标识符指向字节相同的内容。
type ObjectIdentifier struct {
	KeyIndex        uint32       `cbor:"k"`
	DeletionScopeID uint32       `cbor:"s"`
	Digest          ObjectDigest `cbor:"d"`
}

func NewObjectIdentifier(d ObjectDigest) ObjectIdentifier {
	return ObjectIdentifier{Digest: d}
}

func (id ObjectIdentifier) IsValid() bool {
	return IsDigestValid(id.Digest)
}

// Type 返回标识符指向的对象类型
func (id ObjectIdentifier) Type() ObjectType {
	return GetObjectType(GetObjectDigestType(id.Digest))
}

func (id ObjectIdentifier) String() string {
	if id.KeyIndex == 0 && id.DeletionScopeID == 0 {
		return id.Digest.String()
	}
	return fmt.Sprintf("%s@%d/%d", id.Digest.String(), id.KeyIndex, id.DeletionScopeID)
}

// 二进制形式: [u32 key_index][u32 deletion_scope][u16 digest_len][digest]
const identifierHeaderSize = 4 + 4 + 2

func (id ObjectIdentifier) encodedSize() int {
	return identifierHeaderSize + len(id.Digest)
}

func (id ObjectIdentifier) appendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, id.KeyIndex)
	buf = binary.LittleEndian.AppendUint32(buf, id.DeletionScopeID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(id.Digest)))
	return append(buf, id.Digest...)
}

// decodeIdentifier 读出一个标识符，返回消耗的字节数。
// 长度不足或摘要畸形时 ok 为 false。
func decodeIdentifier(data []byte) (id ObjectIdentifier, n int, ok bool) {
	if len(data) < identifierHeaderSize {
		return ObjectIdentifier{}, 0, false
	}
	digestLen := int(binary.LittleEndian.Uint16(data[8:10]))
	if len(data)-identifierHeaderSize < digestLen {
		return ObjectIdentifier{}, 0, false
	}
	d := ObjectDigest(data[identifierHeaderSize : identifierHeaderSize+digestLen])
	if !IsDigestValid(d) {
		return ObjectIdentifier{}, 0, false
	}
	return ObjectIdentifier{
		KeyIndex:        binary.LittleEndian.Uint32(data[0:4]),
		DeletionScopeID: binary.LittleEndian.Uint32(data[4:8]),
		Digest:          d,
	}, identifierHeaderSize + digestLen, true
}
