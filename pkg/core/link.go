package core

import (
	"encoding/hex"
	"sort"

	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// Link 是 Commit 指向父提交的边，编码为 Tag 42(0x00 + 哈希字节)
type Link struct {
	Hash types.Hash
}

const (
	linkTagNumber = 42
	// linkPrefix 是 multibase identity 前缀
	linkPrefix = 0x00
)

func NewLink(hash types.Hash) Link {
	return Link{Hash: hash}
}

// NewLinks 把父提交 id 转成排好序的边，保证 Commit 编码与父提交的给出顺序无关
func NewLinks(ids ...types.Hash) []Link {
	links := make([]Link, 0, len(ids))
	for _, id := range ids {
		links = append(links, NewLink(id))
	}
	sortLinks(links)
	return links
}

func sortLinks(links []Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].Hash < links[j].Hash })
}

func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.Hash.IsValid() {
		return nil, status.Errorf(status.ParseError, "invalid parent id in link: %q", l.Hash)
	}
	raw, _ := hex.DecodeString(string(l.Hash))
	return em.Marshal(cbor.Tag{
		Number:  linkTagNumber,
		Content: append([]byte{linkPrefix}, raw...),
	})
}

// UnmarshalCBOR 只接受 Tag 42、0x00 前缀和完整长度的哈希，其余都是 PARSE_ERROR
func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := dm.Unmarshal(data, &tag); err != nil {
		return status.Errorf(status.ParseError, "malformed link: %v", err)
	}
	if tag.Number != linkTagNumber {
		return status.Errorf(status.ParseError, "expected tag %d for link, got %d", linkTagNumber, tag.Number)
	}

	content, ok := tag.Content.([]byte)
	switch {
	case !ok:
		return status.Errorf(status.ParseError, "link content must be byte string")
	case len(content) == 0:
		return status.Errorf(status.ParseError, "invalid link: empty content")
	case content[0] != linkPrefix:
		return status.Errorf(status.ParseError, "invalid link: missing 0x00 multibase prefix")
	case len(content) != 1+HashSize:
		return status.Errorf(status.ParseError, "invalid link: expected %d hash bytes, got %d", HashSize, len(content)-1)
	}

	l.Hash = types.Hash(hex.EncodeToString(content[1:]))
	return nil
}
