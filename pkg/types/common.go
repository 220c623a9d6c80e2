// pkg/types/common.go
package types

import "strings"

// Hash 代表对象或 Commit 的唯一标识符 (BLAKE3 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool { return h == "" }
func (h Hash) IsValid() bool {
	if len(h) != 64 {
		return false
	}
	return strings.IndexFunc(string(h), func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) < 0
}

// Short 返回前 8 位，用于日志和 CLI 输出
func (h Hash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// PageID 标识账本中的一个页面 (独立的 key/value 空间，拥有自己的 Commit DAG)
type PageID string

func (p PageID) String() string { return string(p) }

// JournalID 标识一次写事务，在 Journal 生命周期内保持不变
type JournalID string

func (j JournalID) String() string { return string(j) }

// Channel 标识一个同步通道
type Channel string

const (
	ChannelCloud Channel = "cloud"
	ChannelP2P   Channel = "p2p"
)

func (c Channel) String() string { return string(c) }

// AllChannels 是页面存储为之维护 "未同步" 标记的全部通道
var AllChannels = []Channel{ChannelCloud, ChannelP2P}
