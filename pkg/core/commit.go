package core

import (
	"bytes"
	"sort"
	"time"

	"ledgervault/pkg/status"
	"ledgervault/pkg/types"
)

// MaxParents: 0 为根提交，1 为普通提交，2 为合并提交
const MaxParents = 2

// Commit 是不可变的页面快照。ID 是规范编码的 BLAKE3，
// 覆盖 (父节点, 结果状态的根, 代数, 时间戳)，
// 所以两个副本独立产生的相同合并会得到相同的 ID。
type Commit struct {
	id       types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`

	// Root 指向存储 Tree 的对象
	Root    ObjectIdentifier `cbor:"r"`
	Parents []Link           `cbor:"p"`

	// Generation = max(父节点代数) + 1，根提交为 0
	Generation uint64 `cbor:"g"`
	Timestamp  int64  `cbor:"ts"` // UnixNano
}

// NewCommit 构造并密封一个 Commit；父节点按 Hash 排序
func NewCommit(root ObjectIdentifier, parents []types.Hash, generation uint64, timestamp int64) (*Commit, error) {
	if !root.IsValid() {
		return nil, status.New(status.ParseError, "commit root has malformed digest")
	}
	if len(parents) > MaxParents {
		return nil, status.Errorf(status.IllegalState, "commit cannot have %d parents", len(parents))
	}

	parentLinks := NewLinks(parents...)
	for i := 1; i < len(parentLinks); i++ {
		if parentLinks[i-1].Hash == parentLinks[i].Hash {
			return nil, status.Errorf(status.IllegalState, "duplicate parent %s", parentLinks[i].Hash.Short())
		}
	}

	c := &Commit{
		TypeVal:    TypeCommit,
		Root:       root,
		Parents:    parentLinks,
		Generation: generation,
		Timestamp:  timestamp,
	}

	h, b, err := CalculateHash(c)
	if err != nil {
		return nil, status.Wrap(status.ParseError, err, "failed to seal commit")
	}
	c.id = h
	c.rawBytes = b
	return c, nil
}

// NewChildCommit 在父节点之上创建提交。
// 合并提交的时间戳取父节点的最大值，这样不同副本对同一对 head 的合并结果一致；
// 普通提交取 max(now, 父时间戳)，保证时间戳沿 DAG 单调。
func NewChildCommit(root ObjectIdentifier, parents []*Commit, now time.Time) (*Commit, error) {
	var (
		generation uint64
		maxTS      int64
		ids        = make([]types.Hash, 0, len(parents))
	)
	for i, p := range parents {
		ids = append(ids, p.ID())
		if i == 0 || p.Generation+1 > generation {
			generation = p.Generation + 1
		}
		if p.Timestamp > maxTS {
			maxTS = p.Timestamp
		}
	}

	ts := maxTS
	if len(parents) < 2 && now.UnixNano() > ts {
		ts = now.UnixNano()
	}
	return NewCommit(root, ids, generation, ts)
}

// DecodeCommit 解码远端或本地存储的提交。
// 要求编码是规范形式，否则同一内容可能对应多个 ID。
func DecodeCommit(data []byte) (*Commit, error) {
	var c Commit
	if err := dm.Unmarshal(data, &c); err != nil {
		return nil, status.Wrap(status.ParseError, err, "failed to decode commit")
	}
	if c.TypeVal != TypeCommit {
		return nil, status.Errorf(status.ParseError, "object is not a commit, got: %s", c.TypeVal)
	}
	if len(c.Parents) > MaxParents {
		return nil, status.Errorf(status.ParseError, "commit has %d parents", len(c.Parents))
	}
	for i := 1; i < len(c.Parents); i++ {
		if c.Parents[i-1].Hash >= c.Parents[i].Hash {
			return nil, status.New(status.ParseError, "commit parents not strictly sorted")
		}
	}
	if !c.Root.IsValid() {
		return nil, status.New(status.ParseError, "commit root has malformed digest")
	}

	canonical, err := em.Marshal(&c)
	if err != nil {
		return nil, status.Wrap(status.ParseError, err, "failed to re-encode commit")
	}
	if !bytes.Equal(canonical, data) {
		return nil, status.New(status.ParseError, "commit encoding is not canonical")
	}

	c.id = CalculateBlobHash(data)
	c.rawBytes = append([]byte(nil), data...)
	return &c, nil
}

func (c *Commit) Type() ObjectType { return TypeCommit }
func (c *Commit) ID() types.Hash   { return c.id }
func (c *Commit) Bytes() []byte    { return c.rawBytes }
func (c *Commit) IsMerge() bool    { return len(c.Parents) == 2 }

func (c *Commit) ParentIDs() []types.Hash {
	ids := make([]types.Hash, len(c.Parents))
	for i, p := range c.Parents {
		ids[i] = p.Hash
	}
	return ids
}

func (c *Commit) Time() time.Time {
	return time.Unix(0, c.Timestamp)
}

// SortCommits 按 (代数, 时间戳, ID) 排序，是向远端转发的顺序
func SortCommits(commits []*Commit) {
	sort.Slice(commits, func(i, j int) bool {
		a, b := commits[i], commits[j]
		if a.Generation != b.Generation {
			return a.Generation < b.Generation
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.ID() < b.ID()
	})
}
