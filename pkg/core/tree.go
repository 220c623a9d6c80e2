package core

import (
	"bytes"
	"sort"

	"ledgervault/pkg/status"
)

// Priority 决定同步时被引用对象是立即拉取还是按需拉取
type Priority uint8

const (
	PriorityEager Priority = 0
	PriorityLazy  Priority = 1
)

func (p Priority) String() string {
	if p == PriorityLazy {
		return "LAZY"
	}
	return "EAGER"
}

// Entry 是页面 key 空间里的一条记录
type Entry struct {
	Key        []byte           `cbor:"k"`
	Identifier ObjectIdentifier `cbor:"i"`
	Priority   Priority         `cbor:"p"`
}

func (e Entry) Equal(o Entry) bool {
	return bytes.Equal(e.Key, o.Key) && e.Identifier == o.Identifier && e.Priority == o.Priority
}

// Tree 是一个页面在某个 Commit 上的完整 key/value 映射，按 key 排序。
// 它本身作为普通对象写入对象存储 (过大时被切分)。
type Tree struct {
	rawBytes []byte `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`
	Entries []Entry    `cbor:"e"`
}

// NewTree 排序并编码；重复 key 是调用方错误
func NewTree(entries []Entry) (*Tree, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i-1].Key, sorted[i].Key) {
			return nil, status.Errorf(status.IllegalState, "duplicate key %q in tree", sorted[i].Key)
		}
	}

	t := &Tree{
		TypeVal: TypeTree,
		Entries: sorted,
	}
	data, err := em.Marshal(t)
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "failed to encode tree")
	}
	t.rawBytes = data
	return t, nil
}

// EmptyTree 是没有任何 Commit 的页面的状态
func EmptyTree() *Tree {
	t, _ := NewTree(nil)
	return t
}

// DecodeTree 解码并校验排序、唯一性和标识符结构
func DecodeTree(data []byte) (*Tree, error) {
	var t Tree
	if err := dm.Unmarshal(data, &t); err != nil {
		return nil, status.Wrap(status.ParseError, err, "failed to decode tree")
	}
	if t.TypeVal != TypeTree {
		return nil, status.Errorf(status.ParseError, "object is not a tree, got: %s", t.TypeVal)
	}
	for i, e := range t.Entries {
		if !e.Identifier.IsValid() {
			return nil, status.Errorf(status.ParseError, "tree entry %q has malformed identifier", e.Key)
		}
		if i > 0 && bytes.Compare(t.Entries[i-1].Key, e.Key) >= 0 {
			return nil, status.New(status.ParseError, "tree entries not strictly sorted")
		}
	}
	t.rawBytes = data
	return &t, nil
}

func (t *Tree) Type() ObjectType { return TypeTree }
func (t *Tree) Bytes() []byte    { return t.rawBytes }
func (t *Tree) Len() int         { return len(t.Entries) }

// Get 二分查找 key
func (t *Tree) Get(key []byte) (Entry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool {
		return bytes.Compare(t.Entries[i].Key, key) >= 0
	})
	if i < len(t.Entries) && bytes.Equal(t.Entries[i].Key, key) {
		return t.Entries[i], true
	}
	return Entry{}, false
}

// Map 以 string(key) 为键返回副本
func (t *Tree) Map() map[string]Entry {
	m := make(map[string]Entry, len(t.Entries))
	for _, e := range t.Entries {
		m[string(e.Key)] = e
	}
	return m
}
