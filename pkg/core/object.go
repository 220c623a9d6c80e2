package core

// ObjectType 定义了账本中的对象类型
type ObjectType string

const (
	TypeValue  ObjectType = "value"  // 叶子数据 (内联或 VALUE_HASH)
	TypeIndex  ObjectType = "index"  // FileIndex，描述一个被切分的大对象
	TypeTree   ObjectType = "tree"   // 页面完整的 key/value 快照
	TypeCommit ObjectType = "commit" // 版本 DAG 节点
)

// Object 是结构化对象 (Tree / Commit) 的通用接口
type Object interface {
	Type() ObjectType

	// Bytes 返回对象的规范序列化数据
	Bytes() []byte
}
