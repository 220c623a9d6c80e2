package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&Cursor{}, &CommitModel{}}
}

// Cursor 记录同步通道在某个页面上的下载位置，例如 "cloud/<page>"
type Cursor struct {
	Name string `gorm:"primaryKey;type:varchar(255)"`

	// Position 对通道是不透明的字符串
	Position string `gorm:"type:text;not null"`

	// Version 用于乐观锁并发控制 (CAS)，每次更新时 +1
	Version int64 `gorm:"default:1"`

	UpdatedAt time.Time
}

// CommitModel 是 core.Commit 在关系型数据库中的投影 (索引)，
// 用于 ledger log 之类的历史查询
type CommitModel struct {
	Hash string `gorm:"primaryKey;type:char(64)"`

	Page       string `gorm:"index:idx_commit_page;type:varchar(255);not null"`
	Generation uint64 `gorm:"index:idx_commit_page"`
	Timestamp  int64  `gorm:"index"` // UnixNano

	// Root 是 Tree 对象摘要的 Hex
	Root string `gorm:"type:text;not null"`

	// Parents: ["hash1", "hash2"]
	Parents datatypes.JSON

	// Meta: 来源通道等附加信息 {"source": "p2p"}
	Meta datatypes.JSON

	CreatedAt time.Time
}

func (CommitModel) TableName() string {
	return "commits"
}
