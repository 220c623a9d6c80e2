package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgervault/pkg/core"
	"ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCursorNotFound   = status.New(status.NotFound, "cursor not found")
	ErrConcurrentUpdate = status.New(status.IllegalState, "concurrent update detected (CAS failed)")
	ErrCommitNotFound   = status.New(status.NotFound, "commit not found in metadata")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 同步游标 (Cursors)
// -----------------------------------------------------------------------------

// GetCursor 返回游标位置和版本号；不存在时返回 ErrCursorNotFound
func (r *Repository) GetCursor(ctx context.Context, name string) (string, int64, error) {
	var c Cursor
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&c).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, ErrCursorNotFound
	}
	if err != nil {
		return "", 0, status.Wrap(status.IOError, err, "get cursor")
	}
	return c.Position, c.Version, nil
}

// UpdateCursor 原子更新游标 (CAS)。
// oldVersion 是之前读到的版本号，0 表示创建。版本不符返回 ErrConcurrentUpdate。
func (r *Repository) UpdateCursor(ctx context.Context, name, position string, oldVersion int64) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 场景 A: 第一次创建
		if oldVersion == 0 {
			c := Cursor{Name: name, Position: position, Version: 1}
			if err := tx.Create(&c).Error; err != nil {
				// 兼容 PG 与 SQLite 的唯一约束错误
				if errors.Is(err, gorm.ErrDuplicatedKey) ||
					strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return ErrConcurrentUpdate
				}
				return status.Wrap(status.IOError, err, "create cursor")
			}
			return nil
		}

		// 场景 B: UPDATE cursors SET position = ?, version = version + 1 WHERE name = ? AND version = ?
		result := tx.Model(&Cursor{}).
			Where("name = ? AND version = ?", name, oldVersion).
			Updates(map[string]any{
				"position":   position,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return status.Wrap(status.IOError, result.Error, "update cursor")
		}
		// 影响行数为 0 说明 version 不匹配
		if result.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// 2. 提交索引 (Commit Indexing)
// -----------------------------------------------------------------------------

// IndexCommit 将 core.Commit 投影到 SQL 数据库中，重复写入是幂等的
func (r *Repository) IndexCommit(ctx context.Context, page types.PageID, c *core.Commit, source types.Channel) error {
	parentsJSON, err := json.Marshal(c.ParentIDs())
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}
	metaJSON, err := json.Marshal(map[string]string{"source": string(source)})
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	model := CommitModel{
		Hash:       string(c.ID()),
		Page:       string(page),
		Generation: c.Generation,
		Timestamp:  c.Timestamp,
		Root:       c.Root.Digest.String(),
		Parents:    datatypes.JSON(parentsJSON),
		Meta:       datatypes.JSON(metaJSON),
		CreatedAt:  c.Time(),
	}

	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return status.Wrap(status.IOError, err, "failed to index commit")
	}
	return nil
}

func (r *Repository) GetCommit(ctx context.Context, hash types.Hash) (*CommitModel, error) {
	var commit CommitModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		First(&commit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommitNotFound
	}
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "get commit")
	}
	return &commit, nil
}

// FindCommitsByPage 返回页面的提交，最新的在前
func (r *Repository) FindCommitsByPage(ctx context.Context, page types.PageID, limit int) ([]CommitModel, error) {
	var commits []CommitModel
	err := r.db.GetConn().WithContext(ctx).
		Where("page = ?", string(page)).
		Order("generation DESC").
		Order("timestamp DESC").
		Order("hash DESC").
		Limit(limit).
		Find(&commits).Error
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "find commits")
	}
	return commits, nil
}

// ParentHashes 解出 Parents JSON
func (m *CommitModel) ParentHashes() ([]types.Hash, error) {
	var out []types.Hash
	if len(m.Parents) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(m.Parents, &out); err != nil {
		return nil, status.Wrap(status.ParseError, err, "decode parents")
	}
	return out, nil
}
