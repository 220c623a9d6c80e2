// Package objectstore 在原始分片后端之上提供按 ObjectIdentifier 寻址的对象存储。
// 内联对象不落盘，值分片和 FileIndex 分片按摘要里的 Hash 存储。
package objectstore

import (
	"context"

	"ledgervault/pkg/core"
	"ledgervault/pkg/status"
	"ledgervault/pkg/storage"

	"github.com/sirupsen/logrus"
)

// Fetcher 从别处 (通常是同步通道) 取回缺失的分片
type Fetcher interface {
	GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error)
}

// FetcherFunc 让普通函数满足 Fetcher
type FetcherFunc func(ctx context.Context, id core.ObjectIdentifier) ([]byte, error)

func (f FetcherFunc) GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	return f(ctx, id)
}

type Config struct {
	Policy core.DigestPolicy
	Logger logrus.FieldLogger
}

type Store struct {
	backend storage.Store
	policy  core.DigestPolicy
	log     logrus.FieldLogger
}

func New(backend storage.Store, cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Store{backend: backend, policy: cfg.Policy, log: cfg.Logger}
}

func (s *Store) Backend() storage.Store { return s.backend }
func (s *Store) Policy() core.DigestPolicy { return s.policy }

// AddValue 存储一个值分片，小内容直接内联
func (s *Store) AddValue(ctx context.Context, data []byte) (core.ObjectIdentifier, error) {
	d := s.policy.Compute(core.TypeValue, data)
	id := core.NewObjectIdentifier(d)
	if d.IsInline() {
		return id, nil
	}
	if err := s.backend.Put(ctx, d.Key(), data); err != nil {
		return core.ObjectIdentifier{}, err
	}
	return id, nil
}

// AddIndex 序列化并存储 FileIndex。调用方保证子对象已经存在。
func (s *Store) AddIndex(ctx context.Context, children []core.FileIndexChild) (core.ObjectIdentifier, uint64, error) {
	data, total := core.BuildFileIndex(children)
	d := s.policy.Compute(core.TypeIndex, data)
	if err := s.backend.Put(ctx, d.Key(), data); err != nil {
		return core.ObjectIdentifier{}, 0, err
	}
	return core.NewObjectIdentifier(d), total, nil
}

// AddPiece 存储来自远端的分片，入库前校验内容与摘要一致
func (s *Store) AddPiece(ctx context.Context, id core.ObjectIdentifier, data []byte) error {
	if !id.IsValid() {
		return status.Errorf(status.ParseError, "invalid identifier %s", id)
	}
	if !core.VerifyObjectDigest(id.Digest, data) {
		return status.Errorf(status.ParseError, "piece content does not match digest %s", id)
	}
	if id.Digest.IsInline() {
		return nil
	}
	return s.backend.Put(ctx, id.Digest.Key(), data)
}

// GetPiece 读取单个分片的原始字节 (对 INDEX 即 FileIndex 序列化)
func (s *Store) GetPiece(ctx context.Context, id core.ObjectIdentifier) ([]byte, error) {
	if !id.IsValid() {
		return nil, status.Errorf(status.ParseError, "invalid identifier %s", id)
	}
	if id.Digest.IsInline() {
		return core.ExtractObjectDigestData(id.Digest), nil
	}
	return storage.ReadAll(ctx, s.backend, id.Digest.Key())
}

// HasPiece 内联对象总是存在
func (s *Store) HasPiece(ctx context.Context, id core.ObjectIdentifier) (bool, error) {
	if !id.IsValid() {
		return false, status.Errorf(status.ParseError, "invalid identifier %s", id)
	}
	if id.Digest.IsInline() {
		return true, nil
	}
	return s.backend.Has(ctx, id.Digest.Key())
}

// GetFileIndex 读取并解析 INDEX 分片
func (s *Store) GetFileIndex(ctx context.Context, id core.ObjectIdentifier) (*core.FileIndex, error) {
	if id.Type() != core.TypeIndex {
		return nil, status.Errorf(status.IllegalState, "%s is not an index", id)
	}
	data, err := s.GetPiece(ctx, id)
	if err != nil {
		return nil, err
	}
	return core.ParseFileIndex(data)
}

// EnsureObject 保证整个对象 (包括 FileIndex 的全部后代) 都在本地。
// 缺失的分片从 fetcher 取回，子对象总是先于父索引入库，
// 所以本地存在的索引意味着它的后代也都存在。
func (s *Store) EnsureObject(ctx context.Context, id core.ObjectIdentifier, fetcher Fetcher) error {
	has, err := s.HasPiece(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if fetcher == nil {
		return status.Errorf(status.NotFound, "piece %s missing and no fetcher", id)
	}

	// 1. 取回并校验
	data, err := fetcher.GetPiece(ctx, id)
	if err != nil {
		return err
	}
	if !core.VerifyObjectDigest(id.Digest, data) {
		return status.Errorf(status.ParseError, "fetched piece does not match digest %s", id)
	}

	// 2. 索引: 先补齐子对象
	if id.Type() == core.TypeIndex {
		idx, err := core.ParseFileIndex(data)
		if err != nil {
			return err
		}
		for _, c := range idx.Children {
			if err := s.EnsureObject(ctx, c.Identifier, fetcher); err != nil {
				return err
			}
		}
	}

	// 3. 最后写自己
	s.log.WithField("piece", id.String()).Debug("piece fetched")
	return s.backend.Put(ctx, id.Digest.Key(), data)
}

// CollectPieces 返回对象可达的全部非内联分片，子对象在前，去重
func (s *Store) CollectPieces(ctx context.Context, id core.ObjectIdentifier) ([]core.ObjectIdentifier, error) {
	seen := make(map[core.ObjectIdentifier]struct{})
	var out []core.ObjectIdentifier

	var walk func(id core.ObjectIdentifier) error
	walk = func(id core.ObjectIdentifier) error {
		if id.Digest.IsInline() {
			return nil
		}
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}

		if id.Type() == core.TypeIndex {
			idx, err := s.GetFileIndex(ctx, id)
			if err != nil {
				return err
			}
			for _, c := range idx.Children {
				if err := walk(c.Identifier); err != nil {
					return err
				}
			}
		}
		out = append(out, id)
		return nil
	}

	if err := walk(id); err != nil {
		return nil, err
	}
	return out, nil
}
