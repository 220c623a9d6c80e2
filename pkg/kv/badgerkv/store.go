// Package badgerkv 用 BadgerDB 实现 kv.Store
package badgerkv

import (
	"context"
	"errors"
	"fmt"

	"ledgervault/pkg/kv"
	"ledgervault/pkg/status"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     logrus.FieldLogger
}

// Store 实现了 kv.Store 接口
type Store struct {
	db  *badger.DB
	log logrus.FieldLogger
}

var _ kv.Store = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	opts.ValueLogFileSize = 1024 * 1024 * 100 // 单个 value log 最大 100MB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "failed to open badger")
	}

	cfg.Logger.WithFields(logrus.Fields{
		"path":      cfg.Path,
		"in_memory": cfg.InMemory,
	}).Debug("badger kv store opened")

	return &Store{db: db, log: cfg.Logger}, nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "badger get")
	}
	return value, nil
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, status.Wrap(status.IOError, err, "badger has")
	}
	return true, nil
}

func (s *Store) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return status.Wrap(status.IOError, err, "badger scan")
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

type txnBatch struct {
	txn *badger.Txn
}

func (b txnBatch) Put(key, value []byte) error {
	return b.txn.Set(key, value)
}

func (b txnBatch) Delete(key []byte) error {
	return b.txn.Delete(key)
}

// Update 在一个 badger 事务里执行，要么全部写入，要么全部丢弃
func (s *Store) Update(ctx context.Context, fn func(kv.Batch) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txnBatch{txn: txn}); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil && status.CodeOf(err) == status.IOError {
		return status.Wrap(status.IOError, err, "badger update")
	}
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
