package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v3"
)

// BadgerDB is an embedded store. Keys are "<collection>/<id>".
type BadgerDB struct {
	store *badger.DB
}

// NewBadgerDB opens a store in dir. An empty dir keeps everything in memory.
func NewBadgerDB(dir string, logger *log.Logger) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger dir: %w", err)
	}
	opts = opts.
		WithLogger(newBadgerLogger(logger.WithPrefix("badger"))).
		WithLoggingLevel(badger.WARNING).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerDB{store: db}, nil
}

func (b *BadgerDB) Collection(name string) DocumentStore {
	return &badgerCollection{store: b.store, prefix: name + "/"}
}

func (b *BadgerDB) Close() error {
	return b.store.Close()
}

type badgerCollection struct {
	store  *badger.DB
	prefix string
}

func (c *badgerCollection) key(id string) []byte {
	return []byte(c.prefix + id)
}

func (c *badgerCollection) Upsert(ctx context.Context, id string, doc json.RawMessage) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.store.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(id), []byte(doc))
	})
}

func (c *badgerCollection) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.store.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(id))
	})
}

func (c *badgerCollection) Get(ctx context.Context, id string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := c.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s%s: %w", c.prefix, id, err)
	}
	return json.RawMessage(value), nil
}

func (c *badgerCollection) List(ctx context.Context) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := []json.RawMessage{}
	err := c.store.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(c.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			docs = append(docs, json.RawMessage(value))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", strings.TrimSuffix(c.prefix, "/"), err)
	}
	return docs, nil
}

// badgerLogger adapts a charm logger to badger.Logger.
type badgerLogger struct {
	logger *log.Logger
}

func newBadgerLogger(logger *log.Logger) badger.Logger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
