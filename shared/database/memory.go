package database

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryDB keeps documents in process memory. Contents are lost on restart.
type MemoryDB struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{collections: make(map[string]map[string]json.RawMessage)}
}

func (m *MemoryDB) Collection(name string) DocumentStore {
	return &memoryCollection{db: m, name: name}
}

func (m *MemoryDB) Close() error {
	return nil
}

type memoryCollection struct {
	db   *MemoryDB
	name string
}

func (c *memoryCollection) Upsert(ctx context.Context, id string, doc json.RawMessage) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	docs, ok := c.db.collections[c.name]
	if !ok {
		docs = make(map[string]json.RawMessage)
		c.db.collections[c.name] = docs
	}
	docs[id] = append(json.RawMessage(nil), doc...)
	return nil
}

func (c *memoryCollection) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	delete(c.db.collections[c.name], id)
	return nil
}

func (c *memoryCollection) Get(ctx context.Context, id string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	doc, ok := c.db.collections[c.name][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (c *memoryCollection) List(ctx context.Context) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	docs := c.db.collections[c.name]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, append(json.RawMessage(nil), docs[id]...))
	}
	return out, nil
}
