package database

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrMissingID = errors.New("document id is required")
	ErrClosed    = errors.New("database is closed")
)

// DocumentStore holds JSON documents of one collection keyed by id.
type DocumentStore interface {
	// Upsert stores doc under id, replacing any previous document wholesale.
	Upsert(ctx context.Context, id string, doc json.RawMessage) error

	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Get returns the document stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (json.RawMessage, error)

	// List returns every document in the collection ordered by id.
	List(ctx context.Context) ([]json.RawMessage, error)
}

// Database is a connection to one backend shared by several collections.
type Database interface {
	Collection(name string) DocumentStore
	Close() error
}

// Collection names.
const (
	CollectionOrders   = "orders"
	CollectionProducts = "products"
)

// Namespace scopes every collection of db under prefix, so services that share
// one backend never read or write each other's documents. An empty prefix
// returns db unchanged.
func Namespace(db Database, prefix string) Database {
	if prefix == "" {
		return db
	}
	return &namespacedDB{Database: db, prefix: prefix}
}

type namespacedDB struct {
	Database
	prefix string
}

func (n *namespacedDB) Collection(name string) DocumentStore {
	return n.Database.Collection(n.prefix + "." + name)
}

func checkID(id string) error {
	if id == "" {
		return ErrMissingID
	}
	return nil
}
