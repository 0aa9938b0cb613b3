package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresDB stores every collection in one documents table.
type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(ctx context.Context, connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db: db}, nil
}

// RunMigrations applies the embedded schema migrations to databaseURL.
func RunMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *PostgresDB) Collection(name string) DocumentStore {
	return &postgresCollection{db: p.db, name: name}
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

type postgresCollection struct {
	db   *sql.DB
	name string
}

func (c *postgresCollection) Upsert(ctx context.Context, id string, doc json.RawMessage) error {
	if err := checkID(id); err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`
	if _, err := c.db.ExecContext(ctx, query, c.name, id, []byte(doc)); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", c.name, id, err)
	}
	return nil
}

func (c *postgresCollection) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if _, err := c.db.ExecContext(ctx, query, c.name, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c.name, id, err)
	}
	return nil
}

func (c *postgresCollection) Get(ctx context.Context, id string) (json.RawMessage, error) {
	query := `SELECT body FROM documents WHERE collection = $1 AND id = $2`

	var body []byte
	err := c.db.QueryRowContext(ctx, query, c.name, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", c.name, id, err)
	}
	return json.RawMessage(body), nil
}

func (c *postgresCollection) List(ctx context.Context) ([]json.RawMessage, error) {
	query := `SELECT body FROM documents WHERE collection = $1 ORDER BY id ASC`

	rows, err := c.db.QueryContext(ctx, query, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	docs := []json.RawMessage{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c.name, err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	return docs, rows.Err()
}
