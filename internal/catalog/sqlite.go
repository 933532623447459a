package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCatalog keeps entries in a SQLite file. WAL mode and a busy timeout
// let the web and bot processes share one database file.
type SQLiteCatalog struct {
	db *sql.DB
}

var _ Catalog = (*SQLiteCatalog)(nil)

func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	schema := `CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		committed_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) Upsert(ctx context.Context, e Entry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO assets (id, source, origin, size, sha256, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			origin = excluded.origin,
			size = excluded.size,
			sha256 = excluded.sha256,
			committed_at = excluded.committed_at`,
		e.ID, string(e.Source), e.Origin, e.Size, e.SHA256, e.CommittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert %q: %w", e.ID, err)
	}
	return nil
}

func (c *SQLiteCatalog) Read(ctx context.Context, id string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, source, origin, size, sha256, committed_at FROM assets WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *SQLiteCatalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, source, origin, size, sha256, committed_at FROM assets ORDER BY committed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (c *SQLiteCatalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

func (c *SQLiteCatalog) Close() error { return c.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e      Entry
		source string
		at     time.Time
	)
	if err := s.Scan(&e.ID, &source, &e.Origin, &e.Size, &e.SHA256, &at); err != nil {
		return Entry{}, err
	}
	e.Source = Source(source)
	e.CommittedAt = at.UTC()
	return e, nil
}
