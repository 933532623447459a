package catalog

import (
	"context"
	"errors"
	"time"
)

// Source names the process that committed an asset.
type Source string

const (
	SourceWeb Source = "web"
	SourceBot Source = "bot"
)

// Entry is advisory metadata about a committed asset. The store remains the
// source of truth for what exists; the catalog records where it came from.
type Entry struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	Origin      string    `json:"origin,omitempty"` // upload filename or fetched URL
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CommittedAt time.Time `json:"committed_at"`
}

var ErrEntryNotFound = errors.New("catalog entry not found")

// Catalog indexes committed assets. Upsert is last-writer-wins, matching the
// store's rename semantics.
type Catalog interface {
	Upsert(ctx context.Context, e Entry) error
	Read(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
