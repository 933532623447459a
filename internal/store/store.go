package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// Asset describes a committed video file in the shared store.
type Asset struct {
	ID      string
	Size    int64
	ModTime time.Time
	SHA256  string // empty when the asset was listed rather than written
}

// Store is the shared video store used by both the web service and the bot.
// Every implementation publishes content atomically: readers observe either a
// previously committed asset or nothing, never a partial write.
type Store interface {
	Put(ctx context.Context, id string, r io.Reader) (Asset, error)
	Get(ctx context.Context, id string) ([]byte, Asset, error)
	Open(ctx context.Context, id string) (io.ReadCloser, Asset, error)
	List(ctx context.Context) ([]Asset, error)
	Delete(ctx context.Context, id string) error
}

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidID     = errors.New("invalid asset id")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrTooLarge      = errors.New("asset too large")
)

// WriteError reports a write that could not be committed. Nothing is visible
// under the asset's name as a result of the failed write.
type WriteError struct {
	ID  string
	Op  string // create, copy, sync, close, rename
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is lets callers match any WriteError with errors.Is(err, ErrStorageWrite).
func (e *WriteError) Is(target error) bool { return target == ErrStorageWrite }

// sortNewestFirst orders assets by modification time, ties broken by id.
func sortNewestFirst(assets []Asset) {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].ModTime.Equal(assets[j].ModTime) {
			return assets[i].ID < assets[j].ID
		}
		return assets[i].ModTime.After(assets[j].ModTime)
	})
}
