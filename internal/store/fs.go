package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tempSuffix = ".tmp"

// FSStore implements Store on a local directory shared between processes.
// Writes go to a private temp name in the same directory and are published
// with a single rename, so no cross-process locking is needed.
type FSStore struct {
	baseDir string
}

var _ Store = (*FSStore)(nil)

// NewFSStore returns a store rooted at baseDir, creating the directory if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", baseDir, err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// Dir returns the directory backing the store.
func (s *FSStore) Dir() string { return s.baseDir }

func (s *FSStore) path(id string) string { return filepath.Join(s.baseDir, id) }

func tempName(id string) string {
	return "." + id + "." + uuid.NewString() + tempSuffix
}

// IsTempName reports whether a directory entry is an in-progress write.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

// Put streams r into the store under id. The asset becomes visible only once
// it is complete; concurrent writers of the same id each publish a whole file
// and the last rename wins.
func (s *FSStore) Put(ctx context.Context, id string, r io.Reader) (Asset, error) {
	if err := ValidateID(id); err != nil {
		return Asset{}, err
	}

	tmpPath := filepath.Join(s.baseDir, tempName(id))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Asset{}, &WriteError{ID: id, Op: "create", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Asset{}, &WriteError{ID: id, Op: "copy", Err: err}
	}
	if err := f.Sync(); err != nil {
		return Asset{}, &WriteError{ID: id, Op: "sync", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		return Asset{}, &WriteError{ID: id, Op: "sync", Err: err}
	}
	if err := f.Close(); err != nil {
		return Asset{}, &WriteError{ID: id, Op: "close", Err: err}
	}
	// last chance to abandon before the write becomes visible
	if err := ctx.Err(); err != nil {
		return Asset{}, &WriteError{ID: id, Op: "copy", Err: err}
	}
	if err := os.Rename(tmpPath, s.path(id)); err != nil {
		return Asset{}, &WriteError{ID: id, Op: "rename", Err: err}
	}
	committed = true
	// the rename is already visible; a failed directory sync only weakens crash durability
	_ = syncDir(s.baseDir)

	return Asset{
		ID:      id,
		Size:    n,
		ModTime: info.ModTime().UTC(),
		SHA256:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Get reads a committed asset fully into memory.
func (s *FSStore) Get(ctx context.Context, id string) ([]byte, Asset, error) {
	rc, a, err := s.Open(ctx, id)
	if err != nil {
		return nil, Asset{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return nil, Asset{}, fmt.Errorf("read asset %q: %w", id, err)
	}
	return data, a, nil
}

// Open returns a handle on the committed file. Metadata comes from the open
// handle, so a concurrent rename or delete cannot mix two versions.
// The returned reader is an *os.File and supports seeking.
func (s *FSStore) Open(ctx context.Context, id string) (io.ReadCloser, Asset, error) {
	if err := ValidateID(id); err != nil {
		return nil, Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Asset{}, err
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return nil, Asset{}, fmt.Errorf("open asset %q: %w", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Asset{}, fmt.Errorf("stat asset %q: %w", id, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return f, Asset{ID: id, Size: info.Size(), ModTime: info.ModTime().UTC()}, nil
}

// List enumerates committed assets, newest first. In-progress writes are skipped.
func (s *FSStore) List(ctx context.Context) ([]Asset, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	assets := make([]Asset, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // deleted since ReadDir
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		assets = append(assets, Asset{ID: e.Name(), Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	sortNewestFirst(assets)
	return assets, nil
}

// Delete unlinks the committed asset. Readers holding an open handle keep
// reading the old content.
func (s *FSStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return fmt.Errorf("delete asset %q: %w", id, err)
	}
	return nil
}

// SweepOrphans removes temp files left behind by writers that died before
// renaming. Only files older than olderThan are touched so live writes survive.
func (s *FSStore) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("sweep store: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !IsTempName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
