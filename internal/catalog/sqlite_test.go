package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCatalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteUpsertRead(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	e := Entry{ID: "clip1", Source: SourceWeb, Origin: "clip1.mp4", Size: 4, SHA256: "abc", CommittedAt: at}
	if err := c.Upsert(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(ctx, "clip1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != SourceWeb || got.Size != 4 || !got.CommittedAt.Equal(at) {
		t.Fatalf("unexpected entry %+v", got)
	}

	// last writer wins
	e.Source, e.Size, e.CommittedAt = SourceBot, 9, at.Add(time.Minute)
	if err := c.Upsert(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err = c.Read(ctx, "clip1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != SourceBot || got.Size != 9 {
		t.Fatalf("expected overwrite, got %+v", got)
	}
}

func TestSQLiteReadMissing(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.Read(context.Background(), "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := c.Delete(context.Background(), "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound on delete, got %v", err)
	}
}

func TestSQLiteListNewestFirst(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := c.Upsert(ctx, Entry{ID: id, Source: SourceWeb, CommittedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].ID != "c" || entries[2].ID != "a" {
		t.Fatalf("unexpected order %+v", entries)
	}
	if err := c.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	entries, _ = c.List(ctx)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after delete, got %d", len(entries))
	}
}

func TestSQLiteSharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	web, err := NewSQLiteCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer web.Close()
	bot, err := NewSQLiteCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer bot.Close()

	ctx := context.Background()
	if err := bot.Upsert(ctx, Entry{ID: "from-bot", Source: SourceBot, CommittedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := web.Read(ctx, "from-bot"); err != nil {
		t.Fatalf("web handle cannot see bot entry: %v", err)
	}
}

func TestOpen(t *testing.T) {
	c, err := Open("none", "")
	if err != nil || c != nil {
		t.Fatalf("expected nil catalog, got %v %v", c, err)
	}
	if _, err := Open("mysql", ""); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
