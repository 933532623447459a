package bot

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"teradrop/internal/events"
	"teradrop/internal/store"
)

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) Upload(_ context.Context, id string, r io.Reader, size int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return io.ErrShortWrite
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[id] = b
	return nil
}

func (a *memArchive) get(id string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objects[id]
	return b, ok
}

func TestMirrorCopy(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	arch := &memArchive{objects: map[string][]byte{}}
	m := NewMirror(st, arch, zaptest.NewLogger(t))
	ctx := context.Background()

	st.Put(ctx, "clip.mp4", bytes.NewReader([]byte("AAAA")))
	if err := m.Copy(ctx, "clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if b, _ := arch.get("clip.mp4"); string(b) != "AAAA" {
		t.Fatalf("archived %q", b)
	}
	if err := m.Copy(ctx, "missing.mp4"); err == nil {
		t.Fatal("expected error for missing asset")
	}
}

func TestMirrorFollowsStore(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	w, err := events.NewWatcher(st.Dir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	arch := &memArchive{objects: map[string][]byte{}}
	m := NewMirror(st, arch, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, w) }()

	// a second handle stands in for the web process
	other, err := store.NewFSStore(st.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Put(ctx, "upload.mp4", bytes.NewReader([]byte("from web"))); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if b, ok := arch.get("upload.mp4"); ok {
			if string(b) != "from web" {
				t.Fatalf("archived %q", b)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("asset was not mirrored")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("mirror stopped with %v", err)
	}
}
