package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"go.uber.org/zap/zaptest"

	"teradrop/internal/catalog"
	"teradrop/internal/events"
	"teradrop/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AssetEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.AssetEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	srv     *Server
	store   *store.FSStore
	catalog *catalog.SQLiteCatalog
	pub     *recordingPublisher
}

func newFixture(t *testing.T, maxUpload int64) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFSStore(filepath.Join(dir, "Videos"))
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	pub := &recordingPublisher{}
	return &fixture{
		srv:     NewServer(st, cat, pub, zaptest.NewLogger(t), maxUpload),
		store:   st,
		catalog: cat,
		pub:     pub,
	}
}

func uploadRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()
	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 1<<20)
	rr := f.do(httptest.NewRequest("GET", "/health", nil))
	if rr.Code != 200 {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Status != "OK" {
		t.Fatalf("expected status 'OK', got %q", body.Status)
	}

	rr = f.do(httptest.NewRequest("GET", "/", nil))
	if rr.Code != 200 || rr.Body.String() != "Alive" {
		t.Fatalf("unexpected index %d %q", rr.Code, rr.Body.String())
	}
}

func TestUploadAndDownload(t *testing.T) {
	f := newFixture(t, 1<<20)
	rr := f.do(uploadRequest(t, nil, "clip1.mp4", []byte("AAAA")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var got assetJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "clip1.mp4" || got.Size != 4 || got.Source != "web" {
		t.Fatalf("unexpected asset %+v", got)
	}

	rr = f.do(httptest.NewRequest("GET", "/assets/clip1.mp4", nil))
	if rr.Code != 200 || rr.Body.String() != "AAAA" {
		t.Fatalf("unexpected download %d %q", rr.Code, rr.Body.String())
	}

	e, err := f.catalog.Read(context.Background(), "clip1.mp4")
	if err != nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
	if e.Source != catalog.SourceWeb || e.SHA256 != got.SHA256 {
		t.Fatalf("unexpected catalog entry %+v", e)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Op != events.OpCommitted {
		t.Fatalf("expected one committed event, got %+v", f.pub.events)
	}
}

func TestUploadExplicitID(t *testing.T) {
	f := newFixture(t, 1<<20)
	rr := f.do(uploadRequest(t, map[string]string{"id": "My: clip?"}, "ignored.mp4", []byte("x")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if _, _, err := f.store.Get(context.Background(), "My clip"); err != nil {
		t.Fatalf("expected sanitized id to be stored: %v", err)
	}
}

func TestUploadErrors(t *testing.T) {
	f := newFixture(t, 1<<20)

	rr := f.do(uploadRequest(t, map[string]string{"other": "x"}, "", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400, got %d", rr.Code)
	}

	rr = f.do(uploadRequest(t, nil, "???", []byte("x")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rr.Code)
	}

	req := httptest.NewRequest("POST", "/upload", bytes.NewReader([]byte("plain")))
	req.Header.Set("Content-Type", "text/plain")
	if rr := f.do(req); rr.Code != http.StatusBadRequest {
		t.Fatalf("non multipart: expected 400, got %d", rr.Code)
	}

	f = newFixture(t, 1024)
	rr = f.do(uploadRequest(t, nil, "big.mp4", bytes.Repeat([]byte("z"), 4096)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("too large: expected 413, got %d", rr.Code)
	}
	if _, _, err := f.store.Get(context.Background(), "big.mp4"); err == nil {
		t.Fatal("oversized upload must not be committed")
	}
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.do(uploadRequest(t, nil, "a.mp4", []byte("aa")))
	// written by the other process, no catalog entry
	if _, err := f.store.Put(context.Background(), "b.mp4", bytes.NewReader([]byte("b"))); err != nil {
		t.Fatal(err)
	}

	rr := f.do(httptest.NewRequest("GET", "/assets", nil))
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list []assetJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 assets, got %+v", list)
	}
	sources := map[string]string{}
	for _, a := range list {
		sources[a.ID] = a.Source
	}
	if sources["a.mp4"] != "web" || sources["b.mp4"] != "" {
		t.Fatalf("unexpected sources %v", sources)
	}

	req := httptest.NewRequest("DELETE", "/assets/a.mp4", nil)
	if rr := f.do(req); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := f.do(httptest.NewRequest("GET", "/assets/a.mp4", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	if rr := f.do(httptest.NewRequest("DELETE", "/assets/a.mp4", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", rr.Code)
	}
}

func TestDownloadMissing(t *testing.T) {
	f := newFixture(t, 1<<20)
	rr := f.do(httptest.NewRequest("GET", "/assets/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = f.do(httptest.NewRequest("GET", "/assets/.hidden", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for temp-like id, got %d", rr.Code)
	}
}

func TestServerStartShutdown(t *testing.T) {
	f := newFixture(t, 1<<20)
	ts := httptest.NewUnstartedServer(nil)
	lis := ts.Listener
	done := make(chan error, 1)
	go func() { done <- f.srv.Start(lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if err := f.srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

// failingStore fails every Put with err, the way a remote store reports
// node-side failures.
type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Put(ctx context.Context, id string, r io.Reader) (store.Asset, error) {
	io.Copy(io.Discard, r)
	return store.Asset{}, &store.WriteError{ID: id, Op: "remote", Err: f.err}
}

func TestUploadStoreFailureStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: node full", syscall.ENOSPC), http.StatusInsufficientStorage},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		srv := NewServer(failingStore{err: c.err}, nil, nil, zaptest.NewLogger(t), 1<<20)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, uploadRequest(t, nil, "clip.mp4", []byte("x")))
		if rr.Code != c.want {
			t.Fatalf("%v: expected %d, got %d", c.err, c.want, rr.Code)
		}
	}
}

func TestUploadTruncatedIDField(t *testing.T) {
	f := newFixture(t, 1<<20)
	body := "--b\r\nContent-Disposition: form-data; name=\"id\"\r\n\r\nclip"
	req := httptest.NewRequest("POST", "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	if rr := f.do(req); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if assets, _ := f.store.List(context.Background()); len(assets) != 0 {
		t.Fatalf("nothing should be stored, got %+v", assets)
	}
}
