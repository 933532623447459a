package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"

	"teradrop/internal/catalog"
	"teradrop/internal/events"
	"teradrop/internal/store"
)

type Server struct {
	store     store.Store
	catalog   catalog.Catalog // nil when disabled
	publisher events.Publisher
	logger    *zap.Logger
	maxUpload int64

	mux  *http.ServeMux
	http *http.Server
}

func NewServer(
	st store.Store,
	cat catalog.Catalog,
	pub events.Publisher,
	logger *zap.Logger,
	maxUpload int64,
) *Server {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	s := &Server{
		store:     st,
		catalog:   cat,
		publisher: pub,
		logger:    logger,
		maxUpload: maxUpload,
		mux:       http.NewServeMux(),
	}
	s.http = &http.Server{
		Handler:           logRequests(logger, s.mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /assets", s.handleList)
	s.mux.HandleFunc("GET /assets/{id}", s.handleAsset)
	s.mux.HandleFunc("DELETE /assets/{id}", s.handleDelete)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves on lis until Shutdown is called.
func (s *Server) Start(lis net.Listener) error {
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Alive")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

type assetJSON struct {
	ID      string    `json:"id"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	SHA256  string    `json:"sha256,omitempty"`
	Source  string    `json:"source,omitempty"`
	Origin  string    `json:"origin,omitempty"`
}

func toJSON(a store.Asset, e *catalog.Entry) assetJSON {
	out := assetJSON{ID: a.ID, Size: a.Size, ModTime: a.ModTime, SHA256: a.SHA256}
	if e != nil {
		out.Source = string(e.Source)
		out.Origin = e.Origin
		// only trust the catalog checksum when it describes the same bytes
		if out.SHA256 == "" && e.Size == a.Size {
			out.SHA256 = e.SHA256
		}
	}
	return out
}

/*
handleUpload streams the multipart "file" field straight into the store.
An optional "id" field, sent before "file", overrides the filename.

400 when the body is not multipart, has no file or yields no usable id.
413 when the body exceeds the upload limit or the store's per-asset limit.
507 when the disk is full, 500 for any other write failure.
*/
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart/form-data", http.StatusBadRequest)
		return
	}

	var explicitID string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if err != nil {
			if isTooLarge(err) {
				http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "malformed multipart body", http.StatusBadRequest)
			return
		}

		switch part.FormName() {
		case "id":
			b, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				part.Close()
				if isTooLarge(err) {
					http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "malformed id field", http.StatusBadRequest)
				return
			}
			explicitID = string(b)
		case "file":
			name := explicitID
			if name == "" {
				name = part.FileName()
			}
			s.storeUpload(w, r, name, part)
			part.Close()
			return
		}
		part.Close()
	}
}

func (s *Server) storeUpload(w http.ResponseWriter, r *http.Request, name string, body io.Reader) {
	id, err := store.SanitizeID(name)
	if err != nil {
		http.Error(w, "invalid asset id", http.StatusBadRequest)
		return
	}
	log := s.logger.With(zap.String("asset", id))

	asset, err := s.store.Put(r.Context(), id, body)
	if err != nil {
		log.Error("upload failed", zap.Error(err))
		switch {
		case isTooLarge(err), errors.Is(err, store.ErrTooLarge):
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, syscall.ENOSPC):
			http.Error(w, "storage full", http.StatusInsufficientStorage)
		case errors.Is(err, store.ErrInvalidID):
			http.Error(w, "invalid asset id", http.StatusBadRequest)
		default:
			http.Error(w, "failed to store asset", http.StatusInternalServerError)
		}
		return
	}
	log.Info("asset committed", zap.Int64("size", asset.Size))

	entry := catalog.Entry{
		ID:          asset.ID,
		Source:      catalog.SourceWeb,
		Origin:      name,
		Size:        asset.Size,
		SHA256:      asset.SHA256,
		CommittedAt: asset.ModTime,
	}
	s.record(r.Context(), log, entry)
	s.publish(r.Context(), log, events.AssetEvent{
		ID:        asset.ID,
		Source:    string(catalog.SourceWeb),
		Op:        events.OpCommitted,
		Size:      asset.Size,
		SHA256:    asset.SHA256,
		Timestamp: asset.ModTime,
	})
	writeJSON(w, http.StatusCreated, toJSON(asset, &entry))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		http.Error(w, "failed to list assets", http.StatusInternalServerError)
		return
	}
	entries := make(map[string]*catalog.Entry)
	if s.catalog != nil {
		list, err := s.catalog.List(r.Context())
		if err != nil {
			s.logger.Warn("catalog list failed", zap.Error(err))
		}
		for i := range list {
			entries[list[i].ID] = &list[i]
		}
	}
	out := make([]assetJSON, 0, len(assets))
	for _, a := range assets {
		out = append(out, toJSON(a, entries[a.ID]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rc, a, err := s.store.Open(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	defer rc.Close()

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, a.ID, a.ModTime, rs)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	log := s.logger.With(zap.String("asset", id))
	log.Info("asset deleted")
	if s.catalog != nil {
		if err := s.catalog.Delete(r.Context(), id); err != nil && !errors.Is(err, catalog.ErrEntryNotFound) {
			log.Warn("catalog delete failed", zap.Error(err))
		}
	}
	s.publish(r.Context(), log, events.AssetEvent{
		ID:     id,
		Source: string(catalog.SourceWeb),
		Op:     events.OpDeleted,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, store.ErrAssetNotFound):
		http.Error(w, "asset not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidID):
		http.Error(w, "invalid asset id", http.StatusBadRequest)
	default:
		s.logger.Error("store failure", zap.String("asset", id), zap.Error(err))
		http.Error(w, "storage error", http.StatusInternalServerError)
	}
}

// record and publish are best effort: the asset is already committed.
func (s *Server) record(ctx context.Context, log *zap.Logger, e catalog.Entry) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Upsert(ctx, e); err != nil {
		log.Warn("catalog upsert failed", zap.Error(err))
	}
}

func (s *Server) publish(ctx context.Context, log *zap.Logger, e events.AssetEvent) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Warn("publish event failed", zap.Error(err))
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
