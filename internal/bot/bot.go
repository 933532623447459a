package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"teradrop/internal/catalog"
	"teradrop/internal/events"
	"teradrop/internal/store"
)

const defaultExt = ".mp4"

// Deps are the collaborators of a Bot. Only Store and Fetcher are required.
type Deps struct {
	Store     store.Store
	Fetcher   *Fetcher
	Catalog   catalog.Catalog
	Users     UserLedger
	Limiter   Limiter
	Resolver  Resolver
	Publisher events.Publisher
	Logger    *zap.Logger

	FetchTimeout time.Duration
}

// Bot turns fetch requests into committed assets in the shared store.
type Bot struct {
	Deps
}

var _ events.MessageHandler = (*Bot)(nil)

func New(d Deps) *Bot {
	if d.Resolver == nil {
		d.Resolver = DirectResolver{}
	}
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Bot{Deps: d}
}

// HandleMessage decodes one Kafka message and runs it through Handle.
func (b *Bot) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var req FetchRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	_, err := b.Handle(ctx, req)
	return err
}

// Handle runs the whole pipeline for one request. Every failure after
// validation is also announced as a failed event.
func (b *Bot) Handle(ctx context.Context, req FetchRequest) (store.Asset, error) {
	if err := req.Validate(); err != nil {
		return store.Asset{}, err
	}
	log := b.Logger.With(zap.Int64("user", req.UserID), zap.String("url", req.URL))

	asset, id, err := b.fetch(ctx, req, log)
	if err != nil {
		log.Warn("fetch request failed", zap.Error(err))
		b.publish(ctx, log, events.AssetEvent{
			ID:        id,
			Source:    string(catalog.SourceBot),
			Op:        events.OpFailed,
			UserID:    req.UserID,
			Reason:    err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return store.Asset{}, err
	}

	if b.Catalog != nil {
		err := b.Catalog.Upsert(ctx, catalog.Entry{
			ID:          asset.ID,
			Source:      catalog.SourceBot,
			Origin:      req.URL,
			Size:        asset.Size,
			SHA256:      asset.SHA256,
			CommittedAt: asset.ModTime,
		})
		if err != nil {
			log.Warn("catalog upsert failed", zap.Error(err))
		}
	}
	if b.Users != nil {
		if err := b.Users.RecordDownload(ctx, req.UserID, req.UserName); err != nil {
			log.Warn("record download failed", zap.Error(err))
		}
	}
	b.publish(ctx, log, events.AssetEvent{
		ID:        asset.ID,
		Source:    string(catalog.SourceBot),
		Op:        events.OpCommitted,
		Size:      asset.Size,
		SHA256:    asset.SHA256,
		UserID:    req.UserID,
		Timestamp: asset.ModTime,
	})
	log.Info("asset committed", zap.String("asset", asset.ID), zap.Int64("size", asset.Size))
	return asset, nil
}

func (b *Bot) fetch(ctx context.Context, req FetchRequest, log *zap.Logger) (store.Asset, string, error) {
	if b.Users != nil {
		banned, err := b.Users.IsBanned(ctx, req.UserID)
		if err != nil {
			return store.Asset{}, "", fmt.Errorf("ban lookup: %w", err)
		}
		if banned {
			return store.Asset{}, "", ErrBanned
		}
	}
	if b.Limiter != nil {
		ok, err := b.Limiter.Allow(ctx, strconv.FormatInt(req.UserID, 10))
		if err != nil {
			return store.Asset{}, "", fmt.Errorf("rate limit: %w", err)
		}
		if !ok {
			return store.Asset{}, "", ErrRateLimited
		}
	}

	src, err := b.Resolver.Resolve(ctx, req.URL)
	if err != nil {
		return store.Asset{}, "", fmt.Errorf("resolve: %w", err)
	}
	title := src.Title
	if req.Name != "" {
		title = req.Name
	}
	id, err := AssetID(title)
	if err != nil {
		return store.Asset{}, "", err
	}

	if b.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.FetchTimeout)
		defer cancel()
	}
	log.Info("fetching", zap.String("asset", id))
	asset, err := b.Fetcher.Fetch(ctx, src.URL, id, log.With(zap.String("asset", id)))
	if err != nil {
		return store.Asset{}, id, err
	}
	return asset, id, nil
}

// AssetID turns a title into a store id, adding a video extension when the
// title carries none.
func AssetID(title string) (string, error) {
	id, err := store.SanitizeID(title)
	if err != nil {
		return "", err
	}
	if filepath.Ext(id) == "" {
		id += defaultExt
		if err := store.ValidateID(id); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (b *Bot) publish(ctx context.Context, log *zap.Logger, e events.AssetEvent) {
	// the request context may already be gone when reporting a failure
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := b.Publisher.Publish(ctx, e); err != nil {
		log.Warn("publish event failed", zap.Error(err))
	}
}
