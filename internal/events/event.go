package events

import (
	"context"
	"time"
)

type Op string

const (
	OpCommitted Op = "committed"
	OpDeleted   Op = "deleted"
	OpFailed    Op = "failed"
)

// AssetEvent announces a change in the shared store. Events are informational:
// a consumer must still read the store to see the asset.
type AssetEvent struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Op        Op        `json:"op"`
	Size      int64     `json:"size,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, e AssetEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AssetEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }
