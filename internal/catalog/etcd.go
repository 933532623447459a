package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdCatalog stores each entry as JSON under prefix+id.
type EtcdCatalog struct {
	client *clientv3.Client
	prefix string
}

var _ Catalog = (*EtcdCatalog)(nil)

// NewEtcdCatalog connects to a comma separated list of endpoints.
func NewEtcdCatalog(endpoints string) (*EtcdCatalog, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdCatalog{client: cli, prefix: "assets/"}, nil
}

func (c *EtcdCatalog) Upsert(ctx context.Context, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	// a plain put is last-writer-wins, same as the store's rename
	if _, err := c.client.Put(ctx, c.prefix+e.ID, string(val)); err != nil {
		return fmt.Errorf("etcd put %q: %w", e.ID, err)
	}
	return nil
}

func (c *EtcdCatalog) Read(ctx context.Context, id string) (*Entry, error) {
	resp, err := c.client.Get(ctx, c.prefix+id)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	var e Entry
	if err := json.Unmarshal(resp.Kvs[0].Value, &e); err != nil {
		return nil, fmt.Errorf("decode entry %q: %w", id, err)
	}
	return &e, nil
}

func (c *EtcdCatalog) List(ctx context.Context) ([]Entry, error) {
	resp, err := c.client.Get(ctx, c.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var e Entry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			return nil, fmt.Errorf("decode entry %q: %w", strings.TrimPrefix(string(kv.Key), c.prefix), err)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CommittedAt.After(entries[j].CommittedAt)
	})
	return entries, nil
}

func (c *EtcdCatalog) Delete(ctx context.Context, id string) error {
	resp, err := c.client.Delete(ctx, c.prefix+id)
	if err != nil {
		return err
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

func (c *EtcdCatalog) Close() error { return c.client.Close() }
