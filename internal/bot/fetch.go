package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"teradrop/internal/store"
)

// progressStep is how many percent must pass between progress log lines.
const progressStep = 7.0

// Fetcher streams a remote file straight into the store; nothing is buffered
// on disk outside the store's own temp file.
type Fetcher struct {
	client *http.Client
	store  store.Store
}

func NewFetcher(client *http.Client, st store.Store) *Fetcher {
	return &Fetcher{client: client, store: st}
}

func (f *Fetcher) Fetch(ctx context.Context, link, id string, log *zap.Logger) (store.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return store.Asset{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return store.Asset{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return store.Asset{}, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	pr := &progressReader{r: resp.Body, total: resp.ContentLength, start: time.Now(), log: log}
	asset, err := f.store.Put(ctx, id, pr)
	if err != nil {
		return store.Asset{}, err
	}
	log.Info("download complete",
		zap.String("size", humanize.Bytes(uint64(asset.Size))),
		zap.Duration("elapsed", time.Since(pr.start)))
	return asset, nil
}

type progressReader struct {
	r       io.Reader
	total   int64 // -1 when unknown
	done    int64
	lastPct float64
	start   time.Time
	log     *zap.Logger
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.total > 0 {
		pct := 100 * float64(p.done) / float64(p.total)
		if pct-p.lastPct >= progressStep {
			p.lastPct = pct
			elapsed := time.Since(p.start).Seconds()
			var speed uint64
			if elapsed > 0 {
				speed = uint64(float64(p.done) / elapsed)
			}
			p.log.Info("downloading",
				zap.String("progress", fmt.Sprintf("%.2f%%", pct)),
				zap.String("done", humanize.Bytes(uint64(p.done))),
				zap.String("total", humanize.Bytes(uint64(p.total))),
				zap.String("speed", humanize.Bytes(speed)+"/s"))
		}
	}
	return n, err
}
