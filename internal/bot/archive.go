package bot

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"teradrop/internal/events"
	"teradrop/internal/store"
)

// Archive keeps an off-host copy of committed assets.
type Archive interface {
	Upload(ctx context.Context, id string, r io.Reader, size int64) error
}

type MinioArchive struct {
	client *minio.Client
	bucket string
}

var _ Archive = (*MinioArchive)(nil)

func NewMinioArchive(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

func (a *MinioArchive) Upload(ctx context.Context, id string, r io.Reader, size int64) error {
	contentType := mime.TypeByExtension(filepath.Ext(id))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, a.bucket, "videos/"+id, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"asset": id},
	})
	return err
}

// Mirror copies every asset that becomes visible in the store into the archive,
// whichever process committed it.
type Mirror struct {
	store   store.Store
	archive Archive
	logger  *zap.Logger
	queue   chan string
}

func NewMirror(st store.Store, archive Archive, logger *zap.Logger) *Mirror {
	return &Mirror{store: st, archive: archive, logger: logger, queue: make(chan string, 256)}
}

// Run consumes watcher changes until ctx is done. Uploads happen on a separate
// goroutine so a slow archive never stalls the watcher.
func (m *Mirror) Run(ctx context.Context, w *events.Watcher) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.drain(ctx)
	}()
	err := w.Run(ctx, func(c events.Change) {
		if c.Op != events.OpCommitted {
			return
		}
		select {
		case m.queue <- c.ID:
		default:
			m.logger.Warn("mirror queue full, skipping", zap.String("asset", c.ID))
		}
	})
	cancel()
	<-done
	return err
}

func (m *Mirror) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			if err := m.Copy(ctx, id); err != nil {
				m.logger.Error("mirror failed", zap.String("asset", id), zap.Error(err))
			}
		}
	}
}

// Copy uploads one committed asset. The open handle pins the content even if
// the asset is replaced or deleted during the upload.
func (m *Mirror) Copy(ctx context.Context, id string) error {
	rc, a, err := m.store.Open(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := m.archive.Upload(ctx, a.ID, rc, a.Size); err != nil {
		return fmt.Errorf("archive upload: %w", err)
	}
	m.logger.Info("asset archived", zap.String("asset", a.ID), zap.Int64("size", a.Size))
	return nil
}
