package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"
)

type fakeReader struct {
	mu   sync.Mutex
	msgs []kafka.Message
	errs []error // returned before the next message, if any
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return kafka.Message{}, err
	}
	if len(f.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) Close() error { return nil }

func TestConsumerKeepsGoingAfterFailures(t *testing.T) {
	r := &fakeReader{
		errs: []error{errors.New("broker hiccup")},
		msgs: []kafka.Message{
			{Key: []byte("1"), Value: []byte("bad")},
			{Key: []byte("2"), Value: []byte("good")},
		},
	}
	var handled []string
	h := MessageHandlerFunc(func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, string(msg.Value))
		if string(msg.Value) == "bad" {
			return errors.New("cannot decode")
		}
		return nil
	})

	c := newConsumer(r, h, zaptest.NewLogger(t))
	c.backoff = time.Millisecond
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(handled) != 2 || handled[1] != "good" {
		t.Fatalf("expected both messages handled, got %v", handled)
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeReader{errs: []error{context.Canceled}}
	c := newConsumer(r, MessageHandlerFunc(func(context.Context, kafka.Message) error { return nil }), zaptest.NewLogger(t))
	if err := c.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestEncodeEvent(t *testing.T) {
	msg, err := encodeEvent(AssetEvent{ID: "clip1", Source: "web", Op: OpCommitted, Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "clip1" {
		t.Fatalf("expected key clip1, got %q", msg.Key)
	}
	var e AssetEvent
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		t.Fatal(err)
	}
	if e.Op != OpCommitted || e.Timestamp.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}
