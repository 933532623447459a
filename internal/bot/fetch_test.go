package bot

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestProgressReaderLogsEverySevenPercent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	data := bytes.Repeat([]byte("v"), 1000)
	pr := &progressReader{
		r:     &chunkReader{data: data, n: 10},
		total: int64(len(data)),
		start: time.Now(),
		log:   zap.New(core),
	}
	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(data) {
		t.Fatalf("read %d bytes, want %d", len(got), len(data))
	}
	// 7, 14, ... 98
	if n := logs.FilterMessage("downloading").Len(); n != 14 {
		t.Fatalf("expected 14 progress lines, got %d", n)
	}
	first := logs.FilterMessage("downloading").All()[0].ContextMap()
	if first["progress"] != "7.00%" || first["total"] != "1.0 kB" {
		t.Fatalf("unexpected fields %v", first)
	}
}

func TestProgressReaderUnknownLength(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pr := &progressReader{
		r:     iotest.OneByteReader(bytes.NewReader([]byte("abc"))),
		total: -1,
		start: time.Now(),
		log:   zap.New(core),
	}
	if _, err := io.ReadAll(pr); err != nil {
		t.Fatal(err)
	}
	if pr.done != 3 || logs.Len() != 0 {
		t.Fatalf("done=%d logs=%d", pr.done, logs.Len())
	}
}

type chunkReader struct {
	data []byte
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := min(c.n, len(p), len(c.data))
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}
