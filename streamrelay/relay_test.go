package streamrelay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRelayForwardsChunksAndSetsSSEHeaders(t *testing.T) {
	resp := &http.Response{
		Body: io.NopCloser(bytes.NewBufferString("abc")),
	}
	rec := httptest.NewRecorder()

	if err := Relay(context.Background(), resp, rec); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if rec.Body.String() != "abc" {
		t.Fatalf("expected body %q, got %q", "abc", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
}

func TestRelayStopsOnContextCancellation(t *testing.T) {
	resp := &http.Response{
		Body: io.NopCloser(bytes.NewBufferString("abc")),
	}
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Relay(ctx, resp, rec)
	if err == nil {
		t.Fatalf("expected an error from a canceled context")
	}
}

func TestRelayReturnsErrNoFlusherForNonFlushingWriter(t *testing.T) {
	resp := &http.Response{Body: io.NopCloser(bytes.NewBufferString("x"))}
	w := &nonFlushingWriter{header: http.Header{}}

	err := Relay(context.Background(), resp, w)
	if err != ErrNoFlusher {
		t.Fatalf("expected ErrNoFlusher, got %v", err)
	}
}

type nonFlushingWriter struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func (w *nonFlushingWriter) Header() http.Header         { return w.header }
func (w *nonFlushingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *nonFlushingWriter) WriteHeader(status int)      { w.status = status }
