package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/dispatch"
	"github.com/Inblac/gpt-proxy/keypool"
	"github.com/Inblac/gpt-proxy/selector"
	"github.com/Inblac/gpt-proxy/upstream"
	"github.com/Inblac/gpt-proxy/usage"
)

func newEngine(t *testing.T, handlerFn http.HandlerFunc) (*dispatch.Engine, *keypool.MemoryRepository) {
	t.Helper()
	srv := httptest.NewServer(handlerFn)
	t.Cleanup(srv.Close)

	repo := keypool.NewMemoryRepository()
	sel := selector.New(repo, 10)
	acct := usage.New(0, 0)
	up := upstream.New(upstream.Config{ChatURL: srv.URL, ModelsURL: srv.URL})
	return dispatch.New(repo, sel, acct, up, zerolog.Nop()), repo
}

func TestChatHandlerHappyPath(t *testing.T) {
	engine, repo := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"chatcmpl-1"}`))
	})
	repo.Add(context.Background(), "sk-k1", "")
	engine.Selector.Rebuild(context.Background())

	h := NewChatHandler(engine, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"model":"gpt-4"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"id":"chatcmpl-1"}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestChatHandlerRejectsInvalidJSON(t *testing.T) {
	engine, _ := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be called for malformed input")
	})

	h := NewChatHandler(engine, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatHandlerSurfacesNoKeysAvailableAs503(t *testing.T) {
	engine, _ := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be called with an empty pool")
	})

	h := NewChatHandler(engine, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"model":"gpt-4"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestChatHandlerSurfacesExhaustionAs500(t *testing.T) {
	engine, repo := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	engine.MaxRetries = 2
	engine.InterAttemptDelay = 0
	repo.Add(context.Background(), "sk-only", "")
	engine.Selector.Rebuild(context.Background())

	// The only key faults on attempt 1 and the ring stays empty for
	// attempt 2: exhaustion, not the terminal empty-ring 503.
	h := NewChatHandler(engine, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"model":"gpt-4"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestChatHandlerPassesThroughPersistentUpstreamError(t *testing.T) {
	engine, repo := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream melted`))
	})
	engine.MaxRetries = 2
	engine.InterAttemptDelay = 0
	repo.Add(context.Background(), "sk-k1", "")
	engine.Selector.Rebuild(context.Background())

	h := NewChatHandler(engine, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"model":"gpt-4"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream 502 passed through, got %d", rec.Code)
	}
	if rec.Body.String() != "upstream melted" {
		t.Fatalf("expected upstream body passed through, got %q", rec.Body.String())
	}
}

func TestModelsHandlerHappyPath(t *testing.T) {
	engine, repo := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[]}`))
	})
	repo.Add(context.Background(), "sk-k1", "")
	engine.Selector.Rebuild(context.Background())

	h := NewModelsHandler(engine, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
