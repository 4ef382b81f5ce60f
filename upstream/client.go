package upstream

import (
	"bytes"
	"context"
	"net/http"
	"sync/atomic"
)

// Config configures the upstream Client.
type Config struct {
	ChatURL   string
	ModelsURL string
	Pool      PoolConfig
}

// Client issues HTTP calls against the configured upstream, binding
// each call to whatever secret the caller supplies rather than fixing
// one API key at construction time.
type Client struct {
	httpClient *http.Client
	chatURL    string
	modelsURL  string
	metrics    *connMetrics
}

// New builds a Client sharing one transport across all calls.
func New(cfg Config) *Client {
	pool := cfg.Pool
	if pool == (PoolConfig{}) {
		pool = DefaultPoolConfig()
	}
	m := &connMetrics{}
	transport := newTransport(pool)
	return &Client{
		httpClient: &http.Client{Transport: &metricsRoundTripper{inner: transport, metrics: m}},
		chatURL:    cfg.ChatURL,
		modelsURL:  cfg.ModelsURL,
		metrics:    m,
	}
}

// ChatCompletions issues the chat-completions call with the given
// secret. The caller supplies ctx with whatever deadline applies (30s
// for a dispatch attempt, 15s for a validator probe). The response
// body is returned unread so both the non-streaming and streaming
// branches of the dispatch engine can handle it identically up to the
// point where they diverge.
func (c *Client) ChatCompletions(ctx context.Context, secret string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, secret)
	return c.httpClient.Do(req)
}

// Models issues the model-list call. It goes through the same
// retry/rotation machinery as chat completions.
func (c *Client) Models(ctx context.Context, secret string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelsURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, secret)
	return c.httpClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request, secret string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)
}

// Metrics reports the cumulative request and transport-error counts
// observed by the shared transport.
func (c *Client) Metrics() (requests, errors int64) {
	return atomic.LoadInt64(&c.metrics.totalRequests), atomic.LoadInt64(&c.metrics.totalErrors)
}

// CloseIdleConnections releases pooled connections on shutdown.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
