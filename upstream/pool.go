// Package upstream is the HTTP client for the single configurable
// OpenAI-compatible upstream this gateway fronts. One shared transport
// serves every call; the credential is supplied per call so the
// dispatch engine can swap it on each retry attempt.
package upstream

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// PoolConfig tunes the shared transport.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
}

// DefaultPoolConfig returns production-grade defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
	}
}

// connMetrics tracks coarse connection-pool utilization, read back via
// Client.Metrics.
type connMetrics struct {
	totalRequests int64
	totalErrors   int64
}

// newTransport builds one shared *http.Transport for the process.
func newTransport(cfg PoolConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// metricsRoundTripper wraps the shared transport to count requests and
// transport-level errors.
type metricsRoundTripper struct {
	inner   http.RoundTripper
	metrics *connMetrics
}

func (m *metricsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&m.metrics.totalRequests, 1)
	resp, err := m.inner.RoundTrip(req)
	if err != nil {
		atomic.AddInt64(&m.metrics.totalErrors, 1)
	}
	return resp, err
}
