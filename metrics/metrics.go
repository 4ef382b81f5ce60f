// Package metrics is a hand-rolled Prometheus-compatible registry and
// text-exposition handler covering the handful of series this system
// needs: dispatch outcomes, active key count, and usage window sizes.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing value.
type Counter struct{ value int64 }

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can go up and down, stored as micros for
// float-like precision under atomic int64 operations.
type Gauge struct{ value int64 }

func (g *Gauge) Set(v float64)  { atomic.StoreInt64(&g.value, int64(v*1e6)) }
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.value)) / 1e6 }

// labelKey produces a stable, sorted label string for a metric family.
func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// Registry is the process-wide metrics registry for the proxy.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]map[string]*Counter
	gauges   map[string]map[string]*Gauge
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]map[string]*Counter),
		gauges:   make(map[string]map[string]*Gauge),
	}
}

func (r *Registry) CounterInc(name string, labels map[string]string) {
	r.counter(name, labels).Inc()
}

func (r *Registry) GaugeSet(name string, labels map[string]string, v float64) {
	r.gauge(name, labels).Set(v)
}

func (r *Registry) counter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	r.mu.RLock()
	if byLabel, ok := r.counters[name]; ok {
		if c, ok := byLabel[key]; ok {
			r.mu.RUnlock()
			return c
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[name]; !ok {
		r.counters[name] = make(map[string]*Counter)
	}
	if _, ok := r.counters[name][key]; !ok {
		r.counters[name][key] = &Counter{}
	}
	return r.counters[name][key]
}

func (r *Registry) gauge(name string, labels map[string]string) *Gauge {
	key := labelKey(labels)
	r.mu.RLock()
	if byLabel, ok := r.gauges[name]; ok {
		if g, ok := byLabel[key]; ok {
			r.mu.RUnlock()
			return g
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gauges[name]; !ok {
		r.gauges[name] = make(map[string]*Gauge)
	}
	if _, ok := r.gauges[name][key]; !ok {
		r.gauges[name][key] = &Gauge{}
	}
	return r.gauges[name][key]
}

// TrackDispatchOutcome increments the outcome counter the Dispatch
// Engine reports after each attempt (success, key_fault,
// other_upstream_error, transport_error, no_keys_available,
// all_attempts_failed).
func (r *Registry) TrackDispatchOutcome(outcome string) {
	r.CounterInc("gpt_proxy_dispatch_outcomes_total", map[string]string{"outcome": outcome})
}

// SetActiveKeyCount reports the current size of the Active ring.
func (r *Registry) SetActiveKeyCount(n int) {
	r.GaugeSet("gpt_proxy_active_keys", nil, float64(n))
}

// SetUpstreamRequestCounts reports the shared transport's cumulative
// request and transport-error counts.
func (r *Registry) SetUpstreamRequestCounts(requests, errors int64) {
	r.GaugeSet("gpt_proxy_upstream_requests", nil, float64(requests))
	r.GaugeSet("gpt_proxy_upstream_transport_errors", nil, float64(errors))
}

// SetUsageWindowSize reports the number of recorded timestamps
// currently held for a key's 24h usage window.
func (r *Registry) SetUsageWindowSize(keyID string, n int) {
	r.GaugeSet("gpt_proxy_usage_window_size", map[string]string{"key_id": keyID}, float64(n))
}

// Handler serves the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		r.mu.RLock()
		defer r.mu.RUnlock()

		for name, byLabel := range r.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for lk, c := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %d\n", name, c.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %d\n", name, lk, c.Value()))
				}
			}
		}
		for name, byLabel := range r.gauges {
			sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
			for lk, g := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %f\n", name, g.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %f\n", name, lk, g.Value()))
				}
			}
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}
