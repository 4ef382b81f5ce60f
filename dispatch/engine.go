// Package dispatch implements the per-request retry loop that binds a
// candidate upstream key to a call, classifies the outcome, and drives
// key-health transitions. Upstream 401/403/429 and transport failures
// deactivate the candidate and rotate to the next key; any other
// non-200 is retried without deactivation.
package dispatch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/keypool"
	"github.com/Inblac/gpt-proxy/metrics"
	"github.com/Inblac/gpt-proxy/selector"
	"github.com/Inblac/gpt-proxy/streamrelay"
	"github.com/Inblac/gpt-proxy/upstream"
	"github.com/Inblac/gpt-proxy/usage"
)

// Endpoint selects which upstream call a Request targets.
type Endpoint int

const (
	EndpointChat Endpoint = iota
	EndpointModels
)

// Request describes one downstream call bound for dispatch.
type Request struct {
	Endpoint Endpoint
	Body     []byte // nil for EndpointModels
	Model    string // parsed out of Body for accounting; empty if unknown
	Stream   bool
}

// Response is the outcome of a successful, non-streaming dispatch.
// When Streamed is true, bytes were already written to the
// http.ResponseWriter passed to Dispatch and the caller must not write
// anything further.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Streamed   bool
}

// Engine ties together the Key Repository, Key Selector and Usage
// Accountant around one upstream.Client.
type Engine struct {
	Repo       keypool.Repository
	Selector   *selector.Selector
	Accountant *usage.Accountant
	Upstream   *upstream.Client
	Logger     zerolog.Logger

	// Metrics is optional; a nil Metrics disables outcome tracking.
	Metrics *metrics.Registry

	MaxRetries        int
	DispatchTimeout   time.Duration
	InterAttemptDelay time.Duration
}

// WithMetrics attaches a metrics.Registry that every dispatch outcome
// is reported to.
func (e *Engine) WithMetrics(reg *metrics.Registry) *Engine {
	e.Metrics = reg
	return e
}

func (e *Engine) trackOutcome(name string) {
	if e.Metrics != nil {
		e.Metrics.TrackDispatchOutcome(name)
	}
}

// New returns an Engine with the default retry count, per-attempt
// timeout and inter-attempt delay filled in.
func New(repo keypool.Repository, sel *selector.Selector, acct *usage.Accountant, up *upstream.Client, logger zerolog.Logger) *Engine {
	return &Engine{
		Repo:              repo,
		Selector:          sel,
		Accountant:        acct,
		Upstream:          up,
		Logger:            logger,
		MaxRetries:        5,
		DispatchTimeout:   30 * time.Second,
		InterAttemptDelay: 100 * time.Millisecond,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeKeyFault
	outcomeOtherUpstream
)

func classify(statusCode int) outcome {
	switch {
	case statusCode == http.StatusOK:
		return outcomeSuccess
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden, statusCode == http.StatusTooManyRequests:
		return outcomeKeyFault
	default:
		return outcomeOtherUpstream
	}
}

// Dispatch runs the retry loop. w is only consulted for streaming
// requests (req.Stream == true): the stream relay takes ownership of
// it after a 200 is observed.
func (e *Engine) Dispatch(ctx context.Context, req Request, w http.ResponseWriter) (*Response, error) {
	maxRetries := e.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastUpstream *UpstreamError
	var lastCause error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			time.Sleep(e.InterAttemptDelay)
		}

		candidate, ok := e.Selector.Next(ctx)
		if !ok {
			if attempt == 1 {
				e.trackOutcome("no_keys_available")
				return nil, ErrNoKeysAvailable
			}
			lastCause = ErrNoKeysAvailable
			continue
		}

		resp, cancelCall, err := e.call(ctx, candidate, req)
		if err != nil {
			e.deactivate(ctx, candidate, "transport_error")
			lastCause = err
			e.trackOutcome("transport_error")
			e.Logger.Warn().Str("key_id", candidate.ID).Err(err).Int("attempt", attempt).Msg("dispatch transport error")
			continue
		}

		switch classify(resp.StatusCode) {
		case outcomeSuccess:
			e.trackOutcome("success")
			return e.handleSuccess(ctx, candidate, req, resp, cancelCall, w)

		case outcomeKeyFault:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancelCall()
			e.deactivate(ctx, candidate, "key_fault")
			lastCause = &UpstreamError{StatusCode: resp.StatusCode, Body: body}
			e.trackOutcome("key_fault")
			e.Logger.Info().Str("key_id", candidate.ID).Int("status", resp.StatusCode).Msg("key deactivated on upstream auth/rate-limit error")

		case outcomeOtherUpstream:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancelCall()
			lastUpstream = &UpstreamError{StatusCode: resp.StatusCode, Body: body}
			e.trackOutcome("other_upstream_error")
			e.Logger.Warn().Str("key_id", candidate.ID).Int("status", resp.StatusCode).Msg("upstream error, retrying with next key")
		}
	}

	if lastUpstream != nil {
		return nil, lastUpstream
	}
	e.trackOutcome("all_attempts_failed")
	return nil, &AllAttemptsFailedError{Cause: lastCause}
}

// call issues one upstream attempt. The dispatch timeout bounds only
// the wait for the initial response: once headers have arrived the
// timer is stopped, so a long-running stream is not cut off at the
// attempt deadline. The returned cancel releases the call's context
// and must be invoked once the body has been fully consumed.
func (e *Engine) call(ctx context.Context, candidate keypool.UpstreamKey, req Request) (*http.Response, context.CancelFunc, error) {
	callCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(e.DispatchTimeout, cancel)

	var resp *http.Response
	var err error
	switch req.Endpoint {
	case EndpointModels:
		resp, err = e.Upstream.Models(callCtx, candidate.Secret)
	default:
		resp, err = e.Upstream.ChatCompletions(callCtx, candidate.Secret, req.Body)
	}
	timer.Stop()
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// handleSuccess fires the accounting side effects before returning
// control to the caller (or, for streaming, before the first byte is
// forwarded).
func (e *Engine) handleSuccess(ctx context.Context, candidate keypool.UpstreamKey, req Request, resp *http.Response, cancelCall context.CancelFunc, w http.ResponseWriter) (*Response, error) {
	defer cancelCall()

	now := time.Now().UTC()
	e.recordSuccess(ctx, candidate.ID, req.Model, now)

	if req.Stream {
		if err := streamrelay.Relay(ctx, resp, w); err != nil {
			e.Logger.Warn().Str("key_id", candidate.ID).Err(err).Msg("stream relay ended with error after bytes were flowing")
		}
		return &Response{StatusCode: http.StatusOK, Streamed: true}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AllAttemptsFailedError{Cause: err}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// recordSuccess performs the accountant + repository bookkeeping for a
// successful dispatch. These side effects must not fail the request:
// storage errors here are logged and swallowed.
func (e *Engine) recordSuccess(ctx context.Context, keyID, model string, now time.Time) {
	e.Accountant.Record(keyID, now)

	if _, err := e.Repo.TouchLastUsed(ctx, keyID); err != nil {
		e.Logger.Error().Err(err).Str("key_id", keyID).Msg("touch_last_used failed")
	}
	if _, err := e.Repo.IncrementTotalRequests(ctx, keyID); err != nil {
		e.Logger.Error().Err(err).Str("key_id", keyID).Msg("increment_total_requests failed")
	}
	if err := e.Repo.AppendLog(ctx, keyID, model, "success"); err != nil {
		e.Logger.Error().Err(err).Str("key_id", keyID).Msg("append_log failed")
	}
}

// deactivate transitions a candidate Active -> Inactive and triggers a
// ring rebuild. Rebuild errors are logged, not surfaced; the stale
// ring is still safe to use.
func (e *Engine) deactivate(ctx context.Context, candidate keypool.UpstreamKey, reason string) {
	if _, err := e.Repo.SetStatus(ctx, candidate.ID, keypool.StatusInactive); err != nil {
		e.Logger.Error().Err(err).Str("key_id", candidate.ID).Str("reason", reason).Msg("set_status failed")
	}
	if err := e.Selector.Rebuild(ctx); err != nil {
		e.Logger.Error().Err(err).Msg("selector rebuild after deactivation failed")
		return
	}
	if e.Metrics != nil {
		e.Metrics.SetActiveKeyCount(e.Selector.Len())
	}
}
