// Package validator probes upstream keys with a minimal chat call to
// flip a key back to Active once whatever made it fail has been
// resolved, and sweeps Inactive keys on a timer.
package validator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/keypool"
	"github.com/Inblac/gpt-proxy/selector"
	"github.com/Inblac/gpt-proxy/upstream"
)

// DefaultTimeout bounds a single probe call.
const DefaultTimeout = 15 * time.Second

// probeBody is a minimal chat-completion request: a tiny prompt against
// the cheapest available model is enough to confirm the secret is still
// accepted by the upstream.
var probeBody = []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"ping"}],"max_tokens":10}`)

// Validator probes individual keys against the upstream and flips their
// status based on the result. It never promotes a Revoked key back to
// Active; revocation is an operator-only, one-directional transition.
type Validator struct {
	Repo     keypool.Repository
	Selector *selector.Selector
	Upstream *upstream.Client
	Logger   zerolog.Logger
	Timeout  time.Duration
}

// New returns a Validator with the default probe timeout.
func New(repo keypool.Repository, sel *selector.Selector, up *upstream.Client, logger zerolog.Logger) *Validator {
	return &Validator{Repo: repo, Selector: sel, Upstream: up, Logger: logger, Timeout: DefaultTimeout}
}

// Result reports the outcome of probing one key. Detail carries the
// upstream's answer when the probe failed.
type Result struct {
	KeyID  string
	Active bool
	Detail string
}

// ValidateOne probes a single key by ID. A 200 response flips Inactive
// -> Active and triggers a ring rebuild; any other outcome ensures the
// key is Inactive (a no-op if it already was). Revoked keys are left
// untouched.
func (v *Validator) ValidateOne(ctx context.Context, id string) (Result, error) {
	key, err := v.Repo.GetByID(ctx, id)
	if err != nil {
		return Result{KeyID: id}, err
	}
	if key == nil {
		return Result{KeyID: id, Detail: "key not found"}, nil
	}
	if key.Status == keypool.StatusRevoked {
		return Result{KeyID: id, Detail: "key is revoked"}, nil
	}

	ok, detail := v.probe(ctx, key.Secret)
	res := Result{KeyID: key.ID, Active: ok, Detail: detail}

	target := keypool.StatusInactive
	if ok {
		target = keypool.StatusActive
	}
	if target == key.Status {
		return res, nil
	}

	if _, err := v.Repo.SetStatus(ctx, key.ID, target); err != nil {
		return res, err
	}
	v.Logger.Info().Str("key_id", key.ID).Str("status", string(target)).Msg("validator updated key status")
	return res, v.Selector.Rebuild(ctx)
}

// ValidateAllInactive sweeps every Inactive key once, rebuilding the
// ring a single time at the end rather than once per promoted key.
func (v *Validator) ValidateAllInactive(ctx context.Context) ([]Result, error) {
	all, err := v.Repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	promoted := 0
	for _, key := range all {
		if key.Status != keypool.StatusInactive {
			continue
		}
		ok, detail := v.probe(ctx, key.Secret)
		results = append(results, Result{KeyID: key.ID, Active: ok, Detail: detail})
		if !ok {
			continue
		}
		if _, err := v.Repo.SetStatus(ctx, key.ID, keypool.StatusActive); err != nil {
			v.Logger.Error().Err(err).Str("key_id", key.ID).Msg("failed to reactivate key")
			continue
		}
		promoted++
		v.Logger.Info().Str("key_id", key.ID).Msg("key reactivated by validator sweep")
	}

	if promoted == 0 {
		return results, nil
	}
	return results, v.Selector.Rebuild(ctx)
}

// probe issues the minimal chat-completion call and reports whether the
// upstream accepted the secret, with a human-readable detail on
// failure.
func (v *Validator) probe(ctx context.Context, secret string) (bool, string) {
	callCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	resp, err := v.Upstream.ChatCompletions(callCtx, secret, probeBody)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("upstream returned %d", resp.StatusCode)
	}
	return true, ""
}
