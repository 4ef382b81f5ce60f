package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/dispatch"
)

// writeError emits the proxy's own error envelope, used whenever there
// is no upstream body to relay.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message},
	})
}

// writeDispatchError maps a dispatch.Engine error to an HTTP response:
// a terminal upstream error is forwarded with its original status and
// body; empty-ring and attempt-exhaustion become synthesized 503/500
// responses.
func writeDispatchError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	// Checked first: exhaustion may wrap an empty-ring cause or a
	// key-fault response, and exhaustion is always 500. Only a bare
	// UpstreamError (a terminal retried non-200) passes through with
	// its original status and body.
	var allFailed *dispatch.AllAttemptsFailedError
	if errors.As(err, &allFailed) {
		logger.Error().Err(err).Msg("dispatch exhausted all attempts")
		writeError(w, http.StatusInternalServerError, "all upstream attempts failed")
		return
	}

	var upstream *dispatch.UpstreamError
	if errors.As(err, &upstream) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upstream.StatusCode)
		w.Write(upstream.Body)
		return
	}

	if errors.Is(err, dispatch.ErrNoKeysAvailable) {
		writeError(w, http.StatusServiceUnavailable, "no upstream keys available")
		return
	}

	logger.Error().Err(err).Msg("unexpected dispatch error")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeUpstreamResponse relays a successful, non-streamed dispatch
// response verbatim.
func writeUpstreamResponse(w http.ResponseWriter, resp *dispatch.Response) {
	for k, vs := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
