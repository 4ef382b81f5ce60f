// Package streamrelay forwards a streaming upstream response to the
// downstream caller. Once the dispatch engine has observed a 200 from
// the upstream call and fired its accounting, this package takes
// ownership of the response body and copies bytes to the downstream
// writer verbatim, as Server-Sent Events.
package streamrelay

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// ErrNoFlusher is returned when the downstream ResponseWriter cannot
// be flushed incrementally.
var ErrNoFlusher = errors.New("streamrelay: response writer does not support flushing")

// Relay copies resp.Body to w as chunks arrive, setting the SSE
// content type before the first write. Cancellation of ctx (the
// downstream caller disconnecting) stops the copy promptly. A mid-
// stream read or write error is returned to the caller for logging
// only; it never triggers a retry and never deactivates the candidate,
// since the downstream caller has already observed partial output.
func Relay(ctx context.Context, resp *http.Response, w http.ResponseWriter) error {
	defer resp.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrNoFlusher
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			flusher.Flush()
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
