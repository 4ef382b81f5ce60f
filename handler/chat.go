// Package handler implements the proxy's HTTP surface: decoding
// inbound OpenAI-shaped requests, handing them to the dispatch engine,
// and writing back whatever it returns.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/dispatch"
)

// peekRequest is the minimal shape of an OpenAI chat-completion request
// needed for dispatch and accounting; the rest of the body is
// forwarded to the upstream untouched.
type peekRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ChatHandler serves POST /v1/chat/completions.
type ChatHandler struct {
	Engine *dispatch.Engine
	Logger zerolog.Logger
}

func NewChatHandler(engine *dispatch.Engine, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{Engine: engine, Logger: logger}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var peek peekRequest
	if err := json.Unmarshal(body, &peek); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	req := dispatch.Request{
		Endpoint: dispatch.EndpointChat,
		Body:     body,
		Model:    peek.Model,
		Stream:   peek.Stream,
	}

	resp, err := h.Engine.Dispatch(r.Context(), req, w)
	if err != nil {
		writeDispatchError(w, h.Logger, err)
		return
	}

	if resp.Streamed {
		return
	}

	writeUpstreamResponse(w, resp)
}
