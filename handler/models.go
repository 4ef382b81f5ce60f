package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Inblac/gpt-proxy/dispatch"
)

// ModelsHandler serves GET /v1/models, dispatched through the same
// retry/rotation machinery as chat completions. The only difference is
// the endpoint and the absence of a request body.
type ModelsHandler struct {
	Engine *dispatch.Engine
	Logger zerolog.Logger
}

func NewModelsHandler(engine *dispatch.Engine, logger zerolog.Logger) *ModelsHandler {
	return &ModelsHandler{Engine: engine, Logger: logger}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Engine.Dispatch(r.Context(), dispatch.Request{Endpoint: dispatch.EndpointModels}, w)
	if err != nil {
		writeDispatchError(w, h.Logger, err)
		return
	}
	writeUpstreamResponse(w, resp)
}
