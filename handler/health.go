package handler

import "net/http"

// Health serves GET /healthz, a liveness probe with no dependency on
// upstream reachability.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
