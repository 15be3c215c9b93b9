package handlers

import "net/http"

// HealthCheck handles GET /health. Liveness only, deliberately outside the
// success/error envelope per spec.md §6.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
