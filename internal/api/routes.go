package api

import (
	"net/http"
)

// RegisterRoutes регистрирует маршруты ops API.
// API только читает: управление правилами живёт у коллаборатора,
// управление воркерами — в CLI.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("GET /api/v1/stats", chain(http.HandlerFunc(h.GetStats)))
	mux.Handle("GET /api/v1/workers", chain(http.HandlerFunc(h.ListWorkers)))
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /api/v1/rate-limits", chain(http.HandlerFunc(h.GetRateLimits)))
}
