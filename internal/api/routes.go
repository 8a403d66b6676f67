package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Flow runs
	mux.Handle("POST /api/v1/flows/{id}/runs", chain(http.HandlerFunc(h.StartRun)))
	mux.Handle("GET /api/v1/flows/{id}/runs", chain(http.HandlerFunc(h.ListActiveRuns)))
	mux.Handle("GET /api/v1/flowruns/{id}", chain(http.HandlerFunc(h.GetFlowRun)))

	// Stage run events
	mux.Handle("POST /api/v1/flowruns/{id}/events", chain(http.HandlerFunc(h.PostEvent)))
}
