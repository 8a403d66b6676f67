package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/stagerun"
	"github.com/shaiso/flowruns/internal/telemetry"
)

// StartRun запускает flow run.
// POST /api/v1/flows/{id}/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("id")

	// Тело необязательно
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	roots := make([]domain.StageID, 0, len(req.RootStageIDs))
	for _, id := range req.RootStageIDs {
		roots = append(roots, domain.StageID(id))
	}

	run, err := h.flowRuns.StartRun(r.Context(), flowID, roots)
	if HandleServiceError(w, telemetry.FromContext(r.Context(), h.logger), err) {
		return
	}

	Created(w, FlowRunFromDomain(run))
}

// ListActiveRuns возвращает нефинальные runs flow.
// GET /api/v1/flows/{id}/runs
func (h *Handler) ListActiveRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.flowRuns.ActiveRuns(r.Context(), r.PathValue("id"))
	if HandleServiceError(w, telemetry.FromContext(r.Context(), h.logger), err) {
		return
	}

	result := make([]FlowRunResponse, len(runs))
	for i, run := range runs {
		result[i] = FlowRunFromDomain(run)
	}
	List(w, result, len(result))
}

// GetFlowRun возвращает flow run по ID.
// GET /api/v1/flowruns/{id}
func (h *Handler) GetFlowRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.flowRuns.GetByID(r.Context(), domain.FlowRunID(r.PathValue("id")))
	if HandleServiceError(w, telemetry.FromContext(r.Context(), h.logger), err) {
		return
	}

	Success(w, FlowRunFromDomain(run))
}

// PostEvent применяет событие stage run к flow run.
// POST /api/v1/flowruns/{id}/events
//
// Тело — stagerun.Envelope; flowRunId берётся из пути.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	flowRunID := domain.FlowRunID(r.PathValue("id"))

	var env stagerun.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if env.FlowRunID != "" && env.FlowRunID != flowRunID {
		BadRequest(w, fmt.Sprintf("flowRunId %s does not match path %s", env.FlowRunID, flowRunID))
		return
	}
	env.FlowRunID = flowRunID

	run, err := h.events.DispatchEnvelope(r.Context(), env)
	if HandleServiceError(w, telemetry.FromContext(r.Context(), h.logger), err) {
		return
	}

	Success(w, FlowRunFromDomain(run))
}
