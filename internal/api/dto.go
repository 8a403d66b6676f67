package api

import (
	"sort"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
)

// StartRunRequest — запрос на запуск flow run.
// Пустой rootStageIds — запуск всех корней.
type StartRunRequest struct {
	RootStageIDs []string `json:"rootStageIds,omitempty"`
}

// StageRunResponse — ответ со stage run.
type StageRunResponse struct {
	ID             string     `json:"id"`
	StageID        string     `json:"stage_id"`
	Status         string     `json:"status"`
	ExecutorID     string     `json:"executor_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
}

// StageRunFromDomain конвертирует domain.StageRunView в StageRunResponse.
func StageRunFromDomain(v domain.StageRunView) StageRunResponse {
	return StageRunResponse{
		ID:             string(v.ID),
		StageID:        string(v.StageID),
		Status:         string(v.Status),
		ExecutorID:     v.ExecutorID,
		CreatedAt:      v.CreatedAt,
		AcknowledgedAt: v.AcknowledgedAt,
		StartedAt:      v.StartedAt,
		FinishedAt:     v.FinishedAt,
		DurationMs:     v.Duration().Milliseconds(),
	}
}

// FlowRunResponse — ответ с flow run.
type FlowRunResponse struct {
	ID        string             `json:"id"`
	FlowID    string             `json:"flow_id"`
	Status    string             `json:"status"`
	StageRuns []StageRunResponse `json:"stage_runs"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// FlowRunFromDomain конвертирует domain.FlowRun в FlowRunResponse.
// Stage runs упорядочены по времени создания, затем по stage.
func FlowRunFromDomain(r domain.FlowRun) FlowRunResponse {
	views := r.StageRuns()
	stageRuns := make([]StageRunResponse, 0, len(views))
	for _, v := range views {
		stageRuns = append(stageRuns, StageRunFromDomain(v))
	}
	sort.Slice(stageRuns, func(i, j int) bool {
		a, b := stageRuns[i], stageRuns[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.StageID != b.StageID {
			return a.StageID < b.StageID
		}
		return a.ID < b.ID
	})

	return FlowRunResponse{
		ID:        string(r.ID),
		FlowID:    r.FlowID,
		Status:    string(r.Status),
		StageRuns: stageRuns,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
