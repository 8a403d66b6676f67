package domain

import (
	"encoding/json"
	"time"
)

// FlowRunID — идентификатор flow run. Назначается кэшем при добавлении.
type FlowRunID string

// FlowRun — один запуск flow.
//
// FlowRun — неизменяемый снимок. Любое изменение создаёт новое значение
// (WithStageRuns, WithStatus), которое кэш подменяет под блокировкой.
// Карта stage runs никогда не изменяется после создания снимка, поэтому
// копии FlowRun безопасно передавать между горутинами.
type FlowRun struct {
	// ID — идентификатор run. Пустой до добавления в кэш.
	ID FlowRunID

	// FlowID — flow, который выполняется.
	FlowID string

	// Status — агрегированный статус.
	Status FlowRunStatus

	// CreatedAt — время создания run.
	CreatedAt time.Time

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time

	// stageRuns — stage runs по их ID (не по StageID).
	stageRuns map[StageRunID]StageRunView
}

// NewFlowRun создаёт run в статусе NEW без stage runs.
func NewFlowRun(flowID string, now time.Time) FlowRun {
	return FlowRun{
		FlowID:    flowID,
		Status:    FlowRunStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
		stageRuns: map[StageRunID]StageRunView{},
	}
}

// WithID возвращает копию с заданным ID.
func (r FlowRun) WithID(id FlowRunID) FlowRun {
	r.ID = id
	return r
}

// WithStatus возвращает копию с новым статусом.
func (r FlowRun) WithStatus(status FlowRunStatus, now time.Time) FlowRun {
	r.Status = status
	r.UpdatedAt = now
	return r
}

// WithStageRuns возвращает копию, в которой patch наложен поверх текущих
// stage runs: записи patch перезаписывают по ключу, остальные сохраняются.
func (r FlowRun) WithStageRuns(patch map[StageRunID]StageRunView, now time.Time) FlowRun {
	merged := make(map[StageRunID]StageRunView, len(r.stageRuns)+len(patch))
	for id, view := range r.stageRuns {
		merged[id] = view
	}
	for id, view := range patch {
		merged[id] = view
	}
	r.stageRuns = merged
	r.UpdatedAt = now
	return r
}

// StageRun возвращает stage run по ID.
func (r FlowRun) StageRun(id StageRunID) (StageRunView, bool) {
	view, ok := r.stageRuns[id]
	return view, ok
}

// StageRuns возвращает копию карты stage runs.
func (r FlowRun) StageRuns() map[StageRunID]StageRunView {
	out := make(map[StageRunID]StageRunView, len(r.stageRuns))
	for id, view := range r.stageRuns {
		out[id] = view
	}
	return out
}

// StageRunCount возвращает количество stage runs.
func (r FlowRun) StageRunCount() int {
	return len(r.stageRuns)
}

// StageRunsOf возвращает все stage runs данного stage.
func (r FlowRun) StageRunsOf(stageID StageID) []StageRunView {
	var out []StageRunView
	for _, view := range r.stageRuns {
		if view.StageID == stageID {
			out = append(out, view)
		}
	}
	return out
}

// HasSucceeded проверяет, есть ли у stage успешный stage run.
func (r FlowRun) HasSucceeded(stageID StageID) bool {
	for _, view := range r.stageRuns {
		if view.StageID == stageID && view.Status == StageRunStatusSuccess {
			return true
		}
	}
	return false
}

// AllRunsAreTerminated возвращает true, если stage runs есть и все они
// в финальном статусе.
func (r FlowRun) AllRunsAreTerminated() bool {
	if len(r.stageRuns) == 0 {
		return false
	}
	for _, view := range r.stageRuns {
		if !view.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r FlowRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// flowRunJSON — сериализуемое представление FlowRun.
type flowRunJSON struct {
	ID        FlowRunID                   `json:"flow_run_id"`
	FlowID    string                      `json:"flow_id"`
	Status    FlowRunStatus               `json:"status"`
	StageRuns map[StageRunID]StageRunView `json:"stage_runs"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// MarshalJSON реализует json.Marshaler.
func (r FlowRun) MarshalJSON() ([]byte, error) {
	return json.Marshal(flowRunJSON{
		ID:        r.ID,
		FlowID:    r.FlowID,
		Status:    r.Status,
		StageRuns: r.StageRuns(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

// UnmarshalJSON реализует json.Unmarshaler.
func (r *FlowRun) UnmarshalJSON(data []byte) error {
	var raw flowRunJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.StageRuns == nil {
		raw.StageRuns = map[StageRunID]StageRunView{}
	}
	*r = FlowRun{
		ID:        raw.ID,
		FlowID:    raw.FlowID,
		Status:    ParseFlowRunStatus(string(raw.Status)),
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
		stageRuns: raw.StageRuns,
	}
	return nil
}
