package domain

import "time"

// StageRunID — идентификатор одной попытки запуска stage.
// Не путать со StageID: один stage может иметь несколько stage runs.
type StageRunID string

// StageRunView — то, что оркестратор знает о stage run.
//
// StageRunView — значение: переходы (Acknowledged, Launched, ...)
// возвращают новый экземпляр и не меняют исходный.
type StageRunView struct {
	// ID — уникальный идентификатор stage run.
	ID StageRunID `json:"stage_run_id"`

	// StageID — stage, который запускается.
	StageID StageID `json:"stage_id"`

	// FlowRunID — flow run, в рамках которого создан stage run.
	FlowRunID FlowRunID `json:"flow_run_id"`

	// Status — текущий статус.
	Status StageRunStatus `json:"status"`

	// ExecutorID — executor, принявший работу. Пустой, пока никто не принял.
	ExecutorID string `json:"executor_id,omitempty"`

	// CreatedAt — время создания stage run.
	CreatedAt time.Time `json:"created_at"`

	// AcknowledgedAt — когда executor принял работу.
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	// StartedAt — когда выполнение фактически началось.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — когда stage run достиг финального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewStageRunView создаёт stage run в статусе REQUESTED.
func NewStageRunView(id StageRunID, stageID StageID, flowRunID FlowRunID, now time.Time) StageRunView {
	return StageRunView{
		ID:        id,
		StageID:   stageID,
		FlowRunID: flowRunID,
		Status:    StageRunStatusRequested,
		CreatedAt: now,
	}
}

// HasExecutor возвращает true, если executor уже назначен.
func (v StageRunView) HasExecutor() bool {
	return v.ExecutorID != ""
}

// Acknowledged — executor принял работу.
func (v StageRunView) Acknowledged(executorID string, at time.Time) StageRunView {
	v.Status = StageRunStatusAcknowledged
	v.ExecutorID = executorID
	v.AcknowledgedAt = &at
	return v
}

// Launched — выполнение началось.
func (v StageRunView) Launched(at time.Time) StageRunView {
	v.Status = StageRunStatusRunning
	v.StartedAt = &at
	return v
}

// Succeeded — stage выполнен успешно.
func (v StageRunView) Succeeded(at time.Time) StageRunView {
	v.Status = StageRunStatusSuccess
	v.FinishedAt = &at
	return v
}

// Failed — stage завершился с ошибкой.
func (v StageRunView) Failed(at time.Time) StageRunView {
	v.Status = StageRunStatusFailed
	v.FinishedAt = &at
	return v
}

// Cancelled — stage отменён.
func (v StageRunView) Cancelled(at time.Time) StageRunView {
	v.Status = StageRunStatusCancelled
	v.FinishedAt = &at
	return v
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если stage ещё не стартовал или не завершён.
func (v StageRunView) Duration() time.Duration {
	if v.StartedAt == nil || v.FinishedAt == nil {
		return 0
	}
	return v.FinishedAt.Sub(*v.StartedAt)
}
