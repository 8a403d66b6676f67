package domain

// FlowRunStatus — агрегированный статус flow run.
//
// Жизненный цикл:
//
//	NEW → PENDING_START → RUNNING → SUCCESS
//	                             ↘ FAILED
//	                             ↘ CANCELLED
//
// Статус не выставляется напрямую: он выводится из статусов stage runs
// (см. flowrun.ResolveStatus).
type FlowRunStatus string

const (
	// FlowRunStatusNew — run создан, ни один stage ещё не подтверждён executor'ом.
	FlowRunStatusNew FlowRunStatus = "NEW"

	// FlowRunStatusPendingStart — executor принял работу, но ничего ещё не запущено.
	FlowRunStatusPendingStart FlowRunStatus = "PENDING_START"

	// FlowRunStatusRunning — хотя бы один stage выполняется или уже завершился успешно.
	FlowRunStatusRunning FlowRunStatus = "RUNNING"

	// FlowRunStatusSuccess — все stage runs завершились успешно.
	FlowRunStatusSuccess FlowRunStatus = "SUCCESS"

	// FlowRunStatusFailed — хотя бы один stage run упал.
	FlowRunStatusFailed FlowRunStatus = "FAILED"

	// FlowRunStatusCancelled — хотя бы один stage run отменён.
	FlowRunStatusCancelled FlowRunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
// Финальный статус поглощающий: никакое событие stage его не меняет.
func (s FlowRunStatus) IsTerminal() bool {
	switch s {
	case FlowRunStatusSuccess, FlowRunStatusFailed, FlowRunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsProblem возвращает true для FAILED и CANCELLED.
// В таком run всё, что ещё стартует, должно быть отменено.
func (s FlowRunStatus) IsProblem() bool {
	return s == FlowRunStatusFailed || s == FlowRunStatusCancelled
}

// StageRunStatus — статус одного stage run.
//
// Жизненный цикл:
//
//	REQUESTED → ACKNOWLEDGED → RUNNING → SUCCESS
//	                                   ↘ FAILED
//	(из любого нефинального) → CANCELLED
type StageRunStatus string

const (
	// StageRunStatusRequested — stage run создан, команда старта отправлена executor'ам.
	StageRunStatusRequested StageRunStatus = "REQUESTED"

	// StageRunStatusAcknowledged — executor принял работу, но ещё не начал.
	StageRunStatusAcknowledged StageRunStatus = "ACKNOWLEDGED"

	// StageRunStatusRunning — executor начал выполнение.
	StageRunStatusRunning StageRunStatus = "RUNNING"

	// StageRunStatusSuccess — stage выполнен успешно.
	StageRunStatusSuccess StageRunStatus = "SUCCESS"

	// StageRunStatusFailed — stage завершился с ошибкой.
	StageRunStatusFailed StageRunStatus = "FAILED"

	// StageRunStatusCancelled — stage отменён.
	StageRunStatusCancelled StageRunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StageRunStatus) IsTerminal() bool {
	switch s {
	case StageRunStatusSuccess, StageRunStatusFailed, StageRunStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseFlowRunStatus парсит строку в FlowRunStatus.
// Неизвестное значение трактуется как NEW.
func ParseFlowRunStatus(s string) FlowRunStatus {
	switch FlowRunStatus(s) {
	case FlowRunStatusPendingStart, FlowRunStatusRunning, FlowRunStatusSuccess,
		FlowRunStatusFailed, FlowRunStatusCancelled:
		return FlowRunStatus(s)
	default:
		return FlowRunStatusNew
	}
}
