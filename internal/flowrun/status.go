package flowrun

import "github.com/shaiso/flowruns/internal/domain"

// ResolveStatus выводит статус flow run из статусов его stage runs.
//
// Финальный статус поглощающий и возвращается без изменений.
// Иначе первое совпадение по порядку:
//
//  1. есть FAILED          → FAILED
//  2. есть CANCELLED       → CANCELLED
//  3. есть RUNNING         → RUNNING
//  4. все stage runs финальные → SUCCESS
//  5. статус NEW и есть ACKNOWLEDGED → PENDING_START
//  6. есть SUCCESS         → RUNNING
//  7. текущий статус
//
// Run без stage runs не считается завершённым (п. 4 не срабатывает).
func ResolveStatus(run domain.FlowRun) domain.FlowRunStatus {
	current := run.Status
	if current.IsTerminal() {
		return current
	}

	var failed, cancelled, running, acknowledged, successful bool
	for _, view := range run.StageRuns() {
		switch view.Status {
		case domain.StageRunStatusFailed:
			failed = true
		case domain.StageRunStatusCancelled:
			cancelled = true
		case domain.StageRunStatusRunning:
			running = true
		case domain.StageRunStatusAcknowledged:
			acknowledged = true
		case domain.StageRunStatusSuccess:
			successful = true
		}
	}

	switch {
	case failed:
		return domain.FlowRunStatusFailed
	case cancelled:
		return domain.FlowRunStatusCancelled
	case running:
		return domain.FlowRunStatusRunning
	case run.AllRunsAreTerminated():
		return domain.FlowRunStatusSuccess
	case current == domain.FlowRunStatusNew && acknowledged:
		return domain.FlowRunStatusPendingStart
	case successful:
		return domain.FlowRunStatusRunning
	default:
		return current
	}
}
