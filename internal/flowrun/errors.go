package flowrun

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/flowruns/internal/domain"
)

// Ошибки flow runs.
var (
	// ErrNotFound — flow run не найден в кэше.
	ErrNotFound = errors.New("flow run not found")

	// ErrFlowNotFound — flow не найден.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrInvalidRootStages — запрошенные stages не являются корнями графа.
	ErrInvalidRootStages = errors.New("invalid root stages")

	// ErrStartIncomplete — flow run создан, но его stages не запущены.
	ErrStartIncomplete = errors.New("flow run start incomplete")

	// ErrLockNotHeld — Update без своей неосвобождённой блокировки flow run.
	ErrLockNotHeld = errors.New("flow run lock not held")
)

// NotFoundError — flow run с данным ID отсутствует.
type NotFoundError struct {
	ID domain.FlowRunID
}

// Error реализует интерфейс error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flow run %s not found", e.ID)
}

// Unwrap возвращает ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// FlowNotFoundError — StartRun сослался на неизвестный flow.
type FlowNotFoundError struct {
	FlowID string
}

// Error реализует интерфейс error.
func (e *FlowNotFoundError) Error() string {
	return fmt.Sprintf("flow %s not found", e.FlowID)
}

// Unwrap возвращает ErrFlowNotFound.
func (e *FlowNotFoundError) Unwrap() error {
	return ErrFlowNotFound
}

// InvalidRootStagesError — часть запрошенных stages не корни графа.
type InvalidRootStagesError struct {
	FlowID string

	// StageIDs — stages, которые не являются корнями.
	StageIDs []domain.StageID
}

// Error реализует интерфейс error.
func (e *InvalidRootStagesError) Error() string {
	ids := make([]string, len(e.StageIDs))
	for i, id := range e.StageIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("flow %s: stages [%s] are not root stages", e.FlowID, strings.Join(ids, ", "))
}

// Unwrap возвращает ErrInvalidRootStages.
func (e *InvalidRootStagesError) Unwrap() error {
	return ErrInvalidRootStages
}

// StartIncompleteError — run FlowRunID создан и остался в NEW,
// запуск stages не завершился.
type StartIncompleteError struct {
	FlowRunID domain.FlowRunID
	Err       error
}

// Error реализует интерфейс error.
func (e *StartIncompleteError) Error() string {
	return fmt.Sprintf("flow run %s created but not started: %v", e.FlowRunID, e.Err)
}

// Unwrap возвращает ErrStartIncomplete и исходную ошибку.
func (e *StartIncompleteError) Unwrap() []error {
	return []error{ErrStartIncomplete, e.Err}
}
