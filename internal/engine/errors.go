package engine

import (
	"errors"

	"github.com/shaiso/flowruns/internal/domain"
)

// Ошибки валидации определения flow.
var (
	// ErrEmptyStages — flow не содержит stages.
	ErrEmptyStages = errors.New("flow has no stages")

	// ErrEmptyStageID — stage не имеет ID.
	ErrEmptyStageID = errors.New("stage has empty ID")

	// ErrDuplicateStageID — несколько stages с одинаковым ID.
	ErrDuplicateStageID = errors.New("duplicate stage ID")

	// ErrMissingDependency — stage зависит от несуществующего stage.
	ErrMissingDependency = errors.New("stage depends on unknown stage")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — stage зависит от самого себя.
	ErrSelfDependency = errors.New("stage depends on itself")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StageID string // ID stage, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StageID != "" {
		return "stage " + e.StageID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stageID domain.StageID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StageID: string(stageID),
		Field:   field,
		Message: message,
		Err:     err,
	}
}
