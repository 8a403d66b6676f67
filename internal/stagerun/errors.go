package stagerun

import (
	"errors"
	"fmt"

	"github.com/shaiso/flowruns/internal/domain"
)

// Ошибки обработки событий.
var (
	// ErrUnknownStageRun — событие ссылается на stage run, которого нет в flow run.
	ErrUnknownStageRun = errors.New("unknown stage run")

	// ErrUnknownEventType — тип события не поддерживается.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidEvent — событие не удалось разобрать или в нём нет обязательных полей.
	ErrInvalidEvent = errors.New("invalid stage run event")
)

// UnknownStageRunError — stage run не был запрошен в рамках flow run.
// Нарушение протокола: flow run при этом не меняется.
type UnknownStageRunError struct {
	FlowRunID  domain.FlowRunID
	StageRunID domain.StageRunID
}

// Error реализует интерфейс error.
func (e *UnknownStageRunError) Error() string {
	return fmt.Sprintf("stage run %s is not part of flow run %s", e.StageRunID, e.FlowRunID)
}

// Unwrap возвращает ErrUnknownStageRun.
func (e *UnknownStageRunError) Unwrap() error {
	return ErrUnknownStageRun
}
