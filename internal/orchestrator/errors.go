package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrUnexpectedMessage — в очередь пришло сообщение чужого типа.
	ErrUnexpectedMessage = errors.New("unexpected message type")

	// ErrAlreadyStarted — Start вызван повторно.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)
