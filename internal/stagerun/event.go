package stagerun

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
)

// EventType — тип события stage run.
type EventType string

// Типы событий.
const (
	// EventAcknowledgeRequest — executor принял работу.
	EventAcknowledgeRequest EventType = "ACKNOWLEDGE_REQUEST"

	// EventStartRun — executor начал выполнение.
	EventStartRun EventType = "START_RUN"

	// EventRunSuccessful — stage выполнен успешно.
	EventRunSuccessful EventType = "RUN_SUCCESSFUL"

	// EventRunFailed — stage завершился с ошибкой.
	EventRunFailed EventType = "RUN_FAILED"

	// EventRunCancelled — executor подтвердил отмену.
	EventRunCancelled EventType = "RUN_CANCELLED"
)

// Event — событие одного stage run.
type Event interface {
	// Type — тип события, по нему выбирается обработчик.
	Type() EventType

	// Target — stage run, к которому относится событие.
	Target() domain.StageRunID

	// Instant — когда событие произошло на стороне executor'а.
	Instant() time.Time
}

// Base — общие поля всех событий.
type Base struct {
	StageRunID domain.StageRunID
	At         time.Time
}

// Target реализует Event.
func (b Base) Target() domain.StageRunID { return b.StageRunID }

// Instant реализует Event.
func (b Base) Instant() time.Time { return b.At }

// AcknowledgeRequest — executor ExecutorID принял stage run.
type AcknowledgeRequest struct {
	Base
	ExecutorID string
}

// Type реализует Event.
func (AcknowledgeRequest) Type() EventType { return EventAcknowledgeRequest }

// StartRun — выполнение stage run началось.
type StartRun struct{ Base }

// Type реализует Event.
func (StartRun) Type() EventType { return EventStartRun }

// RunSuccessful — stage run завершён успешно.
type RunSuccessful struct{ Base }

// Type реализует Event.
func (RunSuccessful) Type() EventType { return EventRunSuccessful }

// RunFailed — stage run упал.
type RunFailed struct{ Base }

// Type реализует Event.
func (RunFailed) Type() EventType { return EventRunFailed }

// RunCancelled — stage run отменён.
type RunCancelled struct{ Base }

// Type реализует Event.
func (RunCancelled) Type() EventType { return EventRunCancelled }

// Envelope — JSON представление события на входе (RabbitMQ и HTTP).
//
//	{"eventType": "START_RUN", "flowRunId": "...", "stageRunId": "...", "instant": "2024-05-01T12:00:00Z"}
//
// executorId обязателен для ACKNOWLEDGE_REQUEST.
type Envelope struct {
	EventType  EventType         `json:"eventType"`
	FlowRunID  domain.FlowRunID  `json:"flowRunId,omitempty"`
	StageRunID domain.StageRunID `json:"stageRunId"`
	Instant    time.Time         `json:"instant"`
	ExecutorID string            `json:"executorId,omitempty"`
}

// NewEnvelope упаковывает событие для flow run.
func NewEnvelope(flowRunID domain.FlowRunID, ev Event) Envelope {
	env := Envelope{
		EventType:  ev.Type(),
		FlowRunID:  flowRunID,
		StageRunID: ev.Target(),
		Instant:    ev.Instant(),
	}
	if ack, ok := ev.(AcknowledgeRequest); ok {
		env.ExecutorID = ack.ExecutorID
	}
	return env
}

// ParseEnvelope разбирает JSON конверт.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return env, nil
}

// Event восстанавливает типизированное событие из конверта.
func (e Envelope) Event() (Event, error) {
	if e.StageRunID == "" {
		return nil, fmt.Errorf("%w: stageRunId is required", ErrInvalidEvent)
	}
	if e.Instant.IsZero() {
		return nil, fmt.Errorf("%w: instant is required", ErrInvalidEvent)
	}

	base := Base{StageRunID: e.StageRunID, At: e.Instant}

	switch e.EventType {
	case EventAcknowledgeRequest:
		if e.ExecutorID == "" {
			return nil, fmt.Errorf("%w: executorId is required for %s", ErrInvalidEvent, e.EventType)
		}
		return AcknowledgeRequest{Base: base, ExecutorID: e.ExecutorID}, nil
	case EventStartRun:
		return StartRun{Base: base}, nil
	case EventRunSuccessful:
		return RunSuccessful{Base: base}, nil
	case EventRunFailed:
		return RunFailed{Base: base}, nil
	case EventRunCancelled:
		return RunCancelled{Base: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
}
