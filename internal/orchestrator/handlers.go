package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/flowrun"
	"github.com/shaiso/flowruns/internal/mq"
	"github.com/shaiso/flowruns/internal/stagerun"
)

// handleStageEvent обрабатывает событие stage run.
//
// Нечитаемое событие уходит в DLQ. Событие для неизвестного flow run
// или stage run подтверждается и логируется: повтор ничего не изменит.
// Прочие ошибки (БД, отмена ctx) возвращают сообщение в очередь.
func (o *Orchestrator) handleStageEvent(ctx context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeStageRunEvent {
		return mq.Reject(fmt.Errorf("%w: %s", ErrUnexpectedMessage, d.Message.Type))
	}

	env, err := mq.ParsePayload[stagerun.Envelope](&d.Message)
	if err != nil {
		return mq.Reject(err)
	}

	logger := o.logger.With(
		"message_id", d.Message.ID,
		"flow_run_id", env.FlowRunID,
		"stage_run_id", env.StageRunID,
		"event_type", env.EventType,
	)

	run, err := o.events.DispatchEnvelope(ctx, env)
	switch {
	case err == nil:
		logger.Debug("stage event processed", "flow_run_status", run.Status)
		return nil
	case errors.Is(err, stagerun.ErrInvalidEvent), errors.Is(err, stagerun.ErrUnknownEventType):
		return mq.Reject(err)
	case stagerun.IsProtocolError(err):
		logger.Warn("stage event ignored", "error", err)
		return nil
	default:
		return err
	}
}

// handleFlowRunStart обрабатывает запрос на запуск flow run.
//
// Неизвестный flow или некорректные корни уходят в DLQ. Туда же
// уходит запрос, для которого run уже создан, но не запущен: повтор
// создал бы ещё один run.
func (o *Orchestrator) handleFlowRunStart(ctx context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeFlowRunStart {
		return mq.Reject(fmt.Errorf("%w: %s", ErrUnexpectedMessage, d.Message.Type))
	}

	payload, err := mq.ParsePayload[mq.FlowRunStartPayload](&d.Message)
	if err != nil {
		return mq.Reject(err)
	}
	if payload.FlowID == "" {
		return mq.Reject(errors.New("flow_id is required"))
	}

	roots := make([]domain.StageID, 0, len(payload.RootStageIDs))
	for _, id := range payload.RootStageIDs {
		roots = append(roots, domain.StageID(id))
	}

	run, err := o.runs.StartRun(ctx, payload.FlowID, roots)
	switch {
	case err == nil:
		o.logger.Info("flow run started from queue",
			"message_id", d.Message.ID,
			"flow_id", payload.FlowID,
			"flow_run_id", run.ID,
		)
		return nil
	case errors.Is(err, flowrun.ErrFlowNotFound), errors.Is(err, flowrun.ErrInvalidRootStages):
		return mq.Reject(err)
	case errors.Is(err, flowrun.ErrStartIncomplete):
		o.logger.Error("flow run created but not started",
			"message_id", d.Message.ID,
			"flow_id", payload.FlowID,
			"error", err,
		)
		return mq.Reject(err)
	default:
		return err
	}
}
