package stagerun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/flowrun"
	"github.com/shaiso/flowruns/internal/telemetry"
)

// FlowRunComputer — единственный путь изменения flow run (см. flowrun.Service).
type FlowRunComputer interface {
	ComputeStageRunViewUnderLock(ctx context.Context, id domain.FlowRunID, patch flowrun.PatchFunc, onCommit ...flowrun.CommitFunc) (domain.FlowRun, error)
}

// Dispatcher направляет событие в обработчик по его типу.
type Dispatcher struct {
	computer   FlowRunComputer
	processors map[EventType]Processor
	logger     *slog.Logger
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Computer FlowRunComputer

	// Canceller — для каскадной отмены в START_RUN.
	Canceller Canceller

	// Launcher — запуск потомков при RUN_SUCCESSFUL (необязательный).
	Launcher ChildLauncher

	Logger *slog.Logger
}

// NewDispatcher создаёт Dispatcher со стандартным набором обработчиков.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		computer:   cfg.Computer,
		processors: make(map[EventType]Processor),
		logger:     logger,
	}

	d.Register(EventAcknowledgeRequest, NewAcknowledgeProcessor())
	d.Register(EventStartRun, NewStartRunProcessor(cfg.Canceller, logger))
	d.Register(EventRunSuccessful, NewRunSucceededProcessor(cfg.Launcher))
	d.Register(EventRunFailed, NewRunFailedProcessor())
	d.Register(EventRunCancelled, NewRunCancelledProcessor())

	return d
}

// Register задаёт обработчик для типа события (заменяет существующий).
func (d *Dispatcher) Register(eventType EventType, p Processor) {
	d.processors[eventType] = p
}

// Dispatch применяет событие к flow run flowRunID.
//
// Ошибки *UnknownStageRunError и flowrun.ErrNotFound означают, что событие
// не относится к этому flow run; повтор не поможет.
func (d *Dispatcher) Dispatch(ctx context.Context, flowRunID domain.FlowRunID, ev Event) (domain.FlowRun, error) {
	p, ok := d.processors[ev.Type()]
	if !ok {
		telemetry.StageEvents.WithLabelValues(string(ev.Type()), "unknown_type").Inc()
		return domain.FlowRun{}, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type())
	}

	var hooks []flowrun.CommitFunc
	if c, ok := p.(Committer); ok {
		hooks = append(hooks, func(ctx context.Context, run domain.FlowRun) error {
			return c.Commit(ctx, ev, run)
		})
	}

	run, err := d.computer.ComputeStageRunViewUnderLock(ctx, flowRunID, func(current domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error) {
		return p.Process(ctx, ev, current)
	}, hooks...)

	telemetry.StageEvents.WithLabelValues(string(ev.Type()), outcome(err)).Inc()

	if err != nil {
		d.logger.Warn("stage event not applied",
			"flow_run_id", flowRunID,
			"stage_run_id", ev.Target(),
			"event_type", ev.Type(),
			"error", err,
		)
		return domain.FlowRun{}, err
	}

	d.logger.Debug("stage event applied",
		"flow_run_id", flowRunID,
		"stage_run_id", ev.Target(),
		"event_type", ev.Type(),
		"flow_run_status", run.Status,
	)
	return run, nil
}

// DispatchEnvelope разбирает конверт и применяет событие.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, env Envelope) (domain.FlowRun, error) {
	if env.FlowRunID == "" {
		return domain.FlowRun{}, fmt.Errorf("%w: flowRunId is required", ErrInvalidEvent)
	}

	ev, err := env.Event()
	if err != nil {
		return domain.FlowRun{}, err
	}
	return d.Dispatch(ctx, env.FlowRunID, ev)
}

// IsProtocolError — ошибка в самом событии (а не в инфраструктуре):
// повторная доставка её не исправит.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownStageRun) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, flowrun.ErrNotFound)
}

// outcome — метка метрики для результата обработки.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownStageRun):
		return "unknown_stage_run"
	case errors.Is(err, flowrun.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
