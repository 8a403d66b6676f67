package stagerun

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/telemetry"
)

// Processor — обработчик одного типа событий.
//
// Process выполняется как patch flow run, т.е. под его блокировкой:
// run — согласованный снимок, результат — изменённые stage runs.
type Processor interface {
	Process(ctx context.Context, ev Event, run domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error)
}

// Canceller отправляет executor'ам запросы на отмену (см. Service).
// Оба метода best-effort и безопасны для уже завершённых stage runs.
type Canceller interface {
	RequestCancel(ctx context.Context, stageRunID domain.StageRunID)
	RequestCancelOn(ctx context.Context, stageRunID domain.StageRunID, executorID string)
}

// Committer — Processor с действием после записи patch.
// Commit выполняется под той же блокировкой; run — записанный снимок.
type Committer interface {
	Commit(ctx context.Context, ev Event, run domain.FlowRun) error
}

// ChildLauncher запускает потомков stage, у которых все предки успешны
// (см. flowrun.Service). LaunchReadyChildren только создаёт stage runs для
// patch, PublishRequestedChildren отправляет их после записи.
type ChildLauncher interface {
	LaunchReadyChildren(ctx context.Context, run domain.FlowRun, stageID domain.StageID) (map[domain.StageRunID]domain.StageRunView, error)
	PublishRequestedChildren(ctx context.Context, run domain.FlowRun, stageID domain.StageID) error
}

// lookup возвращает stage run из снимка или *UnknownStageRunError.
func lookup(run domain.FlowRun, id domain.StageRunID) (domain.StageRunView, error) {
	view, ok := run.StageRun(id)
	if !ok {
		return domain.StageRunView{}, &UnknownStageRunError{FlowRunID: run.ID, StageRunID: id}
	}
	return view, nil
}

// single — patch из одной записи.
func single(view domain.StageRunView) map[domain.StageRunID]domain.StageRunView {
	return map[domain.StageRunID]domain.StageRunView{view.ID: view}
}

// transitionProcessor переводит stage run в следующее состояние без побочных эффектов.
type transitionProcessor struct {
	next func(view domain.StageRunView, ev Event) (domain.StageRunView, error)
}

// Process реализует Processor.
func (p transitionProcessor) Process(_ context.Context, ev Event, run domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error) {
	view, err := lookup(run, ev.Target())
	if err != nil {
		return nil, err
	}

	next, err := p.next(view, ev)
	if err != nil {
		return nil, err
	}
	return single(next), nil
}

// NewAcknowledgeProcessor — ACKNOWLEDGE_REQUEST: executor принял работу.
func NewAcknowledgeProcessor() Processor {
	return transitionProcessor{next: func(view domain.StageRunView, ev Event) (domain.StageRunView, error) {
		ack, ok := ev.(AcknowledgeRequest)
		if !ok {
			return domain.StageRunView{}, fmt.Errorf("%w: expected %s, got %s", ErrInvalidEvent, EventAcknowledgeRequest, ev.Type())
		}
		return view.Acknowledged(ack.ExecutorID, ack.Instant()), nil
	}}
}

// NewRunFailedProcessor — RUN_FAILED.
func NewRunFailedProcessor() Processor {
	return transitionProcessor{next: func(view domain.StageRunView, ev Event) (domain.StageRunView, error) {
		return view.Failed(ev.Instant()), nil
	}}
}

// NewRunCancelledProcessor — RUN_CANCELLED.
func NewRunCancelledProcessor() Processor {
	return transitionProcessor{next: func(view domain.StageRunView, ev Event) (domain.StageRunView, error) {
		return view.Cancelled(ev.Instant()), nil
	}}
}

// StartRunProcessor — START_RUN: выполнение stage run началось.
//
// Если flow run уже FAILED или CANCELLED, а stage run ещё не завершён,
// сначала отправляется отмена: адресно executor'у, если он известен,
// иначе общая. Переход в RUNNING выполняется в любом случае: отмена
// асинхронна, а выполнение на стороне executor'а уже началось.
//
// Отмена отправляется под блокировкой flow run: медленная отправка
// задерживает остальные события этого flow run.
type StartRunProcessor struct {
	canceller Canceller
	logger    *slog.Logger
}

// NewStartRunProcessor создаёт StartRunProcessor.
func NewStartRunProcessor(canceller Canceller, logger *slog.Logger) *StartRunProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StartRunProcessor{canceller: canceller, logger: logger}
}

// Process реализует Processor.
func (p *StartRunProcessor) Process(ctx context.Context, ev Event, run domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error) {
	view, err := lookup(run, ev.Target())
	if err != nil {
		return nil, err
	}

	if run.Status.IsProblem() && !view.Status.IsTerminal() {
		p.logger.Info("cancelling stage run started in problem flow run",
			"flow_run_id", run.ID,
			"flow_run_status", run.Status,
			"stage_run_id", view.ID,
			"executor_id", view.ExecutorID,
		)
		if view.HasExecutor() {
			p.canceller.RequestCancelOn(ctx, view.ID, view.ExecutorID)
		} else {
			p.canceller.RequestCancel(ctx, view.ID)
		}
		telemetry.CascadingCancellations.WithLabelValues(strconv.FormatBool(view.HasExecutor())).Inc()
	}

	return single(view.Launched(ev.Instant())), nil
}

// RunSucceededProcessor — RUN_SUCCESSFUL.
//
// Вместе с успехом stage run в тот же patch попадают потомки, чьи
// предки теперь все успешны. Иначе flow run мог бы стать SUCCESS
// до запуска следующих stages. Команды старта потомков уходят
// в Commit, только после записи снимка.
type RunSucceededProcessor struct {
	launcher ChildLauncher
	now      func() time.Time
}

// NewRunSucceededProcessor создаёт RunSucceededProcessor.
// launcher может быть nil: тогда потомки не запускаются.
func NewRunSucceededProcessor(launcher ChildLauncher) *RunSucceededProcessor {
	return &RunSucceededProcessor{
		launcher: launcher,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process реализует Processor.
func (p *RunSucceededProcessor) Process(ctx context.Context, ev Event, run domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error) {
	view, err := lookup(run, ev.Target())
	if err != nil {
		return nil, err
	}

	patch := single(view.Succeeded(ev.Instant()))
	if p.launcher == nil {
		return patch, nil
	}

	children, err := p.launcher.LaunchReadyChildren(ctx, run.WithStageRuns(patch, p.now()), view.StageID)
	if err != nil {
		return nil, err
	}
	for id, child := range children {
		patch[id] = child
	}
	return patch, nil
}

// Commit реализует Committer.
func (p *RunSucceededProcessor) Commit(ctx context.Context, ev Event, run domain.FlowRun) error {
	if p.launcher == nil {
		return nil
	}

	view, ok := run.StageRun(ev.Target())
	if !ok {
		return nil
	}
	return p.launcher.PublishRequestedChildren(ctx, run, view.StageID)
}
