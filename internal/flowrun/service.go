package flowrun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/telemetry"
)

// FlowProvider — источник определений flow (см. flow.Service).
// Отсутствие flow — не ошибка: возвращается ok == false.
type FlowProvider interface {
	GetFlow(ctx context.Context, flowID string) (domain.Flow, bool, error)
}

// StageRunStarter создаёт stage runs и отправляет команды старта executor'ам
// (см. stagerun.Service).
type StageRunStarter interface {
	// StartRuns создаёт stage runs и сразу отправляет команды старта.
	StartRuns(ctx context.Context, flowRunID domain.FlowRunID, stageIDs []domain.StageID) (map[domain.StageRunID]domain.StageRunView, error)

	// CreateRuns создаёт stage runs (REQUESTED) без отправки команд.
	CreateRuns(ctx context.Context, flowRunID domain.FlowRunID, stageIDs []domain.StageID) (map[domain.StageRunID]domain.StageRunView, error)

	// PublishStarts отправляет команды старта уже созданных stage runs.
	// Повторная отправка того же stage run допустима.
	PublishStarts(ctx context.Context, views []domain.StageRunView) error
}

// PatchFunc вычисляет изменения stage runs по снимку flow run.
// Возвращает только изменённые записи. Вызывается под блокировкой flow run.
type PatchFunc func(run domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error)

// CommitFunc вызывается после записи снимка в кэш, под той же блокировкой.
// run — записанный снимок.
type CommitFunc func(ctx context.Context, run domain.FlowRun) error

// Service управляет созданием flow runs и их изменением.
type Service struct {
	cache     Cache
	flows     FlowProvider
	stageRuns StageRunStarter
	now       func() time.Time
	logger    *slog.Logger
}

// Config — конфигурация Service.
type Config struct {
	Cache     Cache
	Flows     FlowProvider
	StageRuns StageRunStarter

	// Clock — источник времени (default: time.Now в UTC).
	Clock func() time.Time

	Logger *slog.Logger
}

// NewService создаёт новый Service.
func NewService(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cache:     cfg.Cache,
		flows:     cfg.Flows,
		stageRuns: cfg.StageRuns,
		now:       clock,
		logger:    logger,
	}
}

// StartRun создаёт flow run и запускает его корневые stages.
//
// Если rootStageIDs пуст, запускаются все корни графа. Иначе каждый
// ID должен быть корнем: начать выполнение с середины графа нельзя.
//
// Создание run и запуск stages — два отдельных шага. Если после
// создания что-то пошло не так, run остаётся в кэше в статусе NEW,
// а ошибка оборачивается в *StartIncompleteError: повтор запроса
// создал бы ещё один run.
func (s *Service) StartRun(ctx context.Context, flowID string, rootStageIDs []domain.StageID) (domain.FlowRun, error) {
	flow, ok, err := s.flows.GetFlow(ctx, flowID)
	if err != nil {
		return domain.FlowRun{}, fmt.Errorf("get flow %s: %w", flowID, err)
	}
	if !ok {
		return domain.FlowRun{}, &FlowNotFoundError{FlowID: flowID}
	}

	var stageIDs []domain.StageID
	if len(rootStageIDs) == 0 {
		stageIDs = domain.Sorted(flow.Graph.Roots())
	} else {
		if !flow.AreRootStages(rootStageIDs...) {
			return domain.FlowRun{}, &InvalidRootStagesError{FlowID: flowID, StageIDs: flow.InvalidRoots(rootStageIDs...)}
		}
		stageIDs = domain.Sorted(domain.NewSet(rootStageIDs...))
	}

	run, err := s.cache.Add(ctx, domain.NewFlowRun(flowID, s.now()))
	if err != nil {
		return domain.FlowRun{}, fmt.Errorf("add flow run: %w", err)
	}

	logger := telemetry.WithFlowRunID(telemetry.WithFlowID(s.logger, flowID), string(run.ID))

	views, err := s.stageRuns.StartRuns(ctx, run.ID, stageIDs)
	if err != nil {
		logger.Error("failed to start stage runs, flow run left in NEW", "error", err)
		return domain.FlowRun{}, &StartIncompleteError{FlowRunID: run.ID, Err: err}
	}

	telemetry.FlowRunsStarted.Inc()
	logger.Info("flow run started", "stages", len(stageIDs))

	stored, err := s.ComputeStageRunViewUnderLock(ctx, run.ID, func(domain.FlowRun) (map[domain.StageRunID]domain.StageRunView, error) {
		return views, nil
	})
	if err != nil {
		return domain.FlowRun{}, &StartIncompleteError{FlowRunID: run.ID, Err: err}
	}
	return stored, nil
}

// GetByID возвращает текущий снимок flow run.
func (s *Service) GetByID(ctx context.Context, id domain.FlowRunID) (domain.FlowRun, error) {
	return s.cache.GetRun(ctx, id)
}

// ActiveRuns возвращает нефинальные runs flow.
func (s *Service) ActiveRuns(ctx context.Context, flowID string) ([]domain.FlowRun, error) {
	return s.cache.ActiveRuns(ctx, flowID)
}

// ComputeStageRunViewUnderLock — единственный путь изменения flow run.
//
// Под блокировкой id: вызывает patch над текущим снимком, накладывает
// результат на stage runs, пересчитывает статус (ResolveStatus) и
// записывает новый снимок в кэш. Если patch вернул ошибку или
// запаниковал, блокировка освобождается, а сохранённый run не меняется.
//
// onCommit выполняются по порядку после успешной записи, до снятия
// блокировки. Их ошибка возвращается, но записанный снимок остаётся.
func (s *Service) ComputeStageRunViewUnderLock(ctx context.Context, id domain.FlowRunID, patch PatchFunc, onCommit ...CommitFunc) (domain.FlowRun, error) {
	waitStart := time.Now()
	locked, err := s.cache.GetAndLock(ctx, id)
	telemetry.LockWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return domain.FlowRun{}, err
	}
	defer locked.Release()

	current := locked.Run()

	changes, err := patch(current)
	if err != nil {
		return domain.FlowRun{}, err
	}

	now := s.now()
	merged := current.WithStageRuns(changes, now)
	status := ResolveStatus(merged)
	next := merged.WithStatus(status, now)

	stored, err := s.cache.Update(ctx, locked, next)
	if err != nil {
		return domain.FlowRun{}, err
	}

	if status != current.Status {
		telemetry.FlowRunTransitions.WithLabelValues(string(status)).Inc()
		s.logger.Info("flow run status changed",
			"flow_run_id", id,
			"from", current.Status,
			"to", status,
		)
	}

	for _, commit := range onCommit {
		if err := commit(ctx, stored); err != nil {
			return domain.FlowRun{}, fmt.Errorf("after commit of flow run %s: %w", id, err)
		}
	}

	return stored, nil
}

// LaunchReadyChildren создаёт stage runs для потомков stageID, у которых
// все предки имеют успешный stage run в run и которые ещё не запускались.
//
// Вызывается внутри PatchFunc: run — снимок под блокировкой, уже
// содержащий успешный stage run для stageID. Возвращённые views (REQUESTED)
// нужно добавить в тот же patch. Команды старта здесь не отправляются:
// это делает PublishRequestedChildren после записи снимка. Для run
// в проблемном или финальном статусе ничего не создаётся.
func (s *Service) LaunchReadyChildren(ctx context.Context, run domain.FlowRun, stageID domain.StageID) (map[domain.StageRunID]domain.StageRunView, error) {
	if run.Status.IsProblem() || run.Status.IsTerminal() {
		return nil, nil
	}

	flow, err := s.flowOf(ctx, run)
	if err != nil {
		return nil, err
	}

	var ready []domain.StageID
	for _, child := range domain.Sorted(flow.Graph.Children(stageID)) {
		if len(run.StageRunsOf(child)) > 0 {
			continue
		}
		if allSucceeded(run, flow.Graph.Ancestors(child)) {
			ready = append(ready, child)
		}
	}

	if len(ready) == 0 {
		return nil, nil
	}

	views, err := s.stageRuns.CreateRuns(ctx, run.ID, ready)
	if err != nil {
		return nil, fmt.Errorf("create child stages of %s: %w", stageID, err)
	}
	return views, nil
}

// PublishRequestedChildren отправляет команды старта stage runs потомков
// stageID, которые ещё в статусе REQUESTED.
//
// Вызывается после записи снимка (CommitFunc), поэтому команда никогда
// не уходит для stage run, которого нет в сохранённом flow run. При
// повторной доставке события тот же stage run отправляется с тем же ID.
func (s *Service) PublishRequestedChildren(ctx context.Context, run domain.FlowRun, stageID domain.StageID) error {
	if run.Status.IsProblem() || run.Status.IsTerminal() {
		return nil
	}

	flow, err := s.flowOf(ctx, run)
	if err != nil {
		return err
	}

	var pending []domain.StageRunView
	var stages []domain.StageID
	for _, child := range domain.Sorted(flow.Graph.Children(stageID)) {
		for _, view := range run.StageRunsOf(child) {
			if view.Status == domain.StageRunStatusRequested {
				pending = append(pending, view)
				stages = append(stages, child)
			}
		}
	}

	if len(pending) == 0 {
		return nil
	}

	if err := s.stageRuns.PublishStarts(ctx, pending); err != nil {
		return fmt.Errorf("publish child stages of %s: %w", stageID, err)
	}

	telemetry.StagesLaunched.Add(float64(len(pending)))
	s.logger.Info("child stages launched",
		"flow_run_id", run.ID,
		"after_stage", stageID,
		"stages", stages,
	)
	return nil
}

// flowOf возвращает flow, к которому относится run.
func (s *Service) flowOf(ctx context.Context, run domain.FlowRun) (domain.Flow, error) {
	flow, ok, err := s.flows.GetFlow(ctx, run.FlowID)
	if err != nil {
		return domain.Flow{}, fmt.Errorf("get flow %s: %w", run.FlowID, err)
	}
	if !ok {
		return domain.Flow{}, &FlowNotFoundError{FlowID: run.FlowID}
	}
	return flow, nil
}

// allSucceeded проверяет, что у каждого stage из stageIDs есть успешный stage run.
func allSucceeded(run domain.FlowRun, stageIDs domain.Set[domain.StageID]) bool {
	for id := range stageIDs {
		if !run.HasSucceeded(id) {
			return false
		}
	}
	return true
}
