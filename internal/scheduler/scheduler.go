package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/flowrun"
)

// RunService — запуск и просмотр flow runs (см. flowrun.Service).
type RunService interface {
	StartRun(ctx context.Context, flowID string, rootStageIDs []domain.StageID) (domain.FlowRun, error)
	ActiveRuns(ctx context.Context, flowID string) ([]domain.FlowRun, error)
}

// Leader сообщает, исполняет ли этот процесс расписание (см. repo.AdvisoryLock).
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Scheduler — cron поверх StartRun.
type Scheduler struct {
	runs    RunService
	flows   flowrun.FlowProvider
	leader  Leader
	entries []Entry
	logger  *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Config — конфигурация Scheduler.
type Config struct {
	Runs    RunService
	Flows   flowrun.FlowProvider
	Entries []Entry

	// Leader — необязательный: без него срабатывания исполняются всегда.
	Leader Leader

	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runs:    cfg.Runs,
		flows:   cfg.Flows,
		leader:  cfg.Leader,
		entries: cfg.Entries,
		logger:  logger,
	}
}

// Start регистрирует расписания и запускает cron.
// Срабатывания используют ctx: после его отмены запуски завершаются ошибкой.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	// Срабатывание одного расписания не перекрывает предыдущее:
	// иначе два StartRun могли бы разминуться в проверке активных runs.
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo)))),
	)
	for _, entry := range s.entries {
		flowID := entry.FlowID
		if _, err := c.AddFunc(entry.CronExpr, func() { s.fire(ctx, flowID) }); err != nil {
			return fmt.Errorf("add schedule for flow %s: %w", flowID, err)
		}
		s.logger.Info("schedule registered", "flow_id", flowID, "cron", entry.CronExpr)
	}

	c.Start()
	s.cron = c
	s.logger.Info("scheduler started", "schedules", len(s.entries))
	return nil
}

// Stop останавливает cron и ждёт выполняющиеся срабатывания.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// fire — одно срабатывание cron.
func (s *Scheduler) fire(ctx context.Context, flowID string) {
	if s.leader != nil {
		leader, err := s.leader.TryAcquire(ctx)
		if err != nil {
			s.logger.Error("leader check failed", "flow_id", flowID, "error", err)
			return
		}
		if !leader {
			s.logger.Debug("not a leader, skipping schedule", "flow_id", flowID)
			return
		}
	}

	if _, err := s.Trigger(ctx, flowID); err != nil {
		s.logger.Error("scheduled run failed", "flow_id", flowID, "error", err)
	}
}

// Trigger запускает flow run, если flow это позволяет.
//
// false без ошибки — запуск пропущен: у flow без AllowParallelRun
// уже есть активный run. Run, оставшийся в NEW без stage runs после
// неудачного StartRun, запуск не блокирует.
func (s *Scheduler) Trigger(ctx context.Context, flowID string) (bool, error) {
	flow, ok, err := s.flows.GetFlow(ctx, flowID)
	if err != nil {
		return false, fmt.Errorf("get flow %s: %w", flowID, err)
	}
	if !ok {
		return false, &flowrun.FlowNotFoundError{FlowID: flowID}
	}

	if !flow.AllowParallelRun {
		active, err := s.runs.ActiveRuns(ctx, flowID)
		if err != nil {
			return false, fmt.Errorf("list active runs of %s: %w", flowID, err)
		}
		for _, run := range active {
			if isAbandoned(run) {
				continue
			}
			s.logger.Info("flow run still active, skipping schedule",
				"flow_id", flowID,
				"active_flow_run_id", run.ID,
			)
			return false, nil
		}
	}

	run, err := s.runs.StartRun(ctx, flowID, nil)
	if err != nil {
		return false, err
	}

	s.logger.Info("scheduled flow run started", "flow_id", flowID, "flow_run_id", run.ID)
	return true, nil
}

// isAbandoned — run создан, но ни один stage не был запущен.
func isAbandoned(run domain.FlowRun) bool {
	return run.Status == domain.FlowRunStatusNew && run.StageRunCount() == 0
}
