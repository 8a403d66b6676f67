package stagerun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/mq"
)

// CommandPublisher отправляет команды executor'ам (см. mq.Publisher).
type CommandPublisher interface {
	PublishStageStart(ctx context.Context, payload mq.StageStartPayload) error
	PublishStageCancel(ctx context.Context, payload mq.StageCancelPayload) error
}

// Repository сохраняет созданные stage runs (см. repo.StageRunRepo).
type Repository interface {
	Create(ctx context.Context, view domain.StageRunView) error
}

// Service создаёт stage runs и отправляет команды executor'ам.
//
// Без Publisher stage runs только создаются: это режим работы
// без RabbitMQ, когда события приходят через HTTP.
type Service struct {
	publisher CommandPublisher
	repo      Repository
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// Config — конфигурация Service.
type Config struct {
	Publisher CommandPublisher
	Repo      Repository

	// NewID — генератор ID stage runs (default: uuid.NewString).
	NewID func() string

	// Clock — источник времени (default: time.Now в UTC).
	Clock func() time.Time

	Logger *slog.Logger
}

// NewService создаёт новый Service.
func NewService(cfg Config) *Service {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		publisher: cfg.Publisher,
		repo:      cfg.Repo,
		newID:     newID,
		now:       clock,
		logger:    logger,
	}
}

// StartRuns создаёт по stage run на каждый stageID и отправляет
// команды старта. Возвращает начальные views (REQUESTED) по новым ID.
func (s *Service) StartRuns(ctx context.Context, flowRunID domain.FlowRunID, stageIDs []domain.StageID) (map[domain.StageRunID]domain.StageRunView, error) {
	created, err := s.create(ctx, flowRunID, stageIDs)
	if err != nil {
		return nil, err
	}
	if err := s.PublishStarts(ctx, created); err != nil {
		return nil, err
	}
	return byID(created), nil
}

// CreateRuns создаёт по stage run на каждый stageID без отправки команд.
func (s *Service) CreateRuns(ctx context.Context, flowRunID domain.FlowRunID, stageIDs []domain.StageID) (map[domain.StageRunID]domain.StageRunView, error) {
	created, err := s.create(ctx, flowRunID, stageIDs)
	if err != nil {
		return nil, err
	}
	return byID(created), nil
}

// create создаёт stage runs в порядке stageIDs.
func (s *Service) create(ctx context.Context, flowRunID domain.FlowRunID, stageIDs []domain.StageID) ([]domain.StageRunView, error) {
	created := make([]domain.StageRunView, 0, len(stageIDs))
	now := s.now()

	for _, stageID := range stageIDs {
		view := domain.NewStageRunView(domain.StageRunID(s.newID()), stageID, flowRunID, now)

		if s.repo != nil {
			if err := s.repo.Create(ctx, view); err != nil {
				return nil, fmt.Errorf("create stage run for %s: %w", stageID, err)
			}
		}

		created = append(created, view)

		s.logger.Debug("stage run requested",
			"flow_run_id", flowRunID,
			"stage_id", stageID,
			"stage_run_id", view.ID,
		)
	}

	return created, nil
}

func byID(views []domain.StageRunView) map[domain.StageRunID]domain.StageRunView {
	out := make(map[domain.StageRunID]domain.StageRunView, len(views))
	for _, view := range views {
		out[view.ID] = view
	}
	return out
}

// PublishStarts отправляет команды старта stage runs по порядку.
// Executor различает повторы по stage_run_id.
func (s *Service) PublishStarts(ctx context.Context, views []domain.StageRunView) error {
	if s.publisher == nil {
		return nil
	}

	for _, view := range views {
		err := s.publisher.PublishStageStart(ctx, mq.StageStartPayload{
			StageRunID: string(view.ID),
			StageID:    string(view.StageID),
			FlowRunID:  string(view.FlowRunID),
		})
		if err != nil {
			return fmt.Errorf("publish start of stage %s: %w", view.StageID, err)
		}
	}
	return nil
}

// RequestCancel отправляет общую отмену stage run (executor неизвестен).
func (s *Service) RequestCancel(ctx context.Context, stageRunID domain.StageRunID) {
	s.cancel(ctx, mq.StageCancelPayload{StageRunID: string(stageRunID)})
}

// RequestCancelOn отправляет отмену stage run конкретному executor'у.
func (s *Service) RequestCancelOn(ctx context.Context, stageRunID domain.StageRunID, executorID string) {
	s.cancel(ctx, mq.StageCancelPayload{StageRunID: string(stageRunID), ExecutorID: executorID})
}

// cancel — fire-and-forget: ошибка отправки только логируется.
func (s *Service) cancel(ctx context.Context, payload mq.StageCancelPayload) {
	if s.publisher == nil {
		s.logger.Warn("no publisher, cancellation dropped", "stage_run_id", payload.StageRunID)
		return
	}

	if err := s.publisher.PublishStageCancel(ctx, payload); err != nil {
		s.logger.Warn("failed to publish stage cancel",
			"stage_run_id", payload.StageRunID,
			"executor_id", payload.ExecutorID,
			"error", err,
		)
		return
	}

	s.logger.Info("stage cancel requested",
		"stage_run_id", payload.StageRunID,
		"executor_id", payload.ExecutorID,
	)
}
