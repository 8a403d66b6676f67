package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/stagerun"
)

// FlowRunService — операции над flow runs (см. flowrun.Service).
type FlowRunService interface {
	StartRun(ctx context.Context, flowID string, rootStageIDs []domain.StageID) (domain.FlowRun, error)
	GetByID(ctx context.Context, id domain.FlowRunID) (domain.FlowRun, error)
	ActiveRuns(ctx context.Context, flowID string) ([]domain.FlowRun, error)
}

// EventDispatcher применяет события stage runs (см. stagerun.Dispatcher).
type EventDispatcher interface {
	DispatchEnvelope(ctx context.Context, env stagerun.Envelope) (domain.FlowRun, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flowRuns FlowRunService
	events   EventDispatcher
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	FlowRuns FlowRunService
	Events   EventDispatcher
	Logger   *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flowRuns: cfg.FlowRuns,
		events:   cfg.Events,
		logger:   logger,
	}
}
