package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/engine"
	"github.com/shaiso/flowruns/internal/repo"
)

// DefaultTTL — сколько собранный flow живёт в кэше.
const DefaultTTL = time.Minute

// DefinitionSource — хранилище определений flows (см. repo.FlowRepo).
//
// Отсутствие flow — repo.ErrNotFound.
type DefinitionSource interface {
	GetDefinition(ctx context.Context, flowID string) (domain.FlowDefinition, error)
}

// Service собирает Flow из определения и кэширует результат на TTL.
// Изменённое в БД определение подхватывается не позже чем через TTL.
type Service struct {
	source DefinitionSource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	flows map[string]cachedFlow
}

// cachedFlow — flow и время его загрузки.
type cachedFlow struct {
	flow     domain.Flow
	loadedAt time.Time
}

// Config — конфигурация Service.
type Config struct {
	Source DefinitionSource

	// TTL — время жизни записи кэша (default: DefaultTTL).
	TTL time.Duration

	// Clock — источник времени (default: time.Now).
	Clock func() time.Time

	Logger *slog.Logger
}

// NewService создаёт новый Service.
func NewService(cfg Config) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		source: cfg.Source,
		ttl:    ttl,
		now:    clock,
		logger: logger,
		flows:  make(map[string]cachedFlow),
	}
}

// GetFlow возвращает flow по ID.
//
// Отсутствующий flow — (Flow{}, false, nil). Некорректное определение
// (цикл, неизвестная зависимость) — ошибка engine. В обоих случаях
// запись кэша удаляется.
func (s *Service) GetFlow(ctx context.Context, flowID string) (domain.Flow, bool, error) {
	now := s.now()

	s.mu.RLock()
	cached, ok := s.flows[flowID]
	s.mu.RUnlock()
	if ok && now.Sub(cached.loadedAt) < s.ttl {
		return cached.flow, true, nil
	}

	def, err := s.source.GetDefinition(ctx, flowID)
	if errors.Is(err, repo.ErrNotFound) {
		s.forget(flowID)
		return domain.Flow{}, false, nil
	}
	if err != nil {
		return domain.Flow{}, false, fmt.Errorf("load flow %s: %w", flowID, err)
	}

	flow, err := engine.BuildFlow(def)
	if err != nil {
		s.forget(flowID)
		s.logger.Error("invalid flow definition", "flow_id", flowID, "error", err)
		return domain.Flow{}, false, fmt.Errorf("build flow %s: %w", flowID, err)
	}

	s.mu.Lock()
	s.flows[flowID] = cachedFlow{flow: flow, loadedAt: now}
	s.mu.Unlock()

	s.logger.Debug("flow loaded", "flow_id", flowID, "stages", flow.Graph.AllIDs().Len())
	return flow, true, nil
}

// forget убирает flow из кэша.
func (s *Service) forget(flowID string) {
	s.mu.Lock()
	delete(s.flows, flowID)
	s.mu.Unlock()
}
