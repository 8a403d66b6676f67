package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/flowruns/internal/domain"
	"github.com/shaiso/flowruns/internal/mq"
	"github.com/shaiso/flowruns/internal/stagerun"
)

// defaultPrefetch — неподтверждённых сообщений на consumer.
const defaultPrefetch = 10

// RunStarter запускает flow runs (см. flowrun.Service).
type RunStarter interface {
	StartRun(ctx context.Context, flowID string, rootStageIDs []domain.StageID) (domain.FlowRun, error)
}

// EventDispatcher применяет события stage runs (см. stagerun.Dispatcher).
type EventDispatcher interface {
	DispatchEnvelope(ctx context.Context, env stagerun.Envelope) (domain.FlowRun, error)
}

// ActiveRunStore отдаёт сохранённые нефинальные flow runs (см. repo.FlowRunRepo).
type ActiveRunStore interface {
	LoadActive(ctx context.Context) ([]domain.FlowRun, error)
}

// Restorer принимает восстановленные runs (см. flowrun.MemoryCache).
type Restorer interface {
	Restore(runs []domain.FlowRun) int
}

// Orchestrator — consumers RabbitMQ поверх ядра flow runs.
type Orchestrator struct {
	conn     *mq.Connection
	runs     RunStarter
	events   EventDispatcher
	store    ActiveRunStore
	cache    Restorer
	prefetch int
	logger   *slog.Logger

	consumers  []*mq.Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Conn — соединение RabbitMQ. Без него consumers не запускаются.
	Conn *mq.Connection

	Runs   RunStarter
	Events EventDispatcher

	// Store и Cache — восстановление активных runs. Оба необязательные.
	Store ActiveRunStore
	Cache Restorer

	// Prefetch — неподтверждённых сообщений на consumer (default: 10).
	Prefetch int

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		conn:     cfg.Conn,
		runs:     cfg.Runs,
		events:   cfg.Events,
		store:    cfg.Store,
		cache:    cfg.Cache,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start восстанавливает активные runs и запускает consumers.
// Не блокирует: consumers работают до Stop или отмены ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return ErrAlreadyStarted
	}

	if err := o.Restore(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel
	o.started = true

	if o.conn == nil {
		o.logger.Warn("no RabbitMQ connection, consumers disabled")
		return nil
	}

	o.consume(ctx, mq.QueueStageEvents, o.handleStageEvent)
	o.consume(ctx, mq.QueueFlowRunStarts, o.handleFlowRunStart)

	o.logger.Info("orchestrator started", "prefetch", o.prefetch)
	return nil
}

// consume запускает consumer очереди в отдельной горутине.
func (o *Orchestrator) consume(ctx context.Context, queue mq.Queue, handler mq.Handler) {
	consumer := mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    queue,
		Handler:  handler,
		Prefetch: o.prefetch,
	})
	o.consumers = append(o.consumers, consumer)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("consumer stopped with error", "queue", queue, "error", err)
		}
	}()
}

// Stop останавливает consumers и ждёт их завершения.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return
	}

	o.logger.Info("stopping orchestrator...")

	o.cancelFunc()
	for _, c := range o.consumers {
		c.Stop()
	}
	o.wg.Wait()

	o.consumers = nil
	o.started = false
	o.logger.Info("orchestrator stopped")
}

// Restore загружает нефинальные flow runs в кэш.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.store == nil || o.cache == nil {
		return nil
	}

	runs, err := o.store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load active flow runs: %w", err)
	}

	restored := o.cache.Restore(runs)
	o.logger.Info("active flow runs restored", "loaded", len(runs), "restored", restored)
	return nil
}
