package flowrun

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shaiso/flowruns/internal/domain"
)

// Cache — хранилище flow runs с блокировкой по ID.
type Cache interface {
	// Add назначает run новый ID, сохраняет и возвращает сохранённую копию.
	Add(ctx context.Context, run domain.FlowRun) (domain.FlowRun, error)

	// GetRun возвращает текущий снимок. *NotFoundError, если run нет.
	GetRun(ctx context.Context, id domain.FlowRunID) (domain.FlowRun, error)

	// GetAndLock ждёт эксклюзивную блокировку id и возвращает снимок,
	// прочитанный уже под блокировкой.
	GetAndLock(ctx context.Context, id domain.FlowRunID) (*LockedRun, error)

	// Update заменяет сохранённое значение run.ID. locked — блокировка
	// этого run, полученная через GetAndLock и ещё не освобождённая;
	// иначе ErrLockNotHeld.
	Update(ctx context.Context, locked *LockedRun, run domain.FlowRun) (domain.FlowRun, error)

	// ActiveRuns возвращает нефинальные runs flow.
	ActiveRuns(ctx context.Context, flowID string) ([]domain.FlowRun, error)
}

// Persister — долговременное хранилище снимков flow runs (см. repo.FlowRunRepo).
type Persister interface {
	Save(ctx context.Context, run domain.FlowRun) error
}

// LockedRun — снимок flow run вместе с удерживаемой блокировкой.
//
// Использование:
//
//	locked, err := cache.GetAndLock(ctx, id)
//	if err != nil { ... }
//	defer locked.Release()
type LockedRun struct {
	run      domain.FlowRun
	release  func()
	once     sync.Once
	released atomic.Bool
}

// Run возвращает текущий снимок: прочитанный после захвата блокировки
// или записанный через Update.
func (l *LockedRun) Run() domain.FlowRun {
	return l.run
}

// Release освобождает блокировку. Повторные вызовы ничего не делают.
func (l *LockedRun) Release() {
	l.once.Do(func() {
		l.released.Store(true)
		l.release()
	})
}

// holds сообщает, что l — ещё не освобождённая блокировка run id.
func (l *LockedRun) holds(id domain.FlowRunID) bool {
	return l != nil && l.run.ID == id && !l.released.Load()
}

// MemoryCache — Cache в памяти процесса.
//
// Карта runs защищена RWMutex только на время чтения/записи значения;
// read-modify-write сериализует KeyedLocker. Если задан Persister,
// каждый Add/Update сначала пишется в него: при ошибке значение
// в памяти не меняется.
type MemoryCache struct {
	mu   sync.RWMutex
	runs map[domain.FlowRunID]domain.FlowRun

	locks     *KeyedLocker[domain.FlowRunID]
	persister Persister
	newID     func() string
	logger    *slog.Logger
}

// MemoryCacheConfig — конфигурация MemoryCache.
type MemoryCacheConfig struct {
	// Persister — необязательное хранилище для write-through.
	Persister Persister

	// NewID — генератор ID flow runs (default: uuid.NewString).
	NewID func() string

	Logger *slog.Logger
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache создаёт пустой MemoryCache.
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryCache{
		runs:      make(map[domain.FlowRunID]domain.FlowRun),
		locks:     NewKeyedLocker[domain.FlowRunID](),
		persister: cfg.Persister,
		newID:     newID,
		logger:    logger,
	}
}

// Add реализует Cache.
func (c *MemoryCache) Add(ctx context.Context, run domain.FlowRun) (domain.FlowRun, error) {
	run = run.WithID(domain.FlowRunID(c.newID()))

	if c.persister != nil {
		if err := c.persister.Save(ctx, run); err != nil {
			return domain.FlowRun{}, fmt.Errorf("persist flow run %s: %w", run.ID, err)
		}
	}

	c.mu.Lock()
	c.runs[run.ID] = run
	c.mu.Unlock()

	return run, nil
}

// GetRun реализует Cache.
func (c *MemoryCache) GetRun(_ context.Context, id domain.FlowRunID) (domain.FlowRun, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	run, ok := c.runs[id]
	if !ok {
		return domain.FlowRun{}, &NotFoundError{ID: id}
	}
	return run, nil
}

// GetAndLock реализует Cache.
func (c *MemoryCache) GetAndLock(ctx context.Context, id domain.FlowRunID) (*LockedRun, error) {
	if err := c.locks.Lock(ctx, id); err != nil {
		return nil, fmt.Errorf("lock flow run %s: %w", id, err)
	}

	run, err := c.GetRun(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		return nil, err
	}

	return &LockedRun{
		run:     run,
		release: func() { c.locks.Unlock(id) },
	}, nil
}

// Update реализует Cache.
func (c *MemoryCache) Update(ctx context.Context, locked *LockedRun, run domain.FlowRun) (domain.FlowRun, error) {
	if !locked.holds(run.ID) || !c.locks.IsLocked(run.ID) {
		return domain.FlowRun{}, fmt.Errorf("update flow run %s: %w", run.ID, ErrLockNotHeld)
	}

	if _, err := c.GetRun(ctx, run.ID); err != nil {
		return domain.FlowRun{}, err
	}

	if c.persister != nil {
		if err := c.persister.Save(ctx, run); err != nil {
			return domain.FlowRun{}, fmt.Errorf("persist flow run %s: %w", run.ID, err)
		}
	}

	c.mu.Lock()
	c.runs[run.ID] = run
	c.mu.Unlock()

	locked.run = run
	return run, nil
}

// ActiveRuns реализует Cache. Runs отсортированы по времени создания.
func (c *MemoryCache) ActiveRuns(_ context.Context, flowID string) ([]domain.FlowRun, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var active []domain.FlowRun
	for _, run := range c.runs {
		if run.FlowID == flowID && !run.IsFinished() {
			active = append(active, run)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	return active, nil
}

// Restore загружает ранее сохранённые runs (например, после рестарта).
// Persister не вызывается. Runs без ID пропускаются.
func (c *MemoryCache) Restore(runs []domain.FlowRun) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, run := range runs {
		if run.ID == "" {
			c.logger.Warn("skipping flow run without id", "flow_id", run.FlowID)
			continue
		}
		c.runs[run.ID] = run
		restored++
	}
	return restored
}

// Len возвращает количество runs в кэше.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.runs)
}
