package flowrun

import (
	"context"
	"sync"
)

// lockEntry — блокировка одного ключа.
// ch — канал на один слот: запись захватывает, чтение освобождает.
type lockEntry struct {
	ch   chan struct{}
	refs int // владелец + ожидающие
}

// KeyedLocker — таблица эксклюзивных блокировок по ключу.
//
// Блокировки разных ключей независимы. Запись удаляется из таблицы,
// когда её никто не держит и не ждёт, поэтому таблица не растёт
// с числом когда-либо заблокированных ключей.
type KeyedLocker[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*lockEntry
}

// NewKeyedLocker создаёт пустую таблицу блокировок.
func NewKeyedLocker[K comparable]() *KeyedLocker[K] {
	return &KeyedLocker[K]{
		entries: make(map[K]*lockEntry),
	}
}

// Lock блокирует key. Ждёт, пока блокировка не освободится или ctx
// не завершится; во втором случае возвращает ctx.Err() и блокировку не держит.
func (l *KeyedLocker[K]) Lock(ctx context.Context, key K) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(key, e)
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Unlock освобождает key. Unlock незаблокированного ключа — ошибка программы.
func (l *KeyedLocker[K]) Unlock(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		panic("flowrun: unlock of unlocked key")
	}
	select {
	case <-e.ch:
	default:
		panic("flowrun: unlock of unlocked key")
	}
	l.unref(key, e)
}

// IsLocked возвращает true, если key сейчас заблокирован.
func (l *KeyedLocker[K]) IsLocked(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	return ok && len(e.ch) == 1
}

// Len возвращает количество ключей, которые удерживаются или ожидаются.
func (l *KeyedLocker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// unref уменьшает счётчик ссылок. Вызывается под l.mu.
func (l *KeyedLocker[K]) unref(key K, e *lockEntry) {
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
