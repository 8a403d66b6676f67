// Package flowrun хранит flow runs и сериализует их изменение.
//
// Включает:
//   - locker.go  — таблица блокировок по ключу (KeyedLocker)
//   - cache.go   — Cache и MemoryCache с write-through в Persister
//   - status.go  — ResolveStatus: статус flow run из статусов stage runs
//   - service.go — Service: StartRun и ComputeStageRunViewUnderLock
//
// Любое изменение flow run проходит через ComputeStageRunViewUnderLock:
// блокировка по ID, patch над снимком, слияние, пересчёт статуса, запись.
// Побочные эффекты, которые нельзя откатить (команды старта потомков),
// выполняются в CommitFunc только после записи. Блокировки разных
// flow runs независимы.
package flowrun
