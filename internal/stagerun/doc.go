// Package stagerun обрабатывает события stage runs и запускает stage runs.
//
// Включает:
//   - event.go      — типы событий и JSON конверт (Envelope)
//   - processor.go  — обработчики событий: вычисляют patch под блокировкой flow run
//   - dispatcher.go — маршрутизация события в обработчик по типу
//   - service.go    — Service: создание stage runs и команды executor'ам
//
// Обработчики не меняют статус flow run сами: он всегда пересчитывается
// в flowrun.Service.ComputeStageRunViewUnderLock.
package stagerun
