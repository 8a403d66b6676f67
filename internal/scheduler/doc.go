// Package scheduler запускает flow runs по расписанию.
//
// Расписания задаются переменной окружения SCHEDULES:
//
//	SCHEDULES="nightly-etl=0 3 * * *;reports=*/15 * * * *"
//
// На каждое срабатывание cron вызывается Trigger: flow без
// AllowParallelRun не запускается, пока у него есть активный run.
//
// Структура:
//   - scheduler.go — Scheduler (Start, Stop, Trigger)
//   - cron.go      — разбор SCHEDULES и cron-выражений
//
// Leader Election:
//
// При нескольких оркестраторах расписание должен исполнять один.
// Для этого в Config передаётся Leader (см. repo.AdvisoryLock):
// срабатывания на не-лидере пропускаются.
package scheduler
