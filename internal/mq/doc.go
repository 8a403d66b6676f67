// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — команды executor'ам и запросы на запуск flow runs
//   - consumer.go   — потребление событий stage runs
//
// Типы сообщений:
//   - stagerun.event — событие stage run от executor'а
//   - flowrun.start  — запрос на запуск flow run
//   - stage.start    — команда executor'ам: запустить stage run
//   - stage.cancel   — команда executor'ам: отменить stage run
//
// Exchanges:
//   - flowruns.stages    — входящие события stage runs
//   - flowruns.runs      — запросы на запуск flow runs
//   - flowruns.executors — команды executor'ам (topic)
//   - flowruns.dlq       — dead letter queue
package mq
