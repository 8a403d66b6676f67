// Package orchestrator связывает RabbitMQ с ядром flow runs.
//
// Orchestrator отвечает за:
//   - Восстановление активных flow runs из БД при старте
//   - Приём событий stage runs из очереди stageruns.events
//   - Приём запросов на запуск flow runs из очереди flowruns.start
//
// Сами переходы выполняют flowrun.Service и stagerun.Dispatcher;
// здесь решается только судьба сообщения: ack, повтор или DLQ.
package orchestrator
