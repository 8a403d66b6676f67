// Package api содержит HTTP API оркестратора.
//
// Структура:
//   - handler.go         — Handler с DI (сервисы, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (recovery, logging, metrics)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - flowrun_handler.go — обработчики flow runs и событий stage runs
//
// События stage runs можно отправить и через HTTP: это тот же
// Dispatcher, что обслуживает очередь stageruns.events.
package api
