// Package api содержит ops HTTP API воркера.
//
// Структура:
//   - handler.go    — Handler с DI (движок, планировщик, реестр, logger)
//   - routes.go     — регистрация маршрутов
//   - middleware.go — middleware (logging, recovery)
//   - response.go   — унифицированные JSON-ответы
//
// API только читает: состояние очереди, окна rate limiter'а, реестр
// воркеров. Монтируется на mux воркера рядом с /healthz и /metrics.
// CRUD правил живёт у коллаборатора и сюда не входит.
package api
