// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики ядра (задания, внешние вызовы,
//     отказы rate limiter'а)
//
// Воркер использует единый формат логирования и экспортирует
// метрики на /metrics endpoint.
package telemetry
