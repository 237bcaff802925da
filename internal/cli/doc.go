// Package cli реализует инструмент командной строки Tempest.
//
// # Обзор
//
// CLI подключается к сторам напрямую, как воркер: run-rule и test-rule
// выполняют конвейер синхронно в процессе команды, а start-worker
// поднимает полноценный воркер-демон в foreground.
//
// # Ключевые компоненты
//
// ## Deps
//
// Подключённые зависимости команды: координационный стор, durable-стор,
// планировщик, rate limiter, реестр и движок. Собираются лениво
// в начале RunE через Connect и закрываются по завершении.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: tempest list-jobs --json | jq .
//
// ## Commands
//
// Команды плоские, по одной на операцию:
//   - start-worker, stop-worker, list-workers
//   - list-rules, schedule-rule, run-rule, test-rule
//   - list-jobs, job-stats, rate-limit-stats
//
// Каждая команда создаётся фабричной функцией, принимающей outputFn —
// замыкание для ленивого создания Output после парсинга
// PersistentFlags.
package cli
