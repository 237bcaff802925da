// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - rule.activated     — правило активировано, нужна периодическая проверка
//   - rule.deactivated   — правило деактивировано, проверку снять
//   - rule.removed       — правило удалено, проверку снять
//   - execution.recorded — тик правила записан в durable-лог
//
// Exchanges:
//   - tempest.rules      — события жизненного цикла правил
//   - tempest.executions — события выполнений
//   - tempest.dlq        — dead letter queue
//
// RabbitMQ опционален: без него воркер планирует правила стартовым
// сканом и периодической сверкой с durable-стором.
package mq
