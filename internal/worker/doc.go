// Package worker реализует жизненный цикл воркера.
//
// # Обзор
//
// Worker — долгоживущий процесс, который превращает расписание
// планировщика в реальные тики правил. Worker отвечает за:
//
//   - Опрос готовых заданий (каждые 5 секунд, до 5 заданий за цикл)
//     и их атомарный захват
//   - Параллельную обработку захваченных заданий в пределах
//     max_concurrent_jobs
//   - Возврат зависших заданий в расписание (recovery-цикл)
//   - Heartbeat в реестр воркеров и реакцию на внешний запрос остановки
//   - Потребление событий rules.events из RabbitMQ (опционально)
//   - Периодическую сверку расписания с активными правилами
//
// # Масштабирование
//
// Воркеры горизонтальны и не знают друг о друге: единственная точка
// координации — атомарный claim в планировщике. Ровно один воркер
// выигрывает гонку за задание; проигравшие молча отбрасывают его.
//
// # Остановка
//
// Остановка кооперативная. Локальная (сигнал процессу) и внешняя
// (stop-worker пишет status=stopping в реестр) сходятся в Stop():
// опрос прекращается, задания в работе дорабатывают, запись в реестре
// переводится в stopped. Невозвращённые захваты упавшего воркера
// подберёт recovery-цикл соседа через 10 минут.
//
// # Структура
//
//   - worker.go   — циклы: обработка, recovery, heartbeat, сверка
//   - handlers.go — обработка одного задания и событий rules.events
//   - daemon.go   — сборка и запуск полного процесса воркера
package worker
