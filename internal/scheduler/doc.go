// Package scheduler реализует персистентную очередь заданий
// с временным порядком поверх координационного стора.
//
// Три объекта в сторе:
//   - jobs:scheduled — sorted set, score = scheduled_at (unix-мс)
//   - jobs:processing — set захваченных заданий
//   - job:<id> — hash с сериализованным заданием и отметкой начала обработки
//
// Последний результат каждого задания пишется в jobs:results:<id>
// с TTL 24 часа.
//
// Жизненный цикл задания:
//
//	(нет) ──Schedule──▶ scheduled ──Claim──▶ processing
//	          ▲ │                                │
//	          │ │ RecoverStuck (>10 мин)         │ Complete(успех / retry)
//	          │ └────────────────────────────────┤
//	          └─────────◀────────────────────────┤
//	                                             │ Complete(окончательно)
//	                                             ▼
//	                                           (нет)
//
// Гонки между воркерами разрешаются единственной точкой линеаризации —
// атомарным Claim (Lua-скрипт ZREM + SADD). Никаких вторичных ключей
// "владелец — воркер X" не вводится: они дают split-brain при сетевых
// партициях.
//
// Scheduler пассивен: циклы опроса и восстановления запускает worker.
package scheduler
