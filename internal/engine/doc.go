// Package engine реализует движок автоматизации: конвейер обработки
// правила (погода → условия → действия → запись аудита) и входные
// операции для коллаборатора и CLI.
//
// Конвейер одного тика (ProcessRule):
//  1. Загрузка правила; отсутствующее — окончательная ошибка,
//     неактивное — успех без действий.
//  2. Отметка last_checked_at.
//  3. Запрос погоды через rate limiter.
//  4. Вычисление условий (вложенная форма имеет приоритет над плоской).
//  5. Если условия выполнены — параллельные действия по целям.
//     Ошибка одной цели не прерывает соседние.
//  6. При полном успехе действий — отметка last_executed_at.
//  7. Запись выполнения в durable-лог; ошибка записи уводит
//     задание в retry.
//
// Структура:
//   - engine.go   — Engine, зависимости, входные операции
//   - pipeline.go — конвейер ProcessRule и запрос погоды
//   - dispatch.go — параллельная отправка действий по целям
//   - evaluate.go — чистое вычисление условий
//   - retry.go    — выбор задержки retry по классу ошибки задания
package engine
