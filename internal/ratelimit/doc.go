// Package ratelimit ограничивает частоту исходящих внешних вызовов.
//
// # Обзор
//
// Лимитер распределённый: состояние живёт в координационном сторе,
// поэтому бюджет сервиса делится между всеми воркерами. Состоит из
// двух механизмов:
//
//   - Слайдинг-окно: sorted set меток запросов на ключе
//     ratelimit:<service>:<identifier>. Одним атомарным батчем метки
//     старше окна вытесняются, считается текущая нагрузка и вставляется
//     новая метка.
//   - Backoff-гейт: строка backoff:<service>:<endpoint> с дедлайном.
//     Ставится, когда внешний сервис ответил rate-limit ошибкой,
//     и снимается первым успешным вызовом.
//
// # Сервисы
//
// Бюджеты (DefaultLimits):
//
//	platform_m_ads	200 запросов / 1 час
//	platform_g_ads	10000 запросов / 24 часа
//	weather 	1000 запросов / 24 часа
//
// Неизвестные сервисы пропускаются без учёта (fail-open), как и любые
// ошибки координационного стора: лишний внешний вызов дешевле, чем
// вставший воркер.
//
// # ExecuteWithBackoff
//
// Все внешние вызовы ядра идут через ExecuteWithBackoff:
//
//	err := limiter.ExecuteWithBackoff(ctx, ratelimit.Call{
//	    Service:    ratelimit.ServiceWeather,
//	    Endpoint:   "current_weather",
//	    MaxRetries: 3,
//	}, func(ctx context.Context) error {
//	    snap, err = weatherClient.CurrentWeather(ctx, lat, lon)
//	    return err
//	})
//
// Классификация ошибок (classify.go):
//   - rate-limit: HTTP 429/503 или сообщение про "rate limit",
//     "too many requests", "quota exceeded", "throttled" — ставится гейт
//     на Retry-After сервера либо экспоненциальную задержку;
//   - retryable: HTTP 408/429/5xx или сетевые сообщения — повтор
//     с экспоненциальной задержкой;
//   - terminal: всё остальное — немедленный возврат ошибки.
package ratelimit
