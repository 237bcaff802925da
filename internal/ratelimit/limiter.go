package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tempest/internal/backoff"
	"github.com/shaiso/Tempest/internal/telemetry"
)

// Имена сервисов, разделяющих бюджеты запросов.
const (
	ServiceWeather      = "weather"
	ServicePlatformMAds = "platform_m_ads"
	ServicePlatformGAds = "platform_g_ads"
)

// ServiceLimit — бюджет одного сервиса.
type ServiceLimit struct {
	// MaxRequests — максимум запросов в окне.
	MaxRequests int

	// Window — ширина слайдинг-окна.
	Window time.Duration

	// DefaultRetryAfter — задержка при отказе, когда возраст
	// старейшей метки неизвестен.
	DefaultRetryAfter time.Duration
}

// DefaultLimits — бюджеты внешних сервисов.
func DefaultLimits() map[string]ServiceLimit {
	return map[string]ServiceLimit{
		ServicePlatformMAds: {MaxRequests: 200, Window: time.Hour, DefaultRetryAfter: time.Hour},
		ServicePlatformGAds: {MaxRequests: 10000, Window: 24 * time.Hour, DefaultRetryAfter: 5 * time.Minute},
		ServiceWeather:      {MaxRequests: 1000, Window: 24 * time.Hour, DefaultRetryAfter: time.Minute},
	}
}

// Decision — результат проверки слайдинг-окна.
type Decision struct {
	// Allowed — запрос пропущен.
	Allowed bool

	// Remaining — сколько запросов осталось в окне (после этого).
	Remaining int

	// RetryAfter — через сколько повторять при отказе.
	RetryAfter time.Duration

	// Limit — бюджет сервиса (0 — сервис не отслеживается).
	Limit int
}

// Limiter — распределённый rate limiter: слайдинг-окно на sorted set'ах
// координационного стора плюс persisted backoff-гейты на (service, endpoint).
//
// Недоступность стора и неизвестные сервисы обрабатываются fail-open:
// лучше лишний внешний вызов, чем остановка всех воркеров.
type Limiter struct {
	client *redis.Client
	limits map[string]ServiceLimit
	logger *slog.Logger
}

// Config — зависимости лимитера.
type Config struct {
	// Client — клиент координационного стора.
	Client *redis.Client

	// Limits — бюджеты сервисов. Nil — DefaultLimits().
	Limits map[string]ServiceLimit

	// Logger — логгер. Nil — slog.Default().
	Logger *slog.Logger
}

// New создаёт лимитер.
func New(cfg Config) *Limiter {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		client: cfg.Client,
		limits: limits,
		logger: logger,
	}
}

// windowKey — ключ окна: ratelimit:<service>:<identifier|default>.
func windowKey(service, identifier string) string {
	if identifier == "" {
		identifier = "default"
	}
	return fmt.Sprintf("ratelimit:%s:%s", service, identifier)
}

// gateKey — ключ backoff-гейта: backoff:<service>:<endpoint>.
func gateKey(service, endpoint string) string {
	return fmt.Sprintf("backoff:%s:%s", service, endpoint)
}

// Check прогоняет запрос через слайдинг-окно сервиса.
//
// Одним атомарным батчем: вытесняет метки старше now − window, читает
// количество оставшихся, вставляет новую метку с бесконфликтным значением
// и продлевает TTL ключа. Если до вставки меток было ≥ max_requests,
// запрос отклоняется с retry-after = (oldest + window) − now, а когда
// старейшая метка неизвестна — DefaultRetryAfter сервиса.
//
// Метка отклонённого запроса остаётся в окне: отказ тоже нагрузка.
//
// Ошибок не возвращает: недоступность стора и неизвестный сервис
// дают Allowed=true с предупреждением в логе.
func (l *Limiter) Check(ctx context.Context, service, identifier string) *Decision {
	limit, ok := l.limits[service]
	if !ok {
		// Неизвестный сервис: пропускаем без учёта.
		l.logger.Warn("rate limit check for unknown service, allowing", "service", service)
		return &Decision{Allowed: true}
	}

	now := backoff.NowMillis()
	windowStart := now - limit.Window.Milliseconds()
	key := windowKey(service, identifier)
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.PExpire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail-open: стор недоступен — пропускаем с предупреждением.
		l.logger.Warn("rate limit check failed, allowing", "service", service, "error", err)
		return &Decision{Allowed: true, Limit: limit.MaxRequests}
	}

	count := int(countCmd.Val())
	if count >= limit.MaxRequests {
		retryAfter := limit.DefaultRetryAfter
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			if computed := time.Duration(int64(oldest[0].Score)+limit.Window.Milliseconds()-now) * time.Millisecond; computed > 0 {
				retryAfter = computed
			}
		}
		telemetry.RateLimitRefusals.WithLabelValues(service).Inc()
		return &Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
			Limit:      limit.MaxRequests,
		}
	}

	remaining := limit.MaxRequests - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{Allowed: true, Remaining: remaining, Limit: limit.MaxRequests}
}

// GateRemaining возвращает, сколько осталось ждать по backoff-гейту
// (0 — гейта нет или он истёк). Ошибки стора трактуются как отсутствие гейта.
func (l *Limiter) GateRemaining(ctx context.Context, service, endpoint string) time.Duration {
	val, err := l.client.Get(ctx, gateKey(service, endpoint)).Result()
	if err != nil {
		if err != redis.Nil {
			l.logger.Warn("backoff gate read failed, ignoring", "service", service, "endpoint", endpoint, "error", err)
		}
		return 0
	}
	deadline, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	remaining := deadline - backoff.NowMillis()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// SetGate ставит backoff-гейт на (service, endpoint) на delay вперёд.
func (l *Limiter) SetGate(ctx context.Context, service, endpoint string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	deadline := backoff.NowMillis() + delay.Milliseconds()
	if err := l.client.Set(ctx, gateKey(service, endpoint), strconv.FormatInt(deadline, 10), delay).Err(); err != nil {
		l.logger.Warn("backoff gate write failed", "service", service, "endpoint", endpoint, "error", err)
	}
}

// ClearGate снимает backoff-гейт после успешного вызова.
func (l *Limiter) ClearGate(ctx context.Context, service, endpoint string) {
	if err := l.client.Del(ctx, gateKey(service, endpoint)).Err(); err != nil {
		l.logger.Warn("backoff gate clear failed", "service", service, "endpoint", endpoint, "error", err)
	}
}

// ServiceStats — текущее состояние окна одного сервиса
// (по identifier "default").
type ServiceStats struct {
	Used      int64 `json:"used"`
	Limit     int   `json:"limit"`
	Remaining int64 `json:"remaining"`
	WindowMS  int64 `json:"window_ms"`
}

// Stats возвращает состояние окон всех настроенных сервисов.
func (l *Limiter) Stats(ctx context.Context) (map[string]ServiceStats, error) {
	out := make(map[string]ServiceStats, len(l.limits))
	for service, limit := range l.limits {
		windowStart := backoff.NowMillis() - limit.Window.Milliseconds()
		used, err := l.client.ZCount(ctx, windowKey(service, "default"),
			strconv.FormatInt(windowStart, 10), "+inf").Result()
		if err != nil {
			return nil, fmt.Errorf("count window %s: %w", service, err)
		}
		remaining := int64(limit.MaxRequests) - used
		if remaining < 0 {
			remaining = 0
		}
		out[service] = ServiceStats{
			Used:      used,
			Limit:     limit.MaxRequests,
			Remaining: remaining,
			WindowMS:  limit.Window.Milliseconds(),
		}
	}
	return out, nil
}
