package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Tempest/internal/backoff"
	"github.com/shaiso/Tempest/internal/telemetry"
)

// Call — описание внешнего вызова под управлением лимитера.
type Call struct {
	// Service — имя сервиса (бюджет слайдинг-окна).
	Service string

	// Endpoint — имя эндпоинта. Backoff-гейт ставится на пару
	// (service, endpoint).
	Endpoint string

	// Identifier — ключ окна внутри сервиса. Пустой — "default".
	Identifier string

	// MaxRetries — число повторов (всего 1+MaxRetries попыток).
	// 0 — значение по умолчанию 3.
	MaxRetries int

	// Policy — политика экспоненциальной задержки. Nil — DefaultPolicy.
	Policy *backoff.Policy
}

// ExecuteWithBackoff выполняет fn под защитой лимитера.
//
// Каждая попытка:
//  1. Пережидает активный backoff-гейт (ожидание расходует попытку).
//  2. Проходит слайдинг-окно; отказ — сон на retry-after и новая попытка.
//  3. Вызывает fn.
//  4. Успех — гейт снимается, возврат nil.
//  5. Ошибка классифицируется: rate-limit ставит гейт на Retry-After
//     сервера (или экспоненциальную задержку), retryable — просто
//     задержка, terminal — немедленный возврат ошибки.
//
// Когда попытки исчерпаны, возвращается ErrRetriesExhausted с последней
// причиной в тексте.
func (l *Limiter) ExecuteWithBackoff(ctx context.Context, call Call, fn func(context.Context) error) error {
	maxRetries := call.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	policy := backoff.DefaultPolicy()
	if call.Policy != nil {
		policy = *call.Policy
	}

	attempts := maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		// 1. Persisted backoff-гейт от предыдущих rate-limit ошибок.
		if wait := l.GateRemaining(ctx, call.Service, call.Endpoint); wait > 0 {
			lastErr = fmt.Errorf("%w: backoff gate on %s/%s", ErrRefused, call.Service, call.Endpoint)
			l.logger.Debug("backoff gate active, waiting",
				"service", call.Service,
				"endpoint", call.Endpoint,
				"wait", wait,
			)
			if err := backoff.Sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		// 2. Слайдинг-окно.
		decision := l.Check(ctx, call.Service, call.Identifier)
		if !decision.Allowed {
			lastErr = fmt.Errorf("%w: %s window exceeded", ErrRefused, call.Service)
			l.logger.Warn("rate limit window refused call",
				"service", call.Service,
				"endpoint", call.Endpoint,
				"retry_after", decision.RetryAfter,
			)
			if attempt < attempts {
				if err := backoff.Sleep(ctx, decision.RetryAfter); err != nil {
					return err
				}
			}
			continue
		}

		// 3. Вызов.
		telemetry.ExternalRequests.WithLabelValues(call.Service).Inc()
		err := fn(ctx)
		if err == nil {
			// 4. Успех: снимаем гейт, если стоял.
			l.ClearGate(ctx, call.Service, call.Endpoint)
			return nil
		}
		lastErr = err

		// 5. Классификация ошибки.
		var delay time.Duration
		switch Classify(err) {
		case KindRateLimit:
			delay = RetryAfterFromError(err)
			if delay <= 0 {
				delay = policy.Delay(attempt)
			}
			l.SetGate(ctx, call.Service, call.Endpoint, delay)
		case KindRetryable:
			delay = policy.Delay(attempt)
		default:
			// Terminal: повторять бессмысленно.
			return err
		}

		if attempt < attempts {
			l.logger.Debug("external call failed, retrying",
				"service", call.Service,
				"endpoint", call.Endpoint,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			if err := backoff.Sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}
