package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// NowMillis возвращает текущее время в unix-миллисекундах.
// Все метки времени координационного стора считаются в этой шкале.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Policy — параметры экспоненциальной задержки.
type Policy struct {
	// InitialDelay — задержка первой попытки. По умолчанию 1s.
	InitialDelay time.Duration

	// Multiplier — множитель между попытками. По умолчанию 2.
	Multiplier float64

	// MaxDelay — потолок задержки. По умолчанию 5 минут.
	MaxDelay time.Duration

	// Jitter — умножать ли задержку на равномерную величину из [0.5, 1.0).
	Jitter bool
}

// DefaultPolicy возвращает политику по умолчанию:
// 1s × 2^(n−1), потолок 5 минут, джиттер включён.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		Jitter:       true,
	}
}

// Delay вычисляет задержку перед попыткой attempt (нумерация с 1):
// min(initial × multiplier^(attempt−1), max). С джиттером результат
// умножается на равномерную величину из [0.5, 1.0).
//
// Нулевые поля политики заменяются значениями по умолчанию,
// поэтому Delay безопасно звать на пустом Policy{}.
func (p Policy) Delay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Minute
	}

	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if delay >= float64(max) {
			delay = float64(max)
			break
		}
	}
	if delay > float64(max) {
		delay = float64(max)
	}

	if p.Jitter {
		delay *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(delay)
}

// Sleep ждёт d с учётом контекста. Возвращает ctx.Err(), если контекст
// отменили раньше.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
