package engine

import (
	"errors"
	"strings"

	"github.com/shaiso/Tempest/internal/backoff"
	"github.com/shaiso/Tempest/internal/domain"
)

// RetryDelayMS выбирает задержку retry задания по классу ошибки тика:
//   - rate-limit: min(300000, 60000 × 2^retry_count)
//   - сеть/таймаут: min(60000, 5000 × 2^retry_count)
//   - остальное: min(120000, 10000 × 2^retry_count)
func RetryDelayMS(err error, retryCount int) int64 {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return cappedExp(60_000, retryCount, 300_000)
	case strings.Contains(msg, "network") || strings.Contains(msg, "timeout"):
		return cappedExp(5_000, retryCount, 60_000)
	default:
		return cappedExp(10_000, retryCount, 120_000)
	}
}

// cappedExp = min(cap, base × 2^n).
func cappedExp(base int64, n int, max int64) int64 {
	if n > 30 {
		return max
	}
	d := base << uint(n)
	if d > max {
		return max
	}
	return d
}

// JobResultFor собирает результат задания по исходу тика.
// ErrRuleNotFound — окончательная ошибка: задание удаляется.
func JobResultFor(err error, job *domain.Job) *domain.JobResult {
	result := &domain.JobResult{
		Success:     err == nil,
		CompletedAt: backoff.NowMillis(),
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	if errors.Is(err, ErrRuleNotFound) {
		result.Terminal = true
		return result
	}
	result.RetryAfterMS = RetryDelayMS(err, job.RetryCount)
	return result
}
