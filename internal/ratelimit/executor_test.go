package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Tempest/internal/backoff"
)

// fastPolicy — миллисекундные задержки, чтобы тесты не ждали.
func fastPolicy() *backoff.Policy {
	return &backoff.Policy{
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestExecuteWithBackoff_SuccessFirstTry(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())

	calls := 0
	err := l.ExecuteWithBackoff(context.Background(), Call{
		Service:  ServiceWeather,
		Endpoint: "current_weather",
	}, func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteWithBackoff_HonorsServerRetryAfter(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())

	calls := 0
	start := time.Now()
	err := l.ExecuteWithBackoff(context.Background(), Call{
		Service:  ServiceWeather,
		Endpoint: "current_weather",
		Policy:   fastPolicy(),
	}, func(context.Context) error {
		calls++
		if calls == 1 {
			return &APIError{StatusCode: 429, RetryAfter: 50 * time.Millisecond}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to sleep server Retry-After, elapsed %v", elapsed)
	}

	// Успех снимает гейт.
	if got := l.GateRemaining(context.Background(), ServiceWeather, "current_weather"); got != 0 {
		t.Errorf("expected gate cleared after success, got %v", got)
	}
}

func TestExecuteWithBackoff_TerminalNoRetry(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())

	calls := 0
	err := l.ExecuteWithBackoff(context.Background(), Call{
		Service:  ServicePlatformMAds,
		Endpoint: "adset_update",
		Policy:   fastPolicy(),
	}, func(context.Context) error {
		calls++
		return &APIError{StatusCode: 404, Message: "ad set not found"}
	})

	if calls != 1 {
		t.Errorf("terminal error should not retry, got %d calls", calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Errorf("expected original 404 error, got %v", err)
	}
}

func TestExecuteWithBackoff_RetriesExhausted(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())

	calls := 0
	err := l.ExecuteWithBackoff(context.Background(), Call{
		Service:    ServiceWeather,
		Endpoint:   "current_weather",
		MaxRetries: 2,
		Policy:     fastPolicy(),
	}, func(context.Context) error {
		calls++
		return &APIError{StatusCode: 500, Message: "boom"}
	})

	// 1 попытка + 2 повтора
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestExecuteWithBackoff_WindowRefusal(t *testing.T) {
	l, _ := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 1, Window: time.Minute, DefaultRetryAfter: 5 * time.Millisecond},
	})
	ctx := context.Background()

	// Забиваем окно.
	l.Check(ctx, "svc", "")

	calls := 0
	err := l.ExecuteWithBackoff(ctx, Call{
		Service:    "svc",
		Endpoint:   "ep",
		MaxRetries: 2,
		Policy:     fastPolicy(),
	}, func(context.Context) error {
		calls++
		return nil
	})

	// Каждая проверка оставляет метку, так что окно остаётся полным:
	// вызов не проходит вовсе.
	if calls != 0 {
		t.Errorf("expected no calls through a full window, got %d", calls)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestExecuteWithBackoff_GateBlocksBeforeCall(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())
	ctx := context.Background()

	l.SetGate(ctx, ServiceWeather, "current_weather", 30*time.Millisecond)

	calls := 0
	start := time.Now()
	err := l.ExecuteWithBackoff(ctx, Call{
		Service:  ServiceWeather,
		Endpoint: "current_weather",
		Policy:   fastPolicy(),
	}, func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call after gate wait, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected to wait out the gate, elapsed %v", elapsed)
	}
}

func TestExecuteWithBackoff_RateLimitErrorSetsGate(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	// 429 с длинным Retry-After: гейт ставится, executor засыпает,
	// контекст отменяет ожидание.
	err := l.ExecuteWithBackoff(ctx, Call{
		Service:    ServicePlatformGAds,
		Endpoint:   "campaign_update",
		MaxRetries: 1,
	}, func(context.Context) error {
		calls++
		return &APIError{StatusCode: 429, RetryAfter: 10 * time.Second}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if got := l.GateRemaining(context.Background(), ServicePlatformGAds, "campaign_update"); got <= 0 {
		t.Error("expected gate to persist after rate-limit error")
	}
}

func TestExecuteWithBackoff_ContextCanceled(t *testing.T) {
	l, _ := testLimiter(t, DefaultLimits())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := l.ExecuteWithBackoff(ctx, Call{
		Service:  ServiceWeather,
		Endpoint: "current_weather",
		Policy:   &backoff.Policy{InitialDelay: 10 * time.Second, Multiplier: 2, MaxDelay: time.Minute},
	}, func(context.Context) error {
		return &APIError{StatusCode: 500}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
