package backoff

import (
	"context"
	"testing"
	"time"
)

func TestPolicy_Delay_Exponential(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped at max
		{6, 10 * time.Second}, // stays at max
	}

	for _, tt := range tests {
		got := p.Delay(tt.attempt)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestPolicy_Delay_CustomMultiplier(t *testing.T) {
	p := Policy{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   3,
		MaxDelay:     time.Minute,
	}

	if got := p.Delay(2); got != 300*time.Millisecond {
		t.Errorf("expected 300ms, got %v", got)
	}
	if got := p.Delay(3); got != 900*time.Millisecond {
		t.Errorf("expected 900ms, got %v", got)
	}
}

func TestPolicy_Delay_ZeroValues(t *testing.T) {
	// Пустая политика должна вести себя как DefaultPolicy без джиттера
	var p Policy

	if got := p.Delay(1); got != time.Second {
		t.Errorf("expected 1s default, got %v", got)
	}
	if got := p.Delay(3); got != 4*time.Second {
		t.Errorf("expected 4s, got %v", got)
	}

	// Потолок по умолчанию — 5 минут
	if got := p.Delay(100); got != 5*time.Minute {
		t.Errorf("expected 5m cap, got %v", got)
	}
}

func TestPolicy_Delay_JitterBounds(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
		Jitter:       true,
	}

	// Джиттер умножает на [0.5, 1.0): результат строго меньше базы
	// и не меньше её половины.
	base := 4 * time.Second
	for i := 0; i < 200; i++ {
		got := p.Delay(3)
		if got < base/2 {
			t.Fatalf("delay %v below jitter floor %v", got, base/2)
		}
		if got >= base {
			t.Fatalf("delay %v at or above jitter ceiling %v", got, base)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.InitialDelay != time.Second {
		t.Errorf("expected 1s initial delay, got %v", p.InitialDelay)
	}
	if p.Multiplier != 2 {
		t.Errorf("expected multiplier 2, got %v", p.Multiplier)
	}
	if p.MaxDelay != 5*time.Minute {
		t.Errorf("expected 5m max delay, got %v", p.MaxDelay)
	}
	if !p.Jitter {
		t.Error("jitter should be on by default")
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // отменяем сразу

	if err := Sleep(ctx, 10*time.Second); err == nil {
		t.Error("expected context canceled error")
	}
}

func TestSleep_Zero(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("zero sleep should return immediately")
	}
}

func TestNowMillis(t *testing.T) {
	before := time.Now().UnixMilli()
	got := NowMillis()
	after := time.Now().UnixMilli()

	if got < before || got > after {
		t.Errorf("NowMillis %d outside [%d, %d]", got, before, after)
	}
}
