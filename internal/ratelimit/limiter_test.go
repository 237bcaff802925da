package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T, limits map[string]ServiceLimit) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := New(Config{
		Client: client,
		Limits: limits,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return l, mr
}

func TestLimiter_Check_AllowsUnderLimit(t *testing.T) {
	l, _ := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 3, Window: time.Minute, DefaultRetryAfter: 5 * time.Second},
	})
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		d := l.Check(ctx, "svc", "")
		if !d.Allowed {
			t.Fatalf("check %d: expected allowed", i+1)
		}
		if d.Remaining != wantRemaining {
			t.Errorf("check %d: expected remaining %d, got %d", i+1, wantRemaining, d.Remaining)
		}
	}
}

func TestLimiter_Check_RefusesOverLimit(t *testing.T) {
	l, _ := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 2, Window: time.Minute, DefaultRetryAfter: 5 * time.Second},
	})
	ctx := context.Background()

	l.Check(ctx, "svc", "")
	l.Check(ctx, "svc", "")

	d := l.Check(ctx, "svc", "")
	if d.Allowed {
		t.Fatal("expected refusal over limit")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("retry-after %v outside (0, window]", d.RetryAfter)
	}

	// Метка отклонённого запроса остаётся в окне: следующий запрос
	// тоже отклоняется.
	d = l.Check(ctx, "svc", "")
	if d.Allowed {
		t.Error("expected refusal to persist while window is full")
	}
}

func TestLimiter_Check_WindowEviction(t *testing.T) {
	l, _ := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 1, Window: 100 * time.Millisecond, DefaultRetryAfter: time.Second},
	})
	ctx := context.Background()

	if d := l.Check(ctx, "svc", ""); !d.Allowed {
		t.Fatal("first check should pass")
	}
	if d := l.Check(ctx, "svc", ""); d.Allowed {
		t.Fatal("second check should be refused")
	}

	// После истечения окна старые метки вытесняются.
	time.Sleep(150 * time.Millisecond)
	if d := l.Check(ctx, "svc", ""); !d.Allowed {
		t.Error("check after window should pass again")
	}
}

func TestLimiter_Check_SeparateIdentifiers(t *testing.T) {
	l, _ := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 1, Window: time.Minute, DefaultRetryAfter: time.Second},
	})
	ctx := context.Background()

	if d := l.Check(ctx, "svc", "user-a"); !d.Allowed {
		t.Fatal("user-a should pass")
	}
	if d := l.Check(ctx, "svc", "user-a"); d.Allowed {
		t.Fatal("user-a second check should be refused")
	}

	// Разные identifier — разные окна.
	if d := l.Check(ctx, "svc", "user-b"); !d.Allowed {
		t.Error("user-b should have its own window")
	}
}

func TestLimiter_Check_UnknownService(t *testing.T) {
	l, mr := testLimiter(t, map[string]ServiceLimit{})
	ctx := context.Background()

	d := l.Check(ctx, "mystery", "")
	if !d.Allowed {
		t.Error("unknown service should fail open")
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("unknown service should not be tracked, found keys %v", mr.Keys())
	}
}

func TestLimiter_Check_FailOpenWhenStoreDown(t *testing.T) {
	l, mr := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 1, Window: time.Minute, DefaultRetryAfter: time.Second},
	})
	mr.Close()

	d := l.Check(context.Background(), "svc", "")
	if !d.Allowed {
		t.Error("store failure should fail open")
	}
}

func TestLimiter_Check_SetsTTL(t *testing.T) {
	l, mr := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 5, Window: time.Minute, DefaultRetryAfter: time.Second},
	})

	l.Check(context.Background(), "svc", "")

	ttl := mr.TTL("ratelimit:svc:default")
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected window TTL on key, got %v", ttl)
	}
}

func TestLimiter_Gates(t *testing.T) {
	l, _ := testLimiter(t, nil)
	ctx := context.Background()

	if got := l.GateRemaining(ctx, "svc", "ep"); got != 0 {
		t.Errorf("expected no gate initially, got %v", got)
	}

	l.SetGate(ctx, "svc", "ep", 500*time.Millisecond)
	got := l.GateRemaining(ctx, "svc", "ep")
	if got <= 0 || got > 500*time.Millisecond {
		t.Errorf("expected remaining in (0, 500ms], got %v", got)
	}

	l.ClearGate(ctx, "svc", "ep")
	if got := l.GateRemaining(ctx, "svc", "ep"); got != 0 {
		t.Errorf("expected gate cleared, got %v", got)
	}
}

func TestLimiter_GateExpires(t *testing.T) {
	l, _ := testLimiter(t, nil)
	ctx := context.Background()

	l.SetGate(ctx, "svc", "ep", 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// Дедлайн в прошлом — гейт считается снятым, даже если ключ ещё жив.
	if got := l.GateRemaining(ctx, "svc", "ep"); got != 0 {
		t.Errorf("expected expired gate, got %v", got)
	}
}

func TestLimiter_Stats(t *testing.T) {
	l, _ := testLimiter(t, map[string]ServiceLimit{
		"svc": {MaxRequests: 10, Window: time.Minute, DefaultRetryAfter: time.Second},
	})
	ctx := context.Background()

	l.Check(ctx, "svc", "")
	l.Check(ctx, "svc", "")
	l.Check(ctx, "svc", "")

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := stats["svc"]
	if !ok {
		t.Fatal("expected stats for svc")
	}
	if s.Used != 3 {
		t.Errorf("expected used 3, got %d", s.Used)
	}
	if s.Remaining != 7 {
		t.Errorf("expected remaining 7, got %d", s.Remaining)
	}
	if s.Limit != 10 {
		t.Errorf("expected limit 10, got %d", s.Limit)
	}
}
