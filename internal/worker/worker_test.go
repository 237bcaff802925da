package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tempest/internal/backoff"
	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/engine"
	"github.com/shaiso/Tempest/internal/ratelimit"
	"github.com/shaiso/Tempest/internal/repo"
	"github.com/shaiso/Tempest/internal/scheduler"
)

// --- фейки ---

type fakeRegistry struct {
	mu        sync.Mutex
	statuses  []domain.WorkerStatus
	processed int
	succeeded int
	getStatus domain.WorkerStatus
}

func (f *fakeRegistry) Register(_ context.Context, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, domain.WorkerStatusStarting)
	return nil
}

func (f *fakeRegistry) Heartbeat(_ context.Context, _ string, _ int) error { return nil }

func (f *fakeRegistry) IncrementProcessed(_ context.Context, _ string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed++
	if success {
		f.succeeded++
	}
	return nil
}

func (f *fakeRegistry) SetStatus(_ context.Context, _ string, status domain.WorkerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, workerID string) (*domain.WorkerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.getStatus
	if status == "" {
		status = domain.WorkerStatusRunning
	}
	return &domain.WorkerRecord{WorkerID: workerID, Status: status}, nil
}

func (f *fakeRegistry) lastStatus() domain.WorkerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeRules struct {
	mu    sync.Mutex
	rules map[string]*domain.Rule
}

func (f *fakeRules) FindByID(_ context.Context, id string) (*domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRules) ListActive(_ context.Context) ([]domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Rule
	for _, r := range f.rules {
		if r.IsActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRules) SetLastChecked(_ context.Context, _ string, _ time.Time) error  { return nil }
func (f *fakeRules) SetLastExecuted(_ context.Context, _ string, _ time.Time) error { return nil }

type fakeExecutions struct {
	mu      sync.Mutex
	records []*domain.ExecutionRecord
}

func (f *fakeExecutions) Append(_ context.Context, rec *domain.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeExecutions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeWeather struct{}

func (fakeWeather) CurrentWeather(_ context.Context, _, _ float64) (*domain.WeatherSnapshot, error) {
	return &domain.WeatherSnapshot{Temperature: 20, Humidity: 50}, nil
}

// --- сборка ---

type workerFixture struct {
	worker     *Worker
	sched      *scheduler.Scheduler
	registry   *fakeRegistry
	rules      *fakeRules
	executions *fakeExecutions
}

func newWorkerFixture(t *testing.T, rules ...*domain.Rule) *workerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(scheduler.Config{Client: client, Logger: logger})

	ruleMap := make(map[string]*domain.Rule, len(rules))
	for _, r := range rules {
		ruleMap[r.ID] = r
	}
	fx := &workerFixture{
		sched:      sched,
		registry:   &fakeRegistry{},
		rules:      &fakeRules{rules: ruleMap},
		executions: &fakeExecutions{},
	}

	eng := engine.New(engine.Config{
		Scheduler:  sched,
		Limiter:    ratelimit.New(ratelimit.Config{Client: client, Logger: logger}),
		Rules:      fx.rules,
		Executions: fx.executions,
		Weather:    fakeWeather{},
		Logger:     logger,
	})

	fx.worker = New(Config{
		WorkerID: "test-worker-1",
		Engine:   eng,
		Sched:    sched,
		Registry: fx.registry,
		Logger:   logger,
	})
	return fx
}

func calmRule(id string) *domain.Rule {
	// Условие заведомо не выполняется: тик успешен и без действий.
	return &domain.Rule{
		ID:       id,
		UserID:   "user-1",
		IsActive: true,
		Conditions: []domain.Condition{
			{Parameter: domain.ParamTemperature, Operator: domain.OpGreaterThan, Value: 90},
		},
		CheckIntervalMinutes: 30,
	}
}

func dueJob(ruleID string) *domain.Job {
	return &domain.Job{
		ID:              domain.RuleCheckJobID(ruleID),
		Type:            domain.JobTypeRuleCheck,
		RuleID:          ruleID,
		UserID:          "user-1",
		IntervalMinutes: 30,
		MaxRetries:      3,
		ScheduledAt:     backoff.NowMillis() - 1000,
		CreatedAt:       time.Now(),
	}
}

func TestWorker_ProcessCycle_CompletesJob(t *testing.T) {
	fx := newWorkerFixture(t, calmRule("rule-1"))
	ctx := context.Background()

	if err := fx.sched.Schedule(ctx, dueJob("rule-1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	fx.worker.processCycle(ctx)
	fx.worker.jobWG.Wait()

	// Тик записан, задание перепланировано на следующий интервал.
	if fx.executions.count() != 1 {
		t.Fatalf("expected 1 execution record, got %d", fx.executions.count())
	}
	job, err := fx.sched.GetJob(ctx, domain.RuleCheckJobID("rule-1"))
	if err != nil {
		t.Fatalf("get job after cycle: %v", err)
	}
	next := backoff.NowMillis() + job.Interval().Milliseconds()
	if job.ScheduledAt < backoff.NowMillis() || job.ScheduledAt > next+5000 {
		t.Errorf("job not rescheduled to the next tick: scheduled_at=%d", job.ScheduledAt)
	}

	if fx.registry.processed != 1 || fx.registry.succeeded != 1 {
		t.Errorf("registry counters: processed=%d succeeded=%d", fx.registry.processed, fx.registry.succeeded)
	}
}

func TestWorker_ProcessCycle_TerminalJobIsDeleted(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	if err := fx.sched.Schedule(ctx, dueJob("ghost")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	fx.worker.processCycle(ctx)
	fx.worker.jobWG.Wait()

	// Правила нет: задание удалено без повторов.
	if _, err := fx.sched.GetJob(ctx, domain.RuleCheckJobID("ghost")); err == nil {
		t.Error("terminal job should be deleted")
	}
	if fx.registry.succeeded != 0 || fx.registry.processed != 1 {
		t.Errorf("registry counters: processed=%d succeeded=%d", fx.registry.processed, fx.registry.succeeded)
	}
}

func TestWorker_ProcessCycle_LostRaceIsSilent(t *testing.T) {
	fx := newWorkerFixture(t, calmRule("rule-1"))
	ctx := context.Background()

	if err := fx.sched.Schedule(ctx, dueJob("rule-1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Сосед успел захватить задание между выборкой и claim.
	if claimed, err := fx.sched.Claim(ctx, domain.RuleCheckJobID("rule-1")); err != nil || !claimed {
		t.Fatalf("pre-claim: claimed=%v err=%v", claimed, err)
	}

	fx.worker.processCycle(ctx)
	fx.worker.jobWG.Wait()

	if fx.executions.count() != 0 {
		t.Error("lost race must not produce an execution record")
	}
	if fx.registry.processed != 0 {
		t.Error("lost race must not bump registry counters")
	}
}

func TestWorker_StartStop(t *testing.T) {
	fx := newWorkerFixture(t)
	ctx := context.Background()

	if err := fx.worker.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if fx.worker.IsStopped() {
		t.Fatal("worker must not be stopped right after start")
	}

	fx.worker.Stop()

	if !fx.worker.IsStopped() {
		t.Error("worker must report stopped")
	}
	if got := fx.registry.lastStatus(); got != domain.WorkerStatusStopped {
		t.Errorf("last registry status = %q, want stopped", got)
	}
	// Повторный Stop безопасен.
	fx.worker.Stop()
}

func TestWorker_StopRequestViaRegistry(t *testing.T) {
	fx := newWorkerFixture(t)
	fx.registry.getStatus = domain.WorkerStatusStopping

	stopRequested := make(chan struct{})
	fx.worker.onStopRequest = func() { close(stopRequested) }
	fx.worker.heartbeatInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fx.worker.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fx.worker.Stop()

	select {
	case <-stopRequested:
	case <-time.After(2 * time.Second):
		t.Fatal("stop request from registry was not noticed")
	}
}
