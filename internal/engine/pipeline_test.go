package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/platform"
	"github.com/shaiso/Tempest/internal/ratelimit"
	"github.com/shaiso/Tempest/internal/repo"
	"github.com/shaiso/Tempest/internal/scheduler"
)

// --- фейки портов ---

type fakeRules struct {
	mu           sync.Mutex
	rules        map[string]*domain.Rule
	lastChecked  map[string]time.Time
	lastExecuted map[string]time.Time
}

func newFakeRules(rules ...*domain.Rule) *fakeRules {
	m := make(map[string]*domain.Rule, len(rules))
	for _, r := range rules {
		m[r.ID] = r
	}
	return &fakeRules{
		rules:        m,
		lastChecked:  make(map[string]time.Time),
		lastExecuted: make(map[string]time.Time),
	}
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

func (f *fakeRules) SetLastChecked(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastChecked[id] = at
	return nil
}

func (f *fakeRules) SetLastExecuted(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExecuted[id] = at
	return nil
}

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

func (f *fakeExecutions) last(t *testing.T) *domain.ExecutionRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		t.Fatal("expected an execution record to be appended")
	}
	return f.records[len(f.records)-1]
}

type fakeWeather struct {
	mu       sync.Mutex
	snapshot *domain.WeatherSnapshot
	err      error
	calls    int
}

func (f *fakeWeather) CurrentWeather(_ context.Context, _, _ float64) (*domain.WeatherSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.snapshot
	return &cp, nil
}

type mUpdate struct {
	adSetID string
	status  string
}

type fakePlatformM struct {
	mu      sync.Mutex
	getErr  error
	updates []mUpdate
}

func (f *fakePlatformM) GetAdSet(_ context.Context, adSetID, _ string) (*platform.AdSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &platform.AdSet{ID: adSetID, Status: platform.MStatusActive}, nil
}

func (f *fakePlatformM) UpdateAdSetStatus(_ context.Context, adSetID, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, mUpdate{adSetID: adSetID, status: status})
	return nil
}

type gUpdate struct {
	campaignID string
	status     string
}

type fakePlatformG struct {
	mu      sync.Mutex
	err     error
	updates []gUpdate
}

func (f *fakePlatformG) UpdateCampaignStatus(_ context.Context, campaignID, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, gUpdate{campaignID: campaignID, status: status})
	return nil
}

type fakeCreds struct {
	mTokens map[string]string
	gTokens map[string]string
}

func (f *fakeCreds) PlatformMToken(_ context.Context, userID string) (string, error) {
	token, ok := f.mTokens[userID]
	if !ok {
		return "", repo.ErrNotFound
	}
	return token, nil
}

func (f *fakeCreds) PlatformGToken(_ context.Context, userID string) (string, error) {
	token, ok := f.gTokens[userID]
	if !ok {
		return "", repo.ErrNotFound
	}
	return token, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	recorded []*domain.ExecutionRecord
}

func (f *fakeEvents) PublishExecutionRecorded(_ context.Context, rec *domain.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, rec)
	return nil
}

// --- сборка движка на фейках ---

type engineFixture struct {
	engine     *Engine
	rules      *fakeRules
	executions *fakeExecutions
	weather    *fakeWeather
	platformM  *fakePlatformM
	platformG  *fakePlatformG
	events     *fakeEvents
	sched      *scheduler.Scheduler
}

func newFixture(t *testing.T, rules ...*domain.Rule) *engineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx := &engineFixture{
		rules:      newFakeRules(rules...),
		executions: &fakeExecutions{},
		weather:    &fakeWeather{snapshot: &domain.WeatherSnapshot{Temperature: 32, Humidity: 60}},
		platformM:  &fakePlatformM{},
		platformG:  &fakePlatformG{},
		events:     &fakeEvents{},
		sched:      scheduler.New(scheduler.Config{Client: client, Logger: logger}),
	}
	fx.engine = New(Config{
		Scheduler:  fx.sched,
		Limiter:    ratelimit.New(ratelimit.Config{Client: client, Logger: logger}),
		Rules:      fx.rules,
		Executions: fx.executions,
		Creds:      &fakeCreds{mTokens: map[string]string{"user-1": "m-token"}, gTokens: map[string]string{"user-1": "g-token"}},
		Weather:    fx.weather,
		PlatformM:  fx.platformM,
		PlatformG:  fx.platformG,
		Events:     fx.events,
		Logger:     logger,
	})
	return fx
}

func heatRule() *domain.Rule {
	return &domain.Rule{
		ID:       "rule-1",
		UserID:   "user-1",
		Name:     "pause on heat",
		IsActive: true,
		Location: domain.Location{Lat: 55.75, Lon: 37.62},
		Conditions: []domain.Condition{
			{Parameter: domain.ParamTemperature, Operator: domain.OpGreaterThan, Value: 30},
		},
		Campaigns: []domain.Target{
			{Platform: domain.PlatformM, CampaignID: "camp-m", AdSetID: "adset-m", Action: domain.ActionPause},
			{Platform: domain.PlatformG, CampaignID: "camp-g", AdSetID: "adset-g", Action: domain.ActionPause},
		},
		CheckIntervalMinutes: 30,
	}
}

func TestProcessRule_ConditionsMetActionsSucceed(t *testing.T) {
	fx := newFixture(t, heatRule())
	ctx := context.Background()

	rec, err := fx.engine.ProcessRule(ctx, "rule-1")
	if err != nil {
		t.Fatalf("ProcessRule: %v", err)
	}
	if !rec.ConditionsMet || !rec.Success {
		t.Fatalf("expected met+success, got met=%v success=%v", rec.ConditionsMet, rec.Success)
	}

	// Действия в порядке целей правила.
	if len(rec.ActionsTaken) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(rec.ActionsTaken))
	}
	if rec.ActionsTaken[0].Platform != domain.PlatformM || !rec.ActionsTaken[0].Success {
		t.Errorf("first action: %+v", rec.ActionsTaken[0])
	}
	if rec.ActionsTaken[1].Platform != domain.PlatformG || !rec.ActionsTaken[1].Success {
		t.Errorf("second action: %+v", rec.ActionsTaken[1])
	}

	// Платформа M: чтение ad set + смена статуса; G: одна смена статуса.
	if len(fx.platformM.updates) != 1 || fx.platformM.updates[0] != (mUpdate{adSetID: "adset-m", status: platform.MStatusPaused}) {
		t.Errorf("platform M updates: %+v", fx.platformM.updates)
	}
	if len(fx.platformG.updates) != 1 || fx.platformG.updates[0] != (gUpdate{campaignID: "camp-g", status: platform.GStatusPaused}) {
		t.Errorf("platform G updates: %+v", fx.platformG.updates)
	}

	if rec.Metrics.WeatherCalls != 1 {
		t.Errorf("weather calls = %d, want 1", rec.Metrics.WeatherCalls)
	}
	if rec.Metrics.PlatformMCalls != 2 || rec.Metrics.PlatformGCalls != 1 {
		t.Errorf("platform calls m=%d g=%d, want 2 and 1", rec.Metrics.PlatformMCalls, rec.Metrics.PlatformGCalls)
	}

	// Отметки правила и запись аудита.
	if _, ok := fx.rules.lastChecked["rule-1"]; !ok {
		t.Error("last_checked_at was not stamped")
	}
	if _, ok := fx.rules.lastExecuted["rule-1"]; !ok {
		t.Error("last_executed_at was not stamped")
	}
	if got := fx.executions.last(t); got.ID != rec.ID {
		t.Error("appended record differs from returned one")
	}
	if len(fx.events.recorded) != 1 {
		t.Errorf("expected 1 published event, got %d", len(fx.events.recorded))
	}
}

func TestProcessRule_ConditionsNotMet(t *testing.T) {
	fx := newFixture(t, heatRule())
	fx.weather.snapshot.Temperature = 25

	rec, err := fx.engine.ProcessRule(context.Background(), "rule-1")
	if err != nil {
		t.Fatalf("ProcessRule: %v", err)
	}
	if rec.ConditionsMet || !rec.Success {
		t.Fatalf("expected not-met success, got met=%v success=%v", rec.ConditionsMet, rec.Success)
	}
	if len(rec.ActionsTaken) != 0 {
		t.Errorf("expected no actions, got %d", len(rec.ActionsTaken))
	}
	if len(fx.platformM.updates) != 0 || len(fx.platformG.updates) != 0 {
		t.Error("platforms must not be called when conditions are not met")
	}
	if _, ok := fx.rules.lastExecuted["rule-1"]; ok {
		t.Error("last_executed_at must not be stamped without actions")
	}
	// Запись аудита пишется и для тика без действий.
	if got := fx.executions.last(t); got.ConditionsMet {
		t.Error("appended record should reflect conditions_met=false")
	}
}

func TestProcessRule_RuleNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.engine.ProcessRule(context.Background(), "ghost")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
	if len(fx.executions.records) != 0 {
		t.Error("no record should be appended for a missing rule")
	}
	if fx.weather.calls != 0 {
		t.Error("weather must not be fetched for a missing rule")
	}
}

func TestProcessRule_InactiveRule(t *testing.T) {
	rule := heatRule()
	rule.IsActive = false
	fx := newFixture(t, rule)

	rec, err := fx.engine.ProcessRule(context.Background(), "rule-1")
	if err != nil {
		t.Fatalf("ProcessRule: %v", err)
	}
	if rec != nil {
		t.Fatalf("inactive rule should yield no record, got %+v", rec)
	}
	if fx.weather.calls != 0 {
		t.Error("weather must not be fetched for an inactive rule")
	}
	if len(fx.executions.records) != 0 {
		t.Error("no record should be appended for an inactive rule")
	}
}

func TestProcessRule_MissingAdSet(t *testing.T) {
	fx := newFixture(t, heatRule())
	fx.platformM.getErr = platform.ErrAdSetNotFound

	rec, err := fx.engine.ProcessRule(context.Background(), "rule-1")
	if !errors.Is(err, ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if rec.Success {
		t.Error("record must not be successful when an action failed")
	}

	// Соседняя цель выполняется несмотря на ошибку первой.
	if len(rec.ActionsTaken) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(rec.ActionsTaken))
	}
	if rec.ActionsTaken[0].Success || rec.ActionsTaken[0].ErrorMessage == "" {
		t.Errorf("first action should carry the failure: %+v", rec.ActionsTaken[0])
	}
	if !rec.ActionsTaken[1].Success {
		t.Errorf("second action should still succeed: %+v", rec.ActionsTaken[1])
	}
	if len(fx.platformG.updates) != 1 {
		t.Errorf("platform G should still be called, got %d updates", len(fx.platformG.updates))
	}

	if _, ok := fx.rules.lastExecuted["rule-1"]; ok {
		t.Error("last_executed_at must not be stamped on partial failure")
	}
	// Запись аудита сохраняется с частичным результатом.
	if got := fx.executions.last(t); got.ErrorMessage == "" {
		t.Error("appended record should carry the aggregated error message")
	}
}

func TestProcessRule_WeatherFailure(t *testing.T) {
	fx := newFixture(t, heatRule())
	fx.weather.err = ratelimit.NewAPIError(401, "", "invalid api key")

	rec, err := fx.engine.ProcessRule(context.Background(), "rule-1")
	if err == nil {
		t.Fatal("expected an error when weather fetch fails")
	}
	if rec == nil || rec.Success {
		t.Fatal("expected a failed record")
	}
	if rec.WeatherData != nil {
		t.Error("record must not carry a snapshot when fetch failed")
	}
	// Запись аудита пишется и при падении до вычисления условий.
	if got := fx.executions.last(t); got.WeatherData != nil || got.Success {
		t.Errorf("appended record: %+v", got)
	}
	if _, ok := fx.rules.lastChecked["rule-1"]; !ok {
		t.Error("last_checked_at should be stamped before the weather fetch")
	}
}

func TestProcessRule_MissingCredentials(t *testing.T) {
	fx := newFixture(t, heatRule())
	fx.engine.creds = &fakeCreds{gTokens: map[string]string{"user-1": "g-token"}}

	rec, err := fx.engine.ProcessRule(context.Background(), "rule-1")
	if !errors.Is(err, ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if rec.ActionsTaken[0].Success {
		t.Error("action without credentials must fail")
	}
	if rec.ActionsTaken[0].ErrorMessage != "platform_m account not found" {
		t.Errorf("error message = %q", rec.ActionsTaken[0].ErrorMessage)
	}
	if len(fx.platformM.updates) != 0 {
		t.Error("platform M must not be called without a token")
	}
	if !rec.ActionsTaken[1].Success {
		t.Error("platform G action should still succeed")
	}
}

func TestTestRule_DryRun(t *testing.T) {
	fx := newFixture(t, heatRule())

	rec, err := fx.engine.TestRule(context.Background(), "rule-1")
	if err != nil {
		t.Fatalf("TestRule: %v", err)
	}
	if !rec.DryRun || !rec.ConditionsMet || !rec.Success {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.ActionsTaken) != 2 {
		t.Fatalf("expected 2 synthetic actions, got %d", len(rec.ActionsTaken))
	}
	for _, a := range rec.ActionsTaken {
		if !a.Success {
			t.Errorf("synthetic action must be successful: %+v", a)
		}
	}

	// Сухой прогон: платформы не вызываются, лог и отметки не трогаются.
	if len(fx.platformM.updates) != 0 || len(fx.platformG.updates) != 0 {
		t.Error("dry run must not call platforms")
	}
	if len(fx.executions.records) != 0 {
		t.Error("dry run must not be appended to the execution log")
	}
	if len(fx.rules.lastChecked) != 0 || len(fx.rules.lastExecuted) != 0 {
		t.Error("dry run must not stamp rule marks")
	}
}

func TestScheduleActiveRules(t *testing.T) {
	r1 := heatRule()
	r2 := heatRule()
	r2.ID = "rule-2"
	inactive := heatRule()
	inactive.ID = "rule-3"
	inactive.IsActive = false

	fx := newFixture(t, r1, r2, inactive)
	ctx := context.Background()

	count, err := fx.engine.ScheduleActiveRules(ctx)
	if err != nil {
		t.Fatalf("ScheduleActiveRules: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 scheduled rules, got %d", count)
	}

	// Правило без last_checked_at становится due немедленно.
	job, err := fx.sched.GetJob(ctx, domain.RuleCheckJobID("rule-1"))
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.ScheduledAt > time.Now().Add(time.Second).UnixMilli() {
		t.Errorf("never-checked rule should be due now, scheduled_at=%d", job.ScheduledAt)
	}
	if _, err := fx.sched.GetJob(ctx, domain.RuleCheckJobID("rule-3")); err == nil {
		t.Error("inactive rule must not be scheduled")
	}
}

func TestSyncActiveRules(t *testing.T) {
	rule := heatRule()
	fx := newFixture(t, rule)
	ctx := context.Background()

	// Задание деактивированного правила снимается при сверке.
	if _, err := fx.engine.ScheduleRuleCheck(ctx, "rule-old", "user-1", 30); err != nil {
		t.Fatalf("schedule stale: %v", err)
	}
	if err := fx.engine.SyncActiveRules(ctx); err != nil {
		t.Fatalf("SyncActiveRules: %v", err)
	}

	if _, err := fx.sched.GetJob(ctx, domain.RuleCheckJobID("rule-old")); err == nil {
		t.Error("stale job should be removed")
	}
	if _, err := fx.sched.GetJob(ctx, domain.RuleCheckJobID("rule-1")); err != nil {
		t.Errorf("active rule should be re-scheduled: %v", err)
	}
}
