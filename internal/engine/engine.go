package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/platform"
	"github.com/shaiso/Tempest/internal/ratelimit"
	"github.com/shaiso/Tempest/internal/repo"
	"github.com/shaiso/Tempest/internal/scheduler"
)

// RuleRepository — порт чтения правил и обновления их отметок.
type RuleRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Rule, error)
	ListActive(ctx context.Context) ([]domain.Rule, error)
	SetLastChecked(ctx context.Context, id string, at time.Time) error
	SetLastExecuted(ctx context.Context, id string, at time.Time) error
}

// ExecutionLog — порт durable-лога выполнений.
type ExecutionLog interface {
	Append(ctx context.Context, rec *domain.ExecutionRecord) error
}

// WeatherClient — порт погодного API.
type WeatherClient interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (*domain.WeatherSnapshot, error)
}

// PlatformM — порт платформы M (ad set: чтение + смена статуса).
type PlatformM interface {
	GetAdSet(ctx context.Context, adSetID, token string) (*platform.AdSet, error)
	UpdateAdSetStatus(ctx context.Context, adSetID, status, token string) error
}

// PlatformG — порт платформы G (смена статуса кампании).
type PlatformG interface {
	UpdateCampaignStatus(ctx context.Context, campaignID, status, token string) error
}

// WorkerLister — порт чтения реестра воркеров (для статистики).
type WorkerLister interface {
	List(ctx context.Context) ([]domain.WorkerRecord, error)
}

// EventPublisher — порт публикации события о записанном выполнении.
type EventPublisher interface {
	PublishExecutionRecorded(ctx context.Context, rec *domain.ExecutionRecord) error
}

// Engine — движок автоматизации. Потребляет готовые задания
// планировщика, выполняет конвейер тика и предоставляет входные
// операции коллаборатору и CLI.
type Engine struct {
	sched      *scheduler.Scheduler
	limiter    *ratelimit.Limiter
	rules      RuleRepository
	executions ExecutionLog
	creds      platform.CredentialsLookup
	weather    WeatherClient
	platformM  PlatformM
	platformG  PlatformG
	workers    WorkerLister
	events     EventPublisher
	logger     *slog.Logger
}

// Config — зависимости движка.
type Config struct {
	Scheduler  *scheduler.Scheduler
	Limiter    *ratelimit.Limiter
	Rules      RuleRepository
	Executions ExecutionLog
	Creds      platform.CredentialsLookup
	Weather    WeatherClient
	PlatformM  PlatformM
	PlatformG  PlatformG

	// Workers — реестр воркеров для статистики. Опционален.
	Workers WorkerLister

	// Events — публикация execution.recorded. Опциональна:
	// nil — события не публикуются.
	Events EventPublisher

	// Logger — логгер. Nil — slog.Default().
	Logger *slog.Logger
}

// New создаёт движок.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sched:      cfg.Scheduler,
		limiter:    cfg.Limiter,
		rules:      cfg.Rules,
		executions: cfg.Executions,
		creds:      cfg.Creds,
		weather:    cfg.Weather,
		platformM:  cfg.PlatformM,
		platformG:  cfg.PlatformG,
		workers:    cfg.Workers,
		events:     cfg.Events,
		logger:     logger,
	}
}

// ScheduleRuleCheck ставит периодическую проверку правила в планировщик.
// Идемпотентно: id задания детерминирован, повторный вызов обновляет
// расписание вместо дублирования.
func (e *Engine) ScheduleRuleCheck(ctx context.Context, ruleID, userID string, intervalMinutes int) (*domain.Job, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule id is empty")
	}
	if intervalMinutes <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", intervalMinutes)
	}
	return e.sched.ScheduleRuleCheck(ctx, ruleID, userID, intervalMinutes)
}

// RemoveRule удаляет задание проверки правила вместе с захватами.
func (e *Engine) RemoveRule(ctx context.Context, ruleID string) error {
	return e.sched.Remove(ctx, domain.RuleCheckJobID(ruleID))
}

// RunRuleOnce выполняет конвейер правила синхронно, минуя планировщик.
// Расписание не затрагивается: следующий периодический тик сработает
// в свой срок.
func (e *Engine) RunRuleOnce(ctx context.Context, ruleID string) (*domain.ExecutionRecord, error) {
	return e.ProcessRule(ctx, ruleID)
}

// TestRule — сухой прогон: свежая погода, вычисление условий,
// синтетические действия без вызовов платформ. Запись не попадает
// в durable-лог, отметки правила не меняются.
func (e *Engine) TestRule(ctx context.Context, ruleID string) (*domain.ExecutionRecord, error) {
	rule, err := e.rules.FindByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}

	rec := domain.NewExecutionRecord(rule, time.Now())
	rec.DryRun = true

	snapshot, weatherCalls, err := e.fetchWeather(ctx, rule)
	rec.Metrics.WeatherCalls = weatherCalls
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	rec.WeatherData = snapshot

	met, evaluated := EvaluateRule(rule, snapshot)
	rec.ConditionsMet = met
	rec.Metrics.ConditionsEvaluated = evaluated

	if met {
		now := time.Now()
		rec.ActionsTaken = make([]domain.ActionResult, len(rule.Campaigns))
		for i, t := range rule.Campaigns {
			rec.ActionsTaken[i] = domain.ActionResult{
				Platform:   t.Platform,
				CampaignID: t.CampaignID,
				AdSetID:    t.AdSetID,
				TargetType: domain.TargetTypeAdSet,
				Action:     t.Action,
				Success:    true,
				ExecutedAt: now,
			}
		}
		rec.Metrics.ActionsExecuted = len(rec.ActionsTaken)
	}

	rec.Success = true
	return rec, nil
}

// ScheduleActiveRules — стартовый скан: ставит задание на каждое
// активное правило. Время первого тика — max(now, last_checked + interval):
// давно не проверявшиеся правила становятся due немедленно.
func (e *Engine) ScheduleActiveRules(ctx context.Context) (int, error) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active rules: %w", err)
	}

	now := time.Now()
	scheduled := 0
	for i := range rules {
		rule := &rules[i]
		job := domain.NewRuleCheckJob(rule.ID, rule.UserID, rule.CheckIntervalMinutes, now)
		job.ScheduledAt = rule.NextDueAt(now).UnixMilli()
		if err := e.sched.Schedule(ctx, job); err != nil {
			return scheduled, fmt.Errorf("schedule rule %s: %w", rule.ID, err)
		}
		scheduled++
	}

	e.logger.Info("active rules scheduled", "count", scheduled)
	return scheduled, nil
}

// SyncActiveRules сверяет расписание с активными правилами: ставит
// задания потерянным правилам и убирает задания деактивированных.
// Страховка на случай потерянных событий коллаборатора.
func (e *Engine) SyncActiveRules(ctx context.Context) error {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active rules: %w", err)
	}

	active := make(map[string]bool, len(rules))
	now := time.Now()
	for i := range rules {
		rule := &rules[i]
		active[domain.RuleCheckJobID(rule.ID)] = true

		if _, err := e.sched.GetJob(ctx, domain.RuleCheckJobID(rule.ID)); err == nil {
			continue
		}
		job := domain.NewRuleCheckJob(rule.ID, rule.UserID, rule.CheckIntervalMinutes, now)
		job.ScheduledAt = rule.NextDueAt(now).UnixMilli()
		if err := e.sched.Schedule(ctx, job); err != nil {
			return fmt.Errorf("schedule missing rule %s: %w", rule.ID, err)
		}
		e.logger.Info("re-scheduled missing rule check", "rule_id", rule.ID)
	}

	// Задания деактивированных правил снимаются.
	listings, err := e.sched.ListJobs(ctx, 10_000)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, l := range listings {
		if l.Job.Type != domain.JobTypeRuleCheck || active[l.Job.ID] {
			continue
		}
		if l.State == "processing" {
			// Дорабатывает текущий тик; снимется на следующей сверке.
			continue
		}
		if err := e.sched.Remove(ctx, l.Job.ID); err != nil {
			e.logger.Warn("failed to remove stale job", "job_id", l.Job.ID, "error", err)
			continue
		}
		e.logger.Info("removed job of deactivated rule", "job_id", l.Job.ID, "rule_id", l.Job.RuleID)
	}
	return nil
}

// Stats — сводное состояние движка.
type Stats struct {
	Jobs       *scheduler.Stats                  `json:"jobs"`
	RateLimits map[string]ratelimit.ServiceStats `json:"rate_limits"`
	Workers    []domain.WorkerRecord             `json:"workers"`
	Timestamp  time.Time                         `json:"timestamp"`
}

// RateLimitStats возвращает состояние окон rate limiter'а по сервисам.
func (e *Engine) RateLimitStats(ctx context.Context) (map[string]ratelimit.ServiceStats, error) {
	return e.limiter.Stats(ctx)
}

// GetStats собирает состояние очереди, окон rate limiter'а и реестра
// воркеров.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	jobStats, err := e.sched.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	limitStats, err := e.limiter.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limit stats: %w", err)
	}

	var workers []domain.WorkerRecord
	if e.workers != nil {
		workers, err = e.workers.List(ctx)
		if err != nil {
			// Реестр справочный: его недоступность не валит статистику.
			e.logger.Warn("failed to list workers for stats", "error", err)
		}
	}

	return &Stats{
		Jobs:       jobStats,
		RateLimits: limitStats,
		Workers:    workers,
		Timestamp:  time.Now(),
	}, nil
}
