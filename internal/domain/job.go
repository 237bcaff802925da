package domain

import (
	"fmt"
	"time"
)

// JobTypeRuleCheck — тип задания: периодическая проверка правила.
const JobTypeRuleCheck = "automation_rule_check"

// DefaultMaxRetries — предел повторов задания по умолчанию.
const DefaultMaxRetries = 3

// Job — единица работы планировщика: одна назначенная проверка правила.
//
// Job создаётся когда:
// - Правило активируется (событие rule.activated или стартовый скан).
// - Планировщик завершает предыдущий тик (следующий периодический тик).
// - Планировщик назначает retry после временной ошибки.
//
// ID детерминирован (rule_check_<rule_id>), поэтому повторное
// планирование того же правила обновляет задание, а не дублирует его.
type Job struct {
	// ID — идентификатор задания. Для периодических проверок —
	// детерминированный rule_check_<rule_id>.
	ID string `json:"id"`

	// Type — тип задания. Сейчас единственный: automation_rule_check.
	Type string `json:"type"`

	// RuleID — проверяемое правило.
	RuleID string `json:"rule_id"`

	// UserID — владелец правила.
	UserID string `json:"user_id"`

	// IntervalMinutes — период между тиками в минутах.
	IntervalMinutes int `json:"interval_minutes"`

	// Priority — приоритет: меньше — раньше при равном scheduled_at.
	Priority int `json:"priority"`

	// Status — текущий статус задания.
	Status JobStatus `json:"status"`

	// RetryCount — число повторов после временных ошибок.
	// Сбрасывается в 0 при успешном завершении тика.
	RetryCount int `json:"retry_count"`

	// MaxRetries — предел повторов (по умолчанию 3).
	MaxRetries int `json:"max_retries"`

	// ScheduledAt — время готовности задания, unix-миллисекунды.
	// Инвариант: ScheduledAt ≥ CreatedAt.
	ScheduledAt int64 `json:"scheduled_at"`

	// LastError — последняя ошибка выполнения.
	LastError string `json:"last_error,omitempty"`

	// LastExecutedAt — время последнего успешного тика, unix-миллисекунды.
	LastExecutedAt int64 `json:"last_executed_at,omitempty"`

	// CreatedAt — время создания задания.
	CreatedAt time.Time `json:"created_at"`
}

// RuleCheckJobID возвращает детерминированный ID задания проверки правила.
func RuleCheckJobID(ruleID string) string {
	return fmt.Sprintf("rule_check_%s", ruleID)
}

// NewRuleCheckJob создаёт задание периодической проверки правила
// с первым срабатыванием через interval от now.
func NewRuleCheckJob(ruleID, userID string, intervalMinutes int, now time.Time) *Job {
	return &Job{
		ID:              RuleCheckJobID(ruleID),
		Type:            JobTypeRuleCheck,
		RuleID:          ruleID,
		UserID:          userID,
		IntervalMinutes: intervalMinutes,
		Status:          JobStatusPending,
		MaxRetries:      DefaultMaxRetries,
		ScheduledAt:     now.Add(time.Duration(intervalMinutes) * time.Minute).UnixMilli(),
		CreatedAt:       now,
	}
}

// CanRetry проверяет, остались ли у задания попытки.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Interval возвращает период между тиками как time.Duration.
func (j *Job) Interval() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}

// JobResult — результат выполнения задания. По нему планировщик решает:
// следующий периодический тик, retry или удаление.
type JobResult struct {
	// Success — тик завершился успешно.
	Success bool `json:"success"`

	// Error — текст ошибки при неуспехе.
	Error string `json:"error,omitempty"`

	// RetryAfterMS — явная задержка до повтора в мс (из классификации
	// ошибки движком). Если 0, планировщик использует формулу
	// min(2^(retry_count+1) × 1000, 300000).
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`

	// Terminal — ошибка окончательная: задание удаляется без повторов
	// (например, правило больше не существует).
	Terminal bool `json:"terminal,omitempty"`

	// CompletedAt — время завершения, unix-миллисекунды. 0 — сейчас.
	CompletedAt int64 `json:"completed_at,omitempty"`
}
