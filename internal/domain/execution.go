package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionRecord — неизменяемая запись аудита об одном тике правила.
// Движок добавляет её в durable-лог после каждого выполнения.
type ExecutionRecord struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RuleID — правило, которое выполнялось.
	RuleID string `json:"rule_id"`

	// UserID — владелец правила.
	UserID string `json:"user_id"`

	// ExecutedAt — время выполнения тика.
	ExecutedAt time.Time `json:"executed_at"`

	// WeatherData — снимок погоды, по которому вычислялись условия.
	// Nil, если тик упал до получения погоды.
	WeatherData *WeatherSnapshot `json:"weather_data,omitempty"`

	// ConditionsMet — выполнились ли условия правила.
	ConditionsMet bool `json:"conditions_met"`

	// ActionsTaken — результаты действий, в порядке целей правила
	// (не в порядке завершения).
	ActionsTaken []ActionResult `json:"actions_taken,omitempty"`

	// Success — итог тика: !conditions_met || все действия успешны.
	Success bool `json:"success"`

	// ErrorMessage — ошибка тика, если была.
	ErrorMessage string `json:"error_message,omitempty"`

	// Metrics — счётчики выполнения.
	Metrics ExecutionMetrics `json:"metrics"`

	// DryRun — запись получена через test-rule: действия синтетические,
	// в durable-лог запись не сохранялась.
	DryRun bool `json:"dry_run,omitempty"`
}

// ActionResult — результат одного действия над целью.
type ActionResult struct {
	// Platform — платформа цели.
	Platform Platform `json:"platform"`

	// CampaignID — кампания цели.
	CampaignID string `json:"campaign_id"`

	// AdSetID — ad set цели. Непустой тогда и только тогда,
	// когда TargetType == ad_set (в ядре — всегда).
	AdSetID string `json:"ad_set_id,omitempty"`

	// TargetType — тип цели, сейчас всегда ad_set.
	TargetType string `json:"target_type"`

	// Action — выполненное действие (pause/resume).
	Action TargetAction `json:"action"`

	// Success — действие прошло успешно.
	Success bool `json:"success"`

	// ErrorMessage — ошибка действия. Ошибки отдельных целей
	// не прерывают соседние действия.
	ErrorMessage string `json:"error_message,omitempty"`

	// ExecutedAt — время завершения действия.
	ExecutedAt time.Time `json:"executed_at"`
}

// ExecutionMetrics — счётчики одного тика.
type ExecutionMetrics struct {
	// WeatherCalls — обращения к погодному API. Считаются попытки,
	// включая повторы после 429.
	WeatherCalls int `json:"weather_calls"`

	// PlatformMCalls — вызовы платформы M.
	PlatformMCalls int `json:"platform_m_calls"`

	// PlatformGCalls — вызовы платформы G.
	PlatformGCalls int `json:"platform_g_calls"`

	// TotalTimeMS — длительность тика в миллисекундах.
	TotalTimeMS int64 `json:"total_time_ms"`

	// ConditionsEvaluated — сколько условий было вычислено.
	ConditionsEvaluated int `json:"conditions_evaluated"`

	// ActionsExecuted — сколько действий было отправлено.
	ActionsExecuted int `json:"actions_executed"`
}

// NewExecutionRecord создаёт запись для тика правила rule в момент now.
func NewExecutionRecord(rule *Rule, now time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:         uuid.New(),
		RuleID:     rule.ID,
		UserID:     rule.UserID,
		ExecutedAt: now,
	}
}

// AllActionsSucceeded возвращает true, если все действия записи успешны.
// Для пустого списка — true.
func (e *ExecutionRecord) AllActionsSucceeded() bool {
	for _, a := range e.ActionsTaken {
		if !a.Success {
			return false
		}
	}
	return true
}
