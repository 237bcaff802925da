package domain

import (
	"time"
)

// Rule — правило автоматизации: связывает географическую точку,
// набор погодных условий и список целей на рекламных платформах.
//
// Правила принадлежат внешнему репозиторию (CRUD живёт вне ядра).
// Движок правила только читает и обновляет отметки
// last_checked_at / last_executed_at.
type Rule struct {
	// ID — уникальный идентификатор правила (непрозрачная строка).
	ID string `json:"id"`

	// UserID — владелец правила. По нему ищутся учётные данные платформ.
	UserID string `json:"user_id"`

	// Name — человекочитаемое имя (для CLI и дашбордов).
	Name string `json:"name,omitempty"`

	// IsActive — активно ли правило. Неактивные правила не планируются,
	// а при выполнении пропускаются без действий.
	IsActive bool `json:"is_active"`

	// Location — точка, по которой запрашивается погода.
	Location Location `json:"location"`

	// Conditions — плоский список условий (legacy-форма, семантика AND).
	// Используется, только когда ConditionLogic отсутствует.
	Conditions []Condition `json:"conditions,omitempty"`

	// ConditionLogic — вложенная форма условий (группы + глобальный
	// оператор). Имеет приоритет над Conditions.
	ConditionLogic *ConditionLogic `json:"condition_logic,omitempty"`

	// Campaigns — упорядоченный список целей. Каждая цель — ad set
	// на одной из платформ плюс желаемое действие.
	Campaigns []Target `json:"campaigns"`

	// CheckIntervalMinutes — период проверки правила в минутах.
	// Ингресс коллаборатора ограничивает диапазон [5, 1440];
	// ядро принимает любое положительное значение.
	CheckIntervalMinutes int `json:"check_interval_minutes"`

	// LastCheckedAt — время последней проверки. Обновляется на каждом тике.
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	// LastExecutedAt — время последнего успешного срабатывания
	// (условия выполнились и все действия прошли).
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	// CreatedAt — время создания правила.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// Location — географическая точка правила.
type Location struct {
	// Lat — широта в градусах, [-90, 90] включительно.
	Lat float64 `json:"lat"`

	// Lon — долгота в градусах, [-180, 180] включительно.
	Lon float64 `json:"lon"`
}

// Valid проверяет, что координаты лежат в допустимых диапазонах.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Platform — внешняя рекламная платформа.
type Platform string

const (
	// PlatformM — платформа M: действия над ad set (проверка + смена статуса).
	PlatformM Platform = "platform_m"

	// PlatformG — платформа G: смена статуса кампании.
	PlatformG Platform = "platform_g"
)

// TargetAction — действие над целью.
type TargetAction string

const (
	// ActionPause — поставить цель на паузу.
	ActionPause TargetAction = "pause"

	// ActionResume — возобновить показ.
	ActionResume TargetAction = "resume"
)

// TargetTypeAdSet — единственный поддерживаемый тип цели.
// Цели уровня кампании отклоняются на ингрессе коллаборатора.
const TargetTypeAdSet = "ad_set"

// Target — одна цель правила: ad set на платформе + действие.
type Target struct {
	// Platform — платформа цели: platform_m или platform_g.
	Platform Platform `json:"platform"`

	// CampaignID — идентификатор кампании на платформе.
	CampaignID string `json:"campaign_id"`

	// AdSetID — идентификатор ad set. Обязателен для каждой цели.
	AdSetID string `json:"ad_set_id"`

	// Action — действие: pause или resume.
	Action TargetAction `json:"action"`
}

// Interval возвращает период проверки как time.Duration.
func (r *Rule) Interval() time.Duration {
	return time.Duration(r.CheckIntervalMinutes) * time.Minute
}

// NextDueAt вычисляет время следующей проверки при стартовом планировании:
// max(now, last_checked_at + interval). Давно не проверявшиеся правила
// становятся due немедленно, недавно проверенные — по расписанию.
func (r *Rule) NextDueAt(now time.Time) time.Time {
	if r.LastCheckedAt == nil {
		return now
	}
	due := r.LastCheckedAt.Add(r.Interval())
	if due.Before(now) {
		return now
	}
	return due
}
