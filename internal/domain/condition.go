package domain

// WeatherParameter — погодный параметр, по которому проверяется условие.
type WeatherParameter string

const (
	ParamTemperature   WeatherParameter = "temperature"
	ParamHumidity      WeatherParameter = "humidity"
	ParamWindSpeed     WeatherParameter = "wind_speed"
	ParamPrecipitation WeatherParameter = "precipitation"
	ParamVisibility    WeatherParameter = "visibility"
	ParamCloudCover    WeatherParameter = "cloud_cover"
)

// ConditionOperator — оператор сравнения в условии.
type ConditionOperator string

const (
	// OpGreaterThan — v > value.
	OpGreaterThan ConditionOperator = "greater_than"

	// OpLessThan — v < value.
	OpLessThan ConditionOperator = "less_than"

	// OpEquals — |v − value| < 0.1. Ровно 0.1 условием не считается.
	OpEquals ConditionOperator = "equals"

	// OpBetween — value − range ≤ v ≤ value + range.
	OpBetween ConditionOperator = "between"
)

// LogicOperator — способ объединения булевых результатов.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// DefaultBetweenRange — полуширина интервала between по умолчанию.
const DefaultBetweenRange = 5.0

// Condition — одно погодное условие.
type Condition struct {
	// Parameter — проверяемый параметр погоды. Неизвестный параметр
	// делает условие невыполненным.
	Parameter WeatherParameter `json:"parameter"`

	// Operator — оператор сравнения.
	Operator ConditionOperator `json:"operator"`

	// Value — пороговое значение.
	Value float64 `json:"value"`

	// Unit — единица измерения (информационная: °C, %, m/s, mm/h, km).
	Unit string `json:"unit,omitempty"`

	// Range — полуширина интервала для between.
	// Nil означает значение по умолчанию (5).
	Range *float64 `json:"range,omitempty"`
}

// BetweenRange возвращает полуширину интервала between с учётом default.
func (c Condition) BetweenRange() float64 {
	if c.Range != nil {
		return *c.Range
	}
	return DefaultBetweenRange
}

// ConditionGroup — группа условий, сворачиваемая своим оператором.
type ConditionGroup struct {
	// Operator — как сворачивать условия группы: AND (все) или OR (любое).
	Operator LogicOperator `json:"operator"`

	// Conditions — условия группы.
	Conditions []Condition `json:"conditions"`
}

// TimeFrame — подсказка продуктового слоя о горизонте прогноза.
// Переносится в данных как есть; в вычислении условий не участвует.
type TimeFrame struct {
	// Days — горизонт в днях, [1, 5].
	Days int `json:"days"`

	// Action — "on" или "off".
	Action string `json:"action"`
}

// ConditionLogic — вложенная форма условий: группы, объединяемые
// глобальным оператором. Пустой список групп означает
// "условия не выполнены".
type ConditionLogic struct {
	// Groups — группы условий.
	Groups []ConditionGroup `json:"groups"`

	// GlobalOperator — как объединять результаты групп.
	GlobalOperator LogicOperator `json:"global_operator"`

	// TimeFrame — необязательная подсказка о горизонте прогноза.
	TimeFrame *TimeFrame `json:"time_frame,omitempty"`
}
