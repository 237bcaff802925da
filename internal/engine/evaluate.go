package engine

import (
	"math"

	"github.com/shaiso/Tempest/internal/domain"
)

// equalsTolerance — допуск оператора equals. Ровно 0.1 разницы
// условием не считается.
const equalsTolerance = 0.1

// EvaluateCondition вычисляет одно условие по снимку погоды.
// Неизвестный параметр делает условие невыполненным.
func EvaluateCondition(c domain.Condition, w *domain.WeatherSnapshot) bool {
	v, ok := w.Value(c.Parameter)
	if !ok {
		return false
	}

	switch c.Operator {
	case domain.OpGreaterThan:
		return v > c.Value
	case domain.OpLessThan:
		return v < c.Value
	case domain.OpEquals:
		return math.Abs(v-c.Value) < equalsTolerance
	case domain.OpBetween:
		r := c.BetweenRange()
		return v >= c.Value-r && v <= c.Value+r
	default:
		return false
	}
}

// evaluateFlat вычисляет плоский список условий с семантикой AND.
// Пустой список — false. Возвращает результат и число вычисленных условий.
func evaluateFlat(conditions []domain.Condition, w *domain.WeatherSnapshot) (bool, int) {
	if len(conditions) == 0 {
		return false, 0
	}
	met := true
	for _, c := range conditions {
		if !EvaluateCondition(c, w) {
			met = false
		}
	}
	return met, len(conditions)
}

// evaluateLogic вычисляет вложенную форму: каждая группа сворачивается
// своим оператором, результаты групп объединяются глобальным.
// Пустой список групп — false.
func evaluateLogic(logic *domain.ConditionLogic, w *domain.WeatherSnapshot) (bool, int) {
	if len(logic.Groups) == 0 {
		return false, 0
	}

	evaluated := 0
	groupResults := make([]bool, len(logic.Groups))
	for i, group := range logic.Groups {
		evaluated += len(group.Conditions)
		groupResults[i] = evaluateGroup(group, w)
	}

	return combine(groupResults, logic.GlobalOperator), evaluated
}

// evaluateGroup сворачивает условия группы её оператором.
// Группа без условий: AND — true (пустая конъюнкция), OR — false.
func evaluateGroup(g domain.ConditionGroup, w *domain.WeatherSnapshot) bool {
	results := make([]bool, len(g.Conditions))
	for i, c := range g.Conditions {
		results[i] = EvaluateCondition(c, w)
	}
	return combine(results, g.Operator)
}

func combine(results []bool, op domain.LogicOperator) bool {
	if op == domain.LogicOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	// AND — оператор по умолчанию.
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// EvaluateRule вычисляет условия правила: вложенная форма имеет
// приоритет над плоским списком. Возвращает результат и число
// вычисленных условий. Функция чистая: равные входы дают равные выходы.
func EvaluateRule(rule *domain.Rule, w *domain.WeatherSnapshot) (bool, int) {
	if rule.ConditionLogic != nil {
		return evaluateLogic(rule.ConditionLogic, w)
	}
	return evaluateFlat(rule.Conditions, w)
}
