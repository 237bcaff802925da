package engine

import "errors"

// Ошибки движка.
var (
	// ErrRuleNotFound — правило не существует. Окончательная ошибка:
	// задание удаляется без повторов.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleInactive — правило выключено. Не ошибка выполнения,
	// используется только во входных операциях (RunRuleOnce, TestRule).
	ErrRuleInactive = errors.New("rule is not active")

	// ErrActionsFailed — часть действий тика завершилась неуспешно.
	// Временная ошибка: задание уходит в retry по бюджету повторов.
	ErrActionsFailed = errors.New("one or more actions failed")
)
