package ratelimit

import "errors"

// Ошибки лимитера.
var (
	// ErrRetriesExhausted — все попытки вызова исчерпаны.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRefused — слайдинг-окно отклонило запрос.
	ErrRefused = errors.New("rate limit refused")
)
