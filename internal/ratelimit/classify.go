package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError — ошибка внешнего API с HTTP-статусом.
// Клиенты погоды и платформ возвращают её для неуспешных ответов,
// чтобы лимитер мог классифицировать ошибку и учесть Retry-After.
type APIError struct {
	// StatusCode — HTTP-статус ответа.
	StatusCode int

	// RetryAfter — значение заголовка Retry-After (0, если заголовка не было).
	RetryAfter time.Duration

	// Message — тело или краткое описание ошибки.
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// NewAPIError собирает APIError из частей HTTP-ответа.
// retryAfter — сырое значение заголовка Retry-After: секунды или HTTP-дата.
func NewAPIError(status int, retryAfter, message string) *APIError {
	e := &APIError{StatusCode: status, Message: message}
	if retryAfter == "" {
		return e
	}
	if secs, err := strconv.Atoi(retryAfter); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
		return e
	}
	if at, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(at); d > 0 {
			e.RetryAfter = d
		}
	}
	return e
}

// Kind — класс ошибки внешнего вызова.
type Kind int

const (
	// KindTerminal — окончательная ошибка: повторять бессмысленно.
	KindTerminal Kind = iota

	// KindRateLimit — внешний сервис ограничил частоту запросов.
	// Лимитер ставит backoff-гейт на (service, endpoint).
	KindRateLimit

	// KindRetryable — временная ошибка: сеть, таймаут, 5xx.
	KindRetryable
)

// Фрагменты сообщений для классификации. Сравнение без учёта регистра.
var (
	rateLimitFragments = []string{
		"rate limit",
		"too many requests",
		"quota exceeded",
		"throttled",
	}

	retryableFragments = []string{
		"network",
		"timeout",
		"connection",
		"socket hang up",
	}

	retryableStatuses = map[int]bool{
		408: true,
		429: true,
		500: true,
		502: true,
		503: true,
		504: true,
	}
)

// Classify определяет класс ошибки внешнего вызова.
//
// Rate-limit: HTTP 429/503 или характерное сообщение. Проверяется
// первым: 429 и 503 входят и в retryable-статусы, но для них нужен
// backoff-гейт, а не простой повтор.
func Classify(err error) Kind {
	if err == nil {
		return KindTerminal
	}

	var apiErr *APIError
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	msg := strings.ToLower(err.Error())

	if status == 429 || status == 503 {
		return KindRateLimit
	}
	for _, f := range rateLimitFragments {
		if strings.Contains(msg, f) {
			return KindRateLimit
		}
	}

	if retryableStatuses[status] {
		return KindRetryable
	}
	for _, f := range retryableFragments {
		if strings.Contains(msg, f) {
			return KindRetryable
		}
	}

	return KindTerminal
}

// RetryAfterFromError извлекает серверный Retry-After из ошибки.
// Возвращает 0, если сервер его не прислал.
func RetryAfterFromError(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
