package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/ratelimit"
	"github.com/shaiso/Tempest/internal/repo"
)

// weatherEndpoint — имя эндпоинта погоды для backoff-гейта лимитера.
const weatherEndpoint = "current_weather"

// ProcessRule выполняет один тик правила.
//
// Возвращаемая ошибка уводит задание в retry (или удаляет его, если
// ошибка ErrRuleNotFound). Запись аудита добавляется в durable-лог
// и при успехе, и при неуспехе; исключение — падение до загрузки
// правила.
func (e *Engine) ProcessRule(ctx context.Context, ruleID string) (*domain.ExecutionRecord, error) {
	start := time.Now()
	logger := e.logger.With("rule_id", ruleID)

	// 1. Правило.
	rule, err := e.rules.FindByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if !rule.IsActive {
		// Неактивное правило — успех без действий: задание просто
		// перепланируется на следующий тик.
		logger.Debug("rule is inactive, skipping")
		return nil, nil
	}

	// 2. Отметка проверки.
	now := time.Now()
	if err := e.rules.SetLastChecked(ctx, rule.ID, now); err != nil {
		return nil, fmt.Errorf("stamp last_checked_at: %w", err)
	}

	rec := domain.NewExecutionRecord(rule, now)

	// 3. Погода через rate limiter.
	snapshot, weatherCalls, err := e.fetchWeather(ctx, rule)
	rec.Metrics.WeatherCalls = weatherCalls
	if err != nil {
		// Падение до вычисления условий: запись без снимка погоды.
		rec.Success = false
		rec.ErrorMessage = err.Error()
		rec.Metrics.TotalTimeMS = time.Since(start).Milliseconds()
		if appendErr := e.executions.Append(ctx, rec); appendErr != nil {
			logger.Warn("failed to record failed execution", "error", appendErr)
		}
		return rec, fmt.Errorf("fetch weather: %w", err)
	}
	rec.WeatherData = snapshot

	// 4. Условия.
	met, evaluated := EvaluateRule(rule, snapshot)
	rec.ConditionsMet = met
	rec.Metrics.ConditionsEvaluated = evaluated

	// 5. Действия.
	executionSuccess := true
	if met {
		e.dispatchActions(ctx, rule, rec)
		executionSuccess = rec.AllActionsSucceeded()

		// 6. Отметка срабатывания — только при полном успехе действий.
		if executionSuccess {
			if err := e.rules.SetLastExecuted(ctx, rule.ID, time.Now()); err != nil {
				return rec, fmt.Errorf("stamp last_executed_at: %w", err)
			}
		}
	}

	rec.Success = !met || executionSuccess
	if !rec.Success {
		rec.ErrorMessage = firstActionError(rec.ActionsTaken)
	}
	rec.Metrics.TotalTimeMS = time.Since(start).Milliseconds()

	// 7. Запись аудита. Ошибка вставки уводит задание в retry.
	if err := e.executions.Append(ctx, rec); err != nil {
		return rec, fmt.Errorf("append execution: %w", err)
	}
	e.publishExecution(ctx, rec)

	logger.Info("rule tick completed",
		"conditions_met", met,
		"actions", len(rec.ActionsTaken),
		"success", rec.Success,
		"total_time_ms", rec.Metrics.TotalTimeMS,
	)

	if !rec.Success {
		return rec, fmt.Errorf("%w: %s", ErrActionsFailed, rec.ErrorMessage)
	}
	return rec, nil
}

// fetchWeather запрашивает погоду точки правила через лимитер.
// Возвращает снимок и число попыток вызова (включая повторы).
func (e *Engine) fetchWeather(ctx context.Context, rule *domain.Rule) (*domain.WeatherSnapshot, int, error) {
	var snapshot *domain.WeatherSnapshot
	calls := 0

	err := e.limiter.ExecuteWithBackoff(ctx, ratelimit.Call{
		Service:  ratelimit.ServiceWeather,
		Endpoint: weatherEndpoint,
	}, func(ctx context.Context) error {
		calls++
		var err error
		snapshot, err = e.weather.CurrentWeather(ctx, rule.Location.Lat, rule.Location.Lon)
		return err
	})
	if err != nil {
		return nil, calls, err
	}
	return snapshot, calls, nil
}

// publishExecution публикует execution.recorded. Сбой публикации
// не влияет на результат тика: запись уже в durable-логе.
func (e *Engine) publishExecution(ctx context.Context, rec *domain.ExecutionRecord) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishExecutionRecorded(ctx, rec); err != nil {
		e.logger.Warn("failed to publish execution.recorded",
			"rule_id", rec.RuleID,
			"error", err,
		)
	}
}

// firstActionError возвращает текст первой неуспешной цели.
func firstActionError(actions []domain.ActionResult) string {
	failed := 0
	first := ""
	for _, a := range actions {
		if a.Success {
			continue
		}
		failed++
		if first == "" {
			first = a.ErrorMessage
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d actions failed: %s", failed, len(actions), first)
}
