package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/platform"
	"github.com/shaiso/Tempest/internal/ratelimit"
)

// Имена эндпоинтов платформ для backoff-гейтов лимитера.
const (
	endpointAdSetUpdate    = "adset_update"
	endpointCampaignUpdate = "campaign_update"
)

// platformMaxRetries — бюджет повторов платформенных вызовов.
const platformMaxRetries = 2

// dispatchActions выполняет действия по целям правила параллельно.
//
// Результаты собираются по индексу цели: порядок в записи аудита
// совпадает с порядком целей правила, а не с порядком завершения.
// Ошибка одной цели не прерывает соседние.
func (e *Engine) dispatchActions(ctx context.Context, rule *domain.Rule, rec *domain.ExecutionRecord) {
	results := make([]domain.ActionResult, len(rule.Campaigns))
	var mCalls, gCalls atomic.Int64

	var wg sync.WaitGroup
	for i, target := range rule.Campaigns {
		wg.Add(1)
		go func(i int, t domain.Target) {
			defer wg.Done()
			results[i] = e.executeAction(ctx, rule, t, &mCalls, &gCalls)
		}(i, target)
	}
	wg.Wait()

	rec.ActionsTaken = results
	rec.Metrics.ActionsExecuted = len(results)
	rec.Metrics.PlatformMCalls = int(mCalls.Load())
	rec.Metrics.PlatformGCalls = int(gCalls.Load())
}

// executeAction выполняет одно действие над целью.
//
// Отсутствие учётных данных и несуществующий ad set — ошибки действия,
// а не задания: фиксируются в результате и не повторяются лимитером.
func (e *Engine) executeAction(ctx context.Context, rule *domain.Rule, t domain.Target, mCalls, gCalls *atomic.Int64) (res domain.ActionResult) {
	res = domain.ActionResult{
		Platform:   t.Platform,
		CampaignID: t.CampaignID,
		AdSetID:    t.AdSetID,
		TargetType: domain.TargetTypeAdSet,
		Action:     t.Action,
	}
	defer func() { res.ExecutedAt = time.Now() }()

	status, err := platform.ResolveStatus(t.Platform, t.Action)
	if err != nil {
		res.ErrorMessage = err.Error()
		return res
	}

	switch t.Platform {
	case domain.PlatformM:
		err = e.executeActionM(ctx, rule.UserID, t, status, mCalls)
	case domain.PlatformG:
		err = e.executeActionG(ctx, rule.UserID, t, status, gCalls)
	default:
		err = fmt.Errorf("unknown platform %q", t.Platform)
	}

	if err != nil {
		res.ErrorMessage = err.Error()
		e.logger.Warn("action failed",
			"rule_id", rule.ID,
			"platform", t.Platform,
			"ad_set_id", t.AdSetID,
			"action", t.Action,
			"error", err,
		)
		return res
	}

	res.Success = true
	return res
}

// executeActionM: валидация ad set чтением деталей, затем смена статуса.
func (e *Engine) executeActionM(ctx context.Context, userID string, t domain.Target, status string, calls *atomic.Int64) error {
	token, err := e.creds.PlatformMToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s account not found", domain.PlatformM)
	}

	return e.limiter.ExecuteWithBackoff(ctx, ratelimit.Call{
		Service:    ratelimit.ServicePlatformMAds,
		Endpoint:   endpointAdSetUpdate,
		MaxRetries: platformMaxRetries,
	}, func(ctx context.Context) error {
		calls.Add(1)
		if _, err := e.platformM.GetAdSet(ctx, t.AdSetID, token); err != nil {
			return err
		}
		calls.Add(1)
		return e.platformM.UpdateAdSetStatus(ctx, t.AdSetID, status, token)
	})
}

func (e *Engine) executeActionG(ctx context.Context, userID string, t domain.Target, status string, calls *atomic.Int64) error {
	token, err := e.creds.PlatformGToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s account not found", domain.PlatformG)
	}

	return e.limiter.ExecuteWithBackoff(ctx, ratelimit.Call{
		Service:    ratelimit.ServicePlatformGAds,
		Endpoint:   endpointCampaignUpdate,
		MaxRetries: platformMaxRetries,
	}, func(ctx context.Context) error {
		calls.Add(1)
		return e.platformG.UpdateCampaignStatus(ctx, t.CampaignID, status, token)
	})
}
