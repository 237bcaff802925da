package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/engine"
	"github.com/shaiso/Tempest/internal/mq"
	"github.com/shaiso/Tempest/internal/telemetry"
)

// processJob выполняет один захваченный тик правила и завершает задание.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	w.currentJobs.Add(1)
	telemetry.CurrentJobs.Inc()
	defer func() {
		w.currentJobs.Add(-1)
		telemetry.CurrentJobs.Dec()
	}()

	logger := w.logger.With("job_id", job.ID, "rule_id", job.RuleID)
	logger.Info("job started", "retry_count", job.RetryCount)

	start := time.Now()
	_, execErr := w.engine.ProcessRule(ctx, job.RuleID)
	telemetry.JobDuration.Observe(time.Since(start).Seconds())

	result := engine.JobResultFor(execErr, job)
	if err := w.sched.Complete(ctx, job.ID, result); err != nil {
		logger.Error("failed to complete job", "error", err)
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	telemetry.JobsProcessed.WithLabelValues(outcome).Inc()
	if err := w.registry.IncrementProcessed(ctx, w.id, result.Success); err != nil {
		logger.Debug("failed to bump registry counters", "error", err)
	}

	if result.Success {
		logger.Info("job succeeded", "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Warn("job failed",
		"error", result.Error,
		"terminal", result.Terminal,
		"retry_after_ms", result.RetryAfterMS,
	)
}

// handleRuleEvent обрабатывает событие жизненного цикла правила
// из очереди rules.events.
func (w *Worker) handleRuleEvent(ctx context.Context, delivery *mq.Delivery) error {
	msg := &delivery.Message

	switch msg.Type {
	case mq.MessageTypeRuleActivated:
		payload, err := mq.ParsePayload[mq.RuleActivatedPayload](msg)
		if err != nil {
			w.logger.Error("failed to parse rule.activated payload", "error", err)
			return err
		}
		if _, err := w.engine.ScheduleRuleCheck(ctx, payload.RuleID, payload.UserID, payload.IntervalMinutes); err != nil {
			w.logger.Error("failed to schedule rule check",
				"rule_id", payload.RuleID,
				"error", err,
			)
			return err
		}
		w.logger.Info("rule check scheduled from event",
			"rule_id", payload.RuleID,
			"interval_minutes", payload.IntervalMinutes,
		)
		return nil

	case mq.MessageTypeRuleDeactivated:
		payload, err := mq.ParsePayload[mq.RuleDeactivatedPayload](msg)
		if err != nil {
			w.logger.Error("failed to parse rule.deactivated payload", "error", err)
			return err
		}
		return w.removeRule(ctx, payload.RuleID)

	case mq.MessageTypeRuleRemoved:
		payload, err := mq.ParsePayload[mq.RuleRemovedPayload](msg)
		if err != nil {
			w.logger.Error("failed to parse rule.removed payload", "error", err)
			return err
		}
		return w.removeRule(ctx, payload.RuleID)

	default:
		// Неизвестный тип — ack: retry не поможет.
		w.logger.Warn("unknown rule event type", "type", msg.Type, "message_id", msg.ID)
		return nil
	}
}

func (w *Worker) removeRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		w.logger.Warn("rule event without rule_id, ignoring")
		return nil
	}
	// Remove идемпотентен: отсутствие задания не ошибка.
	if err := w.engine.RemoveRule(ctx, ruleID); err != nil {
		return fmt.Errorf("remove rule %s: %w", ruleID, err)
	}
	w.logger.Info("rule check removed from event", "rule_id", ruleID)
	return nil
}
