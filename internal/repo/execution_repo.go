package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Tempest/internal/domain"
)

// ExecutionRepo — durable-лог выполнений правил.
//
// Записи неизменяемы: только вставка, выборка и ретенционная чистка.
// Ошибка вставки поднимается наверх и уводит задание в retry —
// тик без записи аудита не считается завершённым.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Append добавляет запись выполнения в лог.
func (r *ExecutionRepo) Append(ctx context.Context, rec *domain.ExecutionRecord) error {
	var weatherJSON []byte
	var err error
	if rec.WeatherData != nil {
		weatherJSON, err = json.Marshal(rec.WeatherData)
		if err != nil {
			return fmt.Errorf("marshal weather_data: %w", err)
		}
	}
	actionsJSON, err := json.Marshal(rec.ActionsTaken)
	if err != nil {
		return fmt.Errorf("marshal actions_taken: %w", err)
	}
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal execution_metrics: %w", err)
	}

	query := `
		INSERT INTO executions (id, rule_id, user_id, executed_at, weather_data,
		                        conditions_met, actions_taken, success, error_message,
		                        execution_metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID,
		rec.RuleID,
		rec.UserID,
		rec.ExecutedAt,
		weatherJSON,
		rec.ConditionsMet,
		actionsJSON,
		rec.Success,
		nullString(rec.ErrorMessage),
		metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ListByRule возвращает последние записи выполнения правила.
func (r *ExecutionRepo) ListByRule(ctx context.Context, ruleID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, rule_id, user_id, executed_at, weather_data,
		       conditions_met, actions_taken, success, error_message, execution_metrics
		FROM executions
		WHERE rule_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var records []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var weatherJSON, actionsJSON, metricsJSON []byte
		var errMsg *string

		err := rows.Scan(
			&rec.ID,
			&rec.RuleID,
			&rec.UserID,
			&rec.ExecutedAt,
			&weatherJSON,
			&rec.ConditionsMet,
			&actionsJSON,
			&rec.Success,
			&errMsg,
			&metricsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		if weatherJSON != nil {
			if err := json.Unmarshal(weatherJSON, &rec.WeatherData); err != nil {
				return nil, fmt.Errorf("unmarshal weather_data: %w", err)
			}
		}
		if actionsJSON != nil {
			if err := json.Unmarshal(actionsJSON, &rec.ActionsTaken); err != nil {
				return nil, fmt.Errorf("unmarshal actions_taken: %w", err)
			}
		}
		if metricsJSON != nil {
			if err := json.Unmarshal(metricsJSON, &rec.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal execution_metrics: %w", err)
			}
		}
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan удаляет записи старше cutoff. Возвращает число удалённых.
func (r *ExecutionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
