package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Tempest/internal/domain"
)

// RuleRepo — репозиторий правил автоматизации.
//
// CRUD правил живёт у внешнего коллаборатора; ядру нужны чтение
// и обновление отметок last_checked_at / last_executed_at.
type RuleRepo struct {
	pool *pgxpool.Pool
}

// NewRuleRepo создаёт RuleRepo.
func NewRuleRepo(pool *pgxpool.Pool) *RuleRepo {
	return &RuleRepo{pool: pool}
}

const ruleColumns = `
	id, user_id, name, is_active, lat, lon,
	conditions, condition_logic, campaigns,
	check_interval_minutes, last_checked_at, last_executed_at,
	created_at, updated_at
`

// FindByID возвращает правило по ID.
func (r *RuleRepo) FindByID(ctx context.Context, id string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`
	return r.scanRule(r.pool.QueryRow(ctx, query, id))
}

// ListActive возвращает все активные правила (для стартового скана
// и периодической сверки расписания).
func (r *RuleRepo) ListActive(ctx context.Context) ([]domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE is_active ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rule, err := r.scanRuleFromRows(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// List возвращает правила постранично (для CLI).
func (r *RuleRepo) List(ctx context.Context, limit, offset int) ([]domain.Rule, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rule, err := r.scanRuleFromRows(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// SetLastChecked обновляет отметку последней проверки правила.
func (r *RuleRepo) SetLastChecked(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rules SET last_checked_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("set last_checked_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastExecuted обновляет отметку последнего успешного срабатывания.
func (r *RuleRepo) SetLastExecuted(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rules SET last_executed_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("set last_executed_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *RuleRepo) scanRule(row pgx.Row) (*domain.Rule, error) {
	return scanRuleFields(row)
}

func (r *RuleRepo) scanRuleFromRows(rows pgx.Rows) (*domain.Rule, error) {
	return scanRuleFields(rows)
}

func scanRuleFields(row pgx.Row) (*domain.Rule, error) {
	var rule domain.Rule
	var name *string
	var conditionsJSON, logicJSON, campaignsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&name,
		&rule.IsActive,
		&rule.Location.Lat,
		&rule.Location.Lon,
		&conditionsJSON,
		&logicJSON,
		&campaignsJSON,
		&rule.CheckIntervalMinutes,
		&rule.LastCheckedAt,
		&rule.LastExecutedAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	if name != nil {
		rule.Name = *name
	}
	if conditionsJSON != nil {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	if logicJSON != nil {
		if err := json.Unmarshal(logicJSON, &rule.ConditionLogic); err != nil {
			return nil, fmt.Errorf("unmarshal condition_logic: %w", err)
		}
	}
	if campaignsJSON != nil {
		if err := json.Unmarshal(campaignsJSON, &rule.Campaigns); err != nil {
			return nil, fmt.Errorf("unmarshal campaigns: %w", err)
		}
	}
	return &rule, nil
}
