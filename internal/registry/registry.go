package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/repo"
)

// Registry — реестр воркеров в долговременном сторе.
//
// Реестр справочный: планирование заданий от него не зависит,
// его потеря ничего не блокирует. Каждый воркер пишет только свою
// строку (worker_id = <hostname>-<pid>), счётчики агрегируются
// только при отображении.
type Registry struct {
	pool *pgxpool.Pool
}

// New создаёт Registry.
func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// Register регистрирует воркер (upsert собственной строки).
func (r *Registry) Register(ctx context.Context, workerID string, maxConcurrentJobs int) error {
	query := `
		INSERT INTO workers_registry (worker_id, status, started_at, last_heartbeat,
		                              max_concurrent_jobs, current_jobs,
		                              jobs_processed, jobs_succeeded, jobs_failed, updated_at)
		VALUES ($1, 'running', now(), now(), $2, 0, 0, 0, 0, now())
		ON CONFLICT (worker_id) DO UPDATE SET
			status = 'running',
			started_at = now(),
			last_heartbeat = now(),
			max_concurrent_jobs = EXCLUDED.max_concurrent_jobs,
			current_jobs = 0,
			updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, workerID, maxConcurrentJobs); err != nil {
		return fmt.Errorf("register worker %s: %w", workerID, err)
	}
	return nil
}

// Heartbeat обновляет отметку живости и число текущих заданий.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, currentJobs int) error {
	query := `
		UPDATE workers_registry
		SET last_heartbeat = now(), current_jobs = $2, status = 'running', updated_at = now()
		WHERE worker_id = $1 AND status <> 'stopping'
	`
	if _, err := r.pool.Exec(ctx, query, workerID, currentJobs); err != nil {
		return fmt.Errorf("heartbeat worker %s: %w", workerID, err)
	}
	return nil
}

// IncrementProcessed атомарно увеличивает счётчики обработанных заданий.
func (r *Registry) IncrementProcessed(ctx context.Context, workerID string, success bool) error {
	query := `
		UPDATE workers_registry
		SET jobs_processed = jobs_processed + 1,
		    jobs_succeeded = jobs_succeeded + CASE WHEN $2 THEN 1 ELSE 0 END,
		    jobs_failed    = jobs_failed    + CASE WHEN $2 THEN 0 ELSE 1 END,
		    updated_at = now()
		WHERE worker_id = $1
	`
	if _, err := r.pool.Exec(ctx, query, workerID, success); err != nil {
		return fmt.Errorf("increment processed for %s: %w", workerID, err)
	}
	return nil
}

// SetStatus переводит воркер в указанный статус.
func (r *Registry) SetStatus(ctx context.Context, workerID string, status domain.WorkerStatus) error {
	query := `UPDATE workers_registry SET status = $2, updated_at = now() WHERE worker_id = $1`
	tag, err := r.pool.Exec(ctx, query, workerID, string(status))
	if err != nil {
		return fmt.Errorf("set worker status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// RequestStop помечает воркер как stopping. Воркер замечает отметку
// на следующем heartbeat и начинает graceful shutdown; мёртвый воркер
// просто никогда её не увидит.
func (r *Registry) RequestStop(ctx context.Context, workerID string) error {
	return r.SetStatus(ctx, workerID, domain.WorkerStatusStopping)
}

// Get возвращает запись воркера.
func (r *Registry) Get(ctx context.Context, workerID string) (*domain.WorkerRecord, error) {
	query := workerColumnsQuery + ` WHERE worker_id = $1`
	rec, err := scanWorker(r.pool.QueryRow(ctx, query, workerID))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List возвращает всех воркеров, новые первыми.
func (r *Registry) List(ctx context.Context) ([]domain.WorkerRecord, error) {
	query := workerColumnsQuery + ` ORDER BY started_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []domain.WorkerRecord
	for rows.Next() {
		rec, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *rec)
	}
	return workers, rows.Err()
}

// PruneStopped удаляет строки воркеров, остановленных раньше cutoff.
// Возвращает число удалённых.
func (r *Registry) PruneStopped(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM workers_registry WHERE status = 'stopped' AND updated_at < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune stopped workers: %w", err)
	}
	return tag.RowsAffected(), nil
}

const workerColumnsQuery = `
	SELECT worker_id, status, started_at, last_heartbeat,
	       max_concurrent_jobs, current_jobs,
	       jobs_processed, jobs_succeeded, jobs_failed, updated_at
	FROM workers_registry
`

func scanWorker(row pgx.Row) (*domain.WorkerRecord, error) {
	var rec domain.WorkerRecord
	var status string

	err := row.Scan(
		&rec.WorkerID,
		&status,
		&rec.StartedAt,
		&rec.LastHeartbeat,
		&rec.MaxConcurrentJobs,
		&rec.CurrentJobs,
		&rec.JobsProcessed,
		&rec.JobsSucceeded,
		&rec.JobsFailed,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan worker: %w", err)
	}

	rec.Status = domain.ParseWorkerStatus(status)
	return &rec, nil
}
