package domain

import (
	"fmt"
	"os"
	"time"
)

// WorkerRecord — запись воркера в реестре.
//
// Реестр носит справочный характер: его потеря не блокирует
// планирование. Живость воркера видна по last_heartbeat; ядро
// не выселяет замолчавшие записи автоматически.
type WorkerRecord struct {
	// WorkerID — идентификатор воркера: <hostname>-<pid>.
	WorkerID string `json:"worker_id"`

	// Status — текущий статус воркера.
	Status WorkerStatus `json:"status"`

	// StartedAt — время запуска воркера.
	StartedAt time.Time `json:"started_at"`

	// LastHeartbeat — время последнего heartbeat.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// MaxConcurrentJobs — сколько заданий воркер обрабатывает параллельно.
	MaxConcurrentJobs int `json:"max_concurrent_jobs"`

	// CurrentJobs — число заданий в обработке прямо сейчас.
	CurrentJobs int `json:"current_jobs"`

	// JobsProcessed — всего обработано заданий.
	JobsProcessed int64 `json:"jobs_processed"`

	// JobsSucceeded — из них успешно.
	JobsSucceeded int64 `json:"jobs_succeeded"`

	// JobsFailed — из них с ошибкой.
	JobsFailed int64 `json:"jobs_failed"`

	// UpdatedAt — время последнего изменения записи.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkerID возвращает идентификатор текущего процесса: <hostname>-<pid>.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Uptime возвращает время работы воркера относительно now.
func (w *WorkerRecord) Uptime(now time.Time) time.Duration {
	if w.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(w.StartedAt)
}

// IsStale возвращает true, если воркер молчит дольше max.
func (w *WorkerRecord) IsStale(now time.Time, max time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > max
}
