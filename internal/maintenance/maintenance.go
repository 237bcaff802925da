// Package maintenance — периодическая уборка durable-стора.
//
// Janitor запускается внутри процесса воркера по cron-расписанию
// (по умолчанию ежедневно в 03:00) и выполняет:
//   - удаление записей выполнений старше retention-периода
//   - удаление записей воркеров, остановленных дольше недели
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// stoppedRetention — сколько держать записи остановленных воркеров.
const stoppedRetention = 7 * 24 * time.Hour

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ExecutionPruner — порт очистки durable-лога выполнений.
type ExecutionPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkerPruner — порт очистки реестра воркеров.
type WorkerPruner interface {
	PruneStopped(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor — планировщик уборочных задач.
type Janitor struct {
	executions    ExecutionPruner
	workers       WorkerPruner
	retentionDays int
	spec          string
	logger        *slog.Logger
	cron          *cron.Cron
}

// Config — зависимости janitor'а.
type Config struct {
	Executions ExecutionPruner
	Workers    WorkerPruner

	// RetentionDays — сколько дней хранить записи выполнений
	// (default: 90).
	RetentionDays int

	// Spec — cron-выражение запуска (default: "0 3 * * *").
	Spec string

	// Logger — логгер. Nil — slog.Default().
	Logger *slog.Logger
}

// New создаёт janitor.
func New(cfg Config) *Janitor {
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	spec := cfg.Spec
	if spec == "" {
		spec = "0 3 * * *"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		executions:    cfg.Executions,
		workers:       cfg.Workers,
		retentionDays: retention,
		spec:          spec,
		logger:        logger,
	}
}

// Start регистрирует задачи и запускает cron.
func (j *Janitor) Start() error {
	if _, err := cronParser.Parse(j.spec); err != nil {
		return fmt.Errorf("invalid maintenance cron %q: %w", j.spec, err)
	}

	j.cron = cron.New(cron.WithParser(cronParser))
	if _, err := j.cron.AddFunc(j.spec, j.Run); err != nil {
		return fmt.Errorf("register maintenance job: %w", err)
	}
	j.cron.Start()

	j.logger.Info("maintenance janitor started",
		"cron", j.spec,
		"retention_days", j.retentionDays,
	)
	return nil
}

// Stop останавливает cron и дожидается текущего прохода.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Run выполняет один проход уборки. Экспортирован для ручного запуска.
func (j *Janitor) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := time.Now()

	deleted, err := j.executions.DeleteOlderThan(ctx, now.AddDate(0, 0, -j.retentionDays))
	if err != nil {
		j.logger.Error("execution pruning failed", "error", err)
	} else if deleted > 0 {
		j.logger.Info("pruned old execution records", "deleted", deleted)
	}

	if j.workers == nil {
		return
	}
	pruned, err := j.workers.PruneStopped(ctx, now.Add(-stoppedRetention))
	if err != nil {
		j.logger.Error("worker registry pruning failed", "error", err)
	} else if pruned > 0 {
		j.logger.Info("pruned stopped worker records", "deleted", pruned)
	}
}
