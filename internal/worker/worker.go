package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/engine"
	"github.com/shaiso/Tempest/internal/mq"
	"github.com/shaiso/Tempest/internal/scheduler"
)

// Registry — порт реестра воркеров. Реализуется registry.Registry.
type Registry interface {
	Register(ctx context.Context, workerID string, maxConcurrentJobs int) error
	Heartbeat(ctx context.Context, workerID string, currentJobs int) error
	IncrementProcessed(ctx context.Context, workerID string, success bool) error
	SetStatus(ctx context.Context, workerID string, status domain.WorkerStatus) error
	Get(ctx context.Context, workerID string) (*domain.WorkerRecord, error)
}

// Default configuration values.
const (
	defaultPollInterval      = 5 * time.Second
	defaultBatchSize         = 5
	defaultHeartbeatInterval = 15 * time.Second
	defaultMaxConcurrent     = 5
	defaultPrefetch          = 10

	// recoveryInterval — период recovery-цикла; recoveryGrace — пауза
	// после старта перед первым проходом.
	recoveryInterval = 5 * time.Minute
	recoveryGrace    = time.Minute

	// syncInterval — период сверки расписания с активными правилами.
	syncInterval = 10 * time.Minute

	// statsChance — вероятность снапшота статистики на цикле обработки.
	statsChance = 0.1
)

// Worker — долгоживущий процесс обработки заданий.
//
// Worker — stateless компонент системы, который:
//   - Каждые 5 секунд забирает готовые задания и захватывает их
//     атомарным claim
//   - Обрабатывает захваченные задания параллельно, не больше
//     max_concurrent_jobs одновременно
//   - Возвращает зависшие задания recovery-циклом
//   - Шлёт heartbeat в реестр и реагирует на внешний запрос остановки
//   - Потребляет события правил из RabbitMQ (опционально) и сверяет
//     расписание с durable-стором
//
// Workers масштабируются горизонтально: гонки за задание разрешает
// атомарный claim планировщика.
type Worker struct {
	id string

	engine   *engine.Engine
	sched    *scheduler.Scheduler
	registry Registry

	// MQ (опционально: nil — polling-only режим)
	conn     *mq.Connection
	consumer *mq.Consumer

	sem           *semaphore.Weighted
	maxConcurrent int64
	currentJobs   atomic.Int64

	pollInterval      time.Duration
	batchSize         int
	heartbeatInterval time.Duration

	// onStopRequest вызывается, когда остановку запросили извне
	// через реестр (stop-worker).
	onStopRequest func()

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	jobWG      sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// WorkerID — идентификатор воркера. Пустой — domain.NewWorkerID().
	WorkerID string

	Engine   *engine.Engine
	Sched    *scheduler.Scheduler
	Registry Registry

	// Conn — соединение с RabbitMQ. Nil — polling-only режим.
	Conn *mq.Connection

	// PollInterval — пауза между циклами обработки (default: 5s).
	PollInterval time.Duration

	// BatchSize — сколько готовых заданий забирать за цикл (default: 5).
	BatchSize int

	// MaxConcurrentJobs — предел параллельной обработки (default: 5).
	MaxConcurrentJobs int

	// HeartbeatInterval — период heartbeat (default: 15s).
	HeartbeatInterval time.Duration

	// OnStopRequest — вызывается при внешнем запросе остановки.
	OnStopRequest func()

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	id := cfg.WorkerID
	if id == "" {
		id = domain.NewWorkerID()
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:                id,
		engine:            cfg.Engine,
		sched:             cfg.Sched,
		registry:          cfg.Registry,
		conn:              cfg.Conn,
		sem:               semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent:     int64(maxConcurrent),
		pollInterval:      pollInterval,
		batchSize:         batchSize,
		heartbeatInterval: heartbeat,
		onStopRequest:     cfg.OnStopRequest,
		logger:            logger.With("worker_id", id),
	}
}

// ID возвращает идентификатор воркера.
func (w *Worker) ID() string {
	return w.id
}

// Start запускает Worker.
//
// Запускает:
//   - Цикл обработки готовых заданий
//   - Recovery-цикл зависших заданий
//   - Heartbeat-цикл
//   - Цикл сверки расписания с активными правилами
//   - Consumer для rules.events (если настроен RabbitMQ)
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	if err := w.registry.Register(ctx, w.id, int(w.maxConcurrent)); err != nil {
		// Реестр справочный: его недоступность не мешает работе.
		w.logger.Warn("failed to register worker", "error", err)
	}

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"max_concurrent_jobs", w.maxConcurrent,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRulesEvents),
			Handler:  w.handleRuleEvent,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("rule event consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processLoop(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.recoveryLoop(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.heartbeatLoop(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.syncLoop(ctx)
	}()

	if err := w.registry.SetStatus(ctx, w.id, domain.WorkerStatusRunning); err != nil {
		w.logger.Warn("failed to mark worker running", "error", err)
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
//
// Остановка кооперативная: опрос прекращается, задания в работе
// дорабатывают до конца, затем запись в реестре переводится в stopped.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	if w.stopped {
		w.stoppedMu.Unlock()
		return
	}
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	// Статус выставляется до отмены контекста: захваченные задания
	// дорабатывают, реестр уже показывает stopping.
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.registry.SetStatus(stopCtx, w.id, domain.WorkerStatusStopping); err != nil {
		w.logger.Warn("failed to mark worker stopping", "error", err)
	}
	cancel()

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём циклы и задания в работе
	w.wg.Wait()
	w.jobWG.Wait()

	stopCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.registry.SetStatus(stopCtx, w.id, domain.WorkerStatusStopped); err != nil {
		w.logger.Warn("failed to mark worker stopped", "error", err)
	}
	cancel()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// processLoop — основной цикл: пауза между циклами, а не жёсткий такт.
func (w *Worker) processLoop(ctx context.Context) {
	for {
		w.processCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// processCycle — один проход: забрать готовые задания и захватить их.
func (w *Worker) processCycle(ctx context.Context) {
	jobs, err := w.sched.ReadyJobs(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list ready jobs", "error", err)
		return
	}

	for _, job := range jobs {
		claimed, err := w.sched.Claim(ctx, job.ID)
		if err != nil {
			w.logger.Error("claim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			// Проигранная гонка — не ошибка: задание досталось соседу.
			continue
		}

		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Остановка во время ожидания слота. Захват вернёт
			// recovery-цикл выжившего воркера.
			w.logger.Warn("semaphore acquire interrupted", "job_id", job.ID)
			return
		}

		w.jobWG.Add(1)
		go func(job *domain.Job) {
			defer w.jobWG.Done()
			defer w.sem.Release(1)
			w.processJob(ctx, job)
		}(job)
	}

	if rand.Float64() < statsChance {
		w.logStats(ctx)
	}
}

// recoveryLoop возвращает зависшие задания в scheduled.
// Первый проход — после минутной паузы: даём соседям дожить свои тики.
func (w *Worker) recoveryLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(recoveryGrace):
	}

	w.recoverStuck(ctx)

	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.recoverStuck(ctx)
		}
	}
}

func (w *Worker) recoverStuck(ctx context.Context) {
	recovered, err := w.sched.RecoverStuck(ctx)
	if err != nil {
		w.logger.Error("stuck job recovery failed", "error", err)
		return
	}
	if recovered > 0 {
		w.logger.Warn("recovered stuck jobs", "count", recovered)
	}
}

// heartbeatLoop обновляет запись воркера в реестре и замечает
// внешний запрос остановки (stop-worker пишет status=stopping).
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.registry.Heartbeat(ctx, w.id, int(w.currentJobs.Load())); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
				continue
			}

			rec, err := w.registry.Get(ctx, w.id)
			if err != nil {
				continue
			}
			if rec.Status == domain.WorkerStatusStopping && !w.IsStopped() {
				w.logger.Info("stop requested via registry")
				if w.onStopRequest != nil {
					w.onStopRequest()
				}
				return
			}
		}
	}
}

// syncLoop периодически сверяет расписание с активными правилами —
// страховка на случай потерянных событий rules.events.
func (w *Worker) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.engine.SyncActiveRules(ctx); err != nil {
				w.logger.Error("rule sync failed", "error", err)
			}
		}
	}
}

// logStats — снапшот состояния системы в лог.
func (w *Worker) logStats(ctx context.Context) {
	stats, err := w.engine.GetStats(ctx)
	if err != nil {
		w.logger.Debug("failed to collect stats", "error", err)
		return
	}
	w.logger.Info("stats snapshot",
		"scheduled", stats.Jobs.Scheduled,
		"processing", stats.Jobs.Processing,
		"overdue", stats.Jobs.Overdue,
		"current_jobs", w.currentJobs.Load(),
	)
}
