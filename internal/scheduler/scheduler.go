package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tempest/internal/backoff"
	"github.com/shaiso/Tempest/internal/domain"
	"github.com/shaiso/Tempest/internal/telemetry"
)

// Ключи координационного стора.
const (
	keyScheduled  = "jobs:scheduled"  // sorted set: score = scheduled_at (ms)
	keyProcessing = "jobs:processing" // set: id захваченных заданий
)

const (
	// resultTTL — время жизни записи в result-ledger.
	resultTTL = 24 * time.Hour

	// stuckThreshold — задание в processing дольше этого считается зависшим.
	stuckThreshold = 10 * time.Minute

	// overdueAfter — scheduled-задание старше этого считается просроченным.
	overdueAfter = 5 * time.Minute

	// maxRetryDelayMS — потолок задержки retry по формуле по умолчанию.
	maxRetryDelayMS = 300_000
)

func keyJob(id string) string    { return "job:" + id }
func keyResult(id string) string { return "jobs:results:" + id }

// claimScript атомарно переносит id из scheduled в processing.
// ZREM — единственная точка линеаризации: removed == 1 получает
// ровно один воркер, остальные проигрывают гонку.
var claimScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('SADD', KEYS[2], ARGV[1])
  redis.call('HSET', KEYS[3], 'processing_started_at', ARGV[2])
  return 1
end
return 0
`)

// Scheduler — персистентная очередь заданий с временным порядком.
//
// Три объекта живут в координационном сторе: scheduled-set (sorted set,
// score = scheduled_at), processing-set (обычный set) и запись задания
// job:<id> (hash с полями data и processing_started_at). Инвариант:
// каждый id состоит максимум в одном из двух наборов.
//
// Scheduler пассивен: циклы обработки и восстановления запускает worker.
type Scheduler struct {
	client *redis.Client
	logger *slog.Logger
}

// Config — зависимости планировщика.
type Config struct {
	// Client — клиент координационного стора.
	Client *redis.Client

	// Logger — логгер. Nil — slog.Default().
	Logger *slog.Logger
}

// New создаёт планировщик.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		client: cfg.Client,
		logger: logger,
	}
}

// Schedule записывает задание и ставит его в scheduled-set.
//
// Идемпотентно: повторное планирование того же id обновляет запись
// и время, а не создаёт дубликат. Если id находился в processing-set,
// он убирается оттуда тем же атомарным батчем — инвариант
// "максимум один набор" сохраняется.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is empty")
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = domain.DefaultMaxRetries
	}
	if job.ScheduledAt <= 0 {
		job.ScheduledAt = backoff.NowMillis()
	}
	job.Status = domain.JobStatusPending

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyJob(job.ID), "data", data)
	pipe.HDel(ctx, keyJob(job.ID), "processing_started_at")
	pipe.SRem(ctx, keyProcessing, job.ID)
	pipe.ZAdd(ctx, keyScheduled, redis.Z{Score: float64(job.ScheduledAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}

	s.logger.Debug("job scheduled",
		"job_id", job.ID,
		"rule_id", job.RuleID,
		"scheduled_at", job.ScheduledAt,
	)
	return nil
}

// ScheduleRuleCheck планирует периодическую проверку правила:
// детерминированный id, первый тик через interval от сейчас.
func (s *Scheduler) ScheduleRuleCheck(ctx context.Context, ruleID, userID string, intervalMinutes int) (*domain.Job, error) {
	job := domain.NewRuleCheckJob(ruleID, userID, intervalMinutes, time.Now())
	if err := s.Schedule(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Remove удаляет задание из обоих наборов вместе с записью.
// Result-ledger не трогается: последняя запись доживает свой TTL.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, keyScheduled, id)
	pipe.SRem(ctx, keyProcessing, id)
	pipe.Del(ctx, keyJob(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	return nil
}

// loadJob читает запись задания: данные и отметку начала обработки.
func (s *Scheduler) loadJob(ctx context.Context, id string) (*domain.Job, int64, error) {
	fields, err := s.client.HGetAll(ctx, keyJob(id)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("read job %s: %w", id, err)
	}
	data, ok := fields["data"]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrCorruptJob, id, err)
	}

	var startedAt int64
	if v := fields["processing_started_at"]; v != "" {
		startedAt, _ = strconv.ParseInt(v, 10, 64)
	}
	return &job, startedAt, nil
}

// GetJob возвращает запись задания.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, _, err := s.loadJob(ctx, id)
	return job, err
}

// ReadyJobs возвращает до limit заданий, чьё время пришло, в
// детерминированном порядке: scheduled_at, затем priority, затем id.
// Битые записи вычищаются из всех наборов по ходу выборки.
func (s *Scheduler) ReadyJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 5
	}
	now := backoff.NowMillis()

	ids, err := s.client.ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range scheduled set: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrCorruptJob) {
				// Запись битая или пропала: убираем id из наборов,
				// иначе выборка будет спотыкаться о него вечно.
				s.logger.Warn("purging unreadable job record", "job_id", id, "error", err)
				if rmErr := s.Remove(ctx, id); rmErr != nil {
					s.logger.Warn("failed to purge job record", "job_id", id, "error", rmErr)
				}
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].ScheduledAt != jobs[j].ScheduledAt {
			return jobs[i].ScheduledAt < jobs[j].ScheduledAt
		}
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority < jobs[j].Priority
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// Claim атомарно забирает задание: переносит id из scheduled в
// processing и ставит отметку начала обработки. Возвращает false,
// если id уже забрал другой воркер — проигранная гонка не ошибка,
// вызывающий просто бросает это задание.
func (s *Scheduler) Claim(ctx context.Context, id string) (bool, error) {
	now := backoff.NowMillis()
	res, err := claimScript.Run(ctx, s.client,
		[]string{keyScheduled, keyProcessing, keyJob(id)},
		id, now,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return res == 1, nil
}

// Complete фиксирует результат выполнения задания.
//
// Разбор случаев:
//   - успех: retry_count сбрасывается, следующий тик от момента
//     завершения (now + interval);
//   - временная ошибка при retry_count < max_retries: задержка равна
//     retry_after_ms результата либо min(2^(retry_count+1)×1000, 300000),
//     retry_count увеличивается;
//   - окончательная ошибка или исчерпанные попытки: задание удаляется.
//
// Последний результат всегда пишется в jobs:results:<id> с TTL 24 часа.
func (s *Scheduler) Complete(ctx context.Context, id string, result *domain.JobResult) error {
	now := backoff.NowMillis()
	completedAt := result.CompletedAt
	if completedAt == 0 {
		completedAt = now
	}

	job, _, err := s.loadJob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrCorruptJob) {
			// Запись удалили, пока задание выполнялось (remove_rule).
			// Чистим членство и фиксируем результат.
			pipe := s.client.TxPipeline()
			pipe.ZRem(ctx, keyScheduled, id)
			pipe.SRem(ctx, keyProcessing, id)
			s.writeResult(ctx, pipe, id, result, completedAt, 0, 0)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("complete missing job %s: %w", id, err)
			}
			return nil
		}
		return err
	}

	switch {
	case result.Success:
		if job.IntervalMinutes <= 0 {
			// Одноразовое задание: перепланировать нечего.
			return s.finish(ctx, job, result, completedAt)
		}
		// Следующий тик привязан к моменту завершения, а не к исходному
		// расписанию: под нагрузкой каденция дрейфует, а не взрывается.
		job.RetryCount = 0
		job.LastError = ""
		job.LastExecutedAt = completedAt
		job.ScheduledAt = now + job.Interval().Milliseconds()
		return s.reschedule(ctx, job, result, completedAt)

	case !result.Terminal && job.RetryCount < job.MaxRetries:
		delay := result.RetryAfterMS
		if delay <= 0 {
			delay = retryDelayMS(job.RetryCount)
		}
		job.RetryCount++
		job.LastError = result.Error
		job.ScheduledAt = now + delay
		return s.reschedule(ctx, job, result, completedAt)

	default:
		if !result.Terminal && job.IntervalMinutes > 0 {
			// Попытки исчерпаны, но задание периодическое: правило не должно
			// навсегда выпасть из автоматизации. Следующий тик — по обычному
			// расписанию, счётчик повторов начинается заново.
			job.RetryCount = 0
			job.LastError = result.Error
			job.ScheduledAt = now + job.Interval().Milliseconds()
			return s.reschedule(ctx, job, result, completedAt)
		}
		return s.finish(ctx, job, result, completedAt)
	}
}

// retryDelayMS — формула задержки retry по умолчанию:
// min(2^(retry_count+1) × 1000, 300000).
func retryDelayMS(retryCount int) int64 {
	if retryCount > 8 {
		return maxRetryDelayMS
	}
	d := int64(1000) << uint(retryCount+1)
	if d > maxRetryDelayMS {
		return maxRetryDelayMS
	}
	return d
}

// reschedule возвращает задание в scheduled-set и пишет результат
// одним атомарным батчем.
func (s *Scheduler) reschedule(ctx context.Context, job *domain.Job, result *domain.JobResult, completedAt int64) error {
	job.Status = domain.JobStatusPending
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyJob(job.ID), "data", data)
	pipe.HDel(ctx, keyJob(job.ID), "processing_started_at")
	pipe.SRem(ctx, keyProcessing, job.ID)
	pipe.ZAdd(ctx, keyScheduled, redis.Z{Score: float64(job.ScheduledAt), Member: job.ID})
	s.writeResult(ctx, pipe, job.ID, result, completedAt, job.RetryCount, job.ScheduledAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}

	s.logger.Debug("job rescheduled",
		"job_id", job.ID,
		"scheduled_at", job.ScheduledAt,
		"retry_count", job.RetryCount,
	)
	return nil
}

// finish удаляет задание насовсем, оставляя только запись в ledger.
func (s *Scheduler) finish(ctx context.Context, job *domain.Job, result *domain.JobResult, completedAt int64) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyJob(job.ID))
	pipe.ZRem(ctx, keyScheduled, job.ID)
	pipe.SRem(ctx, keyProcessing, job.ID)
	s.writeResult(ctx, pipe, job.ID, result, completedAt, job.RetryCount, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}

	if !result.Success {
		s.logger.Warn("job finished permanently after failure",
			"job_id", job.ID,
			"rule_id", job.RuleID,
			"retry_count", job.RetryCount,
			"error", result.Error,
		)
	}
	return nil
}

// writeResult добавляет запись результата в батч.
func (s *Scheduler) writeResult(ctx context.Context, pipe redis.Pipeliner, id string, result *domain.JobResult, completedAt int64, retryCount int, nextAt int64) {
	fields := map[string]any{
		"success":      strconv.FormatBool(result.Success),
		"error":        result.Error,
		"completed_at": strconv.FormatInt(completedAt, 10),
		"retry_count":  strconv.Itoa(retryCount),
	}
	if nextAt > 0 {
		fields["next_scheduled_at"] = strconv.FormatInt(nextAt, 10)
	}
	pipe.HSet(ctx, keyResult(id), fields)
	pipe.PExpire(ctx, keyResult(id), resultTTL)
}

// LastResult возвращает последний зафиксированный результат задания.
// Пустая map — результата нет или его TTL истёк.
func (s *Scheduler) LastResult(ctx context.Context, id string) (map[string]string, error) {
	res, err := s.client.HGetAll(ctx, keyResult(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", id, err)
	}
	return res, nil
}

// RecoverStuck возвращает в scheduled-set задания, висящие в processing
// дольше порога. retry_count не увеличивается: зависание — смерть
// воркера, а не ошибка выполнения.
func (s *Scheduler) RecoverStuck(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, keyProcessing).Result()
	if err != nil {
		return 0, fmt.Errorf("list processing set: %w", err)
	}

	now := backoff.NowMillis()
	recovered := 0
	for _, id := range ids {
		startedStr, err := s.client.HGet(ctx, keyJob(id), "processing_started_at").Result()
		if err == redis.Nil {
			// Членство без отметки: запись пропала или уже
			// перепланирована. Снимаем из processing.
			s.logger.Warn("processing member without start stamp, dropping", "job_id", id)
			if rmErr := s.client.SRem(ctx, keyProcessing, id).Err(); rmErr != nil {
				s.logger.Warn("failed to drop orphan", "job_id", id, "error", rmErr)
			}
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("read processing stamp %s: %w", id, err)
		}

		startedAt, _ := strconv.ParseInt(startedStr, 10, 64)
		stuckFor := time.Duration(now-startedAt) * time.Millisecond
		if stuckFor <= stuckThreshold {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.ZAdd(ctx, keyScheduled, redis.Z{Score: float64(now), Member: id})
		pipe.SRem(ctx, keyProcessing, id)
		pipe.HDel(ctx, keyJob(id), "processing_started_at")
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, fmt.Errorf("recover job %s: %w", id, err)
		}

		recovered++
		telemetry.StuckJobsRecovered.Inc()
		s.logger.Warn("recovered stuck job", "job_id", id, "stuck_for", stuckFor)
	}
	return recovered, nil
}

// Stats — состояние очереди.
type Stats struct {
	// Scheduled — заданий в scheduled-set.
	Scheduled int64 `json:"scheduled"`

	// Processing — заданий в processing-set.
	Processing int64 `json:"processing"`

	// Overdue — scheduled-заданий, просроченных больше чем на 5 минут.
	Overdue int64 `json:"overdue"`
}

// Stats возвращает состояние очереди.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	now := backoff.NowMillis()
	overdueMax := now - overdueAfter.Milliseconds()

	pipe := s.client.TxPipeline()
	scheduledCmd := pipe.ZCard(ctx, keyScheduled)
	processingCmd := pipe.SCard(ctx, keyProcessing)
	overdueCmd := pipe.ZCount(ctx, keyScheduled, "-inf", strconv.FormatInt(overdueMax, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	return &Stats{
		Scheduled:  scheduledCmd.Val(),
		Processing: processingCmd.Val(),
		Overdue:    overdueCmd.Val(),
	}, nil
}

// JobListing — задание с его живым состоянием для выдачи наружу.
// Состояние определяется членством в наборах, а не полем Status
// внутри data: наборы — единственный источник истины.
type JobListing struct {
	Job *domain.Job `json:"job"`

	// State — scheduled или processing.
	State string `json:"state"`

	// ProcessingStartedAt — unix-мс начала обработки (для processing).
	ProcessingStartedAt int64 `json:"processing_started_at,omitempty"`
}

// ListJobs возвращает до limit заданий из обоих наборов:
// сначала scheduled в порядке времени, затем processing.
func (s *Scheduler) ListJobs(ctx context.Context, limit int) ([]JobListing, error) {
	if limit <= 0 {
		limit = 100
	}

	scheduledIDs, err := s.client.ZRange(ctx, keyScheduled, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("range scheduled set: %w", err)
	}
	processingIDs, err := s.client.SMembers(ctx, keyProcessing).Result()
	if err != nil {
		return nil, fmt.Errorf("list processing set: %w", err)
	}

	out := make([]JobListing, 0, len(scheduledIDs)+len(processingIDs))
	for _, id := range scheduledIDs {
		job, _, err := s.loadJob(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, JobListing{Job: job, State: "scheduled"})
	}
	for _, id := range processingIDs {
		if len(out) >= limit {
			break
		}
		job, startedAt, err := s.loadJob(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, JobListing{Job: job, State: "processing", ProcessingStartedAt: startedAt})
	}
	return out, nil
}
