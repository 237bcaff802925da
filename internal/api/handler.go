package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shaiso/Tempest/internal/engine"
	"github.com/shaiso/Tempest/internal/registry"
	"github.com/shaiso/Tempest/internal/scheduler"
)

// defaultJobsLimit — сколько заданий отдавать без явного limit.
const defaultJobsLimit = 100

// Handler — обработчики ops API с зависимостями.
type Handler struct {
	engine   *engine.Engine
	sched    *scheduler.Scheduler
	registry *registry.Registry
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine   *engine.Engine
	Sched    *scheduler.Scheduler
	Registry *registry.Registry
	Logger   *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		engine:   cfg.Engine,
		sched:    cfg.Sched,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
}

// GetStats возвращает сводное состояние: очередь, окна rate limiter'а,
// реестр воркеров.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetStats(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	Success(w, stats)
}

// ListWorkers возвращает записи реестра воркеров.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.registry.List(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	List(w, workers, len(workers))
}

// ListJobs возвращает задания планировщика с их живым состоянием.
// Query-параметр limit ограничивает выдачу (default: 100).
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.sched.ListJobs(r.Context(), limit)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	List(w, jobs, len(jobs))
}

// GetRateLimits возвращает состояние окон rate limiter'а по сервисам.
func (h *Handler) GetRateLimits(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.RateLimitStats(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	Success(w, stats)
}
