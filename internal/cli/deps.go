package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Tempest/internal/config"
	"github.com/shaiso/Tempest/internal/coord"
	"github.com/shaiso/Tempest/internal/engine"
	"github.com/shaiso/Tempest/internal/platform"
	"github.com/shaiso/Tempest/internal/ratelimit"
	"github.com/shaiso/Tempest/internal/registry"
	"github.com/shaiso/Tempest/internal/repo"
	"github.com/shaiso/Tempest/internal/scheduler"
	"github.com/shaiso/Tempest/internal/weather"
)

// Deps — подключённые зависимости команды CLI.
//
// CLI работает со сторами напрямую, как воркер: run-rule и test-rule
// выполняют конвейер синхронно в процессе команды, без HTTP-посредника.
type Deps struct {
	Cfg      *config.Config
	Client   *redis.Client
	Pool     *pgxpool.Pool
	Sched    *scheduler.Scheduler
	Limiter  *ratelimit.Limiter
	Registry *registry.Registry
	Rules    *repo.RuleRepo
	Engine   *engine.Engine
}

// Connect читает конфигурацию и подключает сторы.
// Логи уходят в discard: вывод команды — только данные и итог.
func Connect(ctx context.Context) (*Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := coord.NewClient(ctx, cfg.CoordinationURL)
	if err != nil {
		return nil, fmt.Errorf("connect coordination store: %w", err)
	}

	pool, err := repo.NewPool(ctx, cfg.DurableURL)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect durable store: %w", err)
	}

	ruleRepo := repo.NewRuleRepo(pool)
	workerRegistry := registry.New(pool)
	sched := scheduler.New(scheduler.Config{Client: client, Logger: logger})
	limiter := ratelimit.New(ratelimit.Config{Client: client, Logger: logger})

	eng := engine.New(engine.Config{
		Scheduler:  sched,
		Limiter:    limiter,
		Rules:      ruleRepo,
		Executions: repo.NewExecutionRepo(pool),
		Creds:      platform.NewCachingLookup(repo.NewCredentialsRepo(pool)),
		Weather:    weather.NewClient(cfg.WeatherBaseURL, cfg.WeatherAPIKey),
		PlatformM:  platform.NewMClient(cfg.PlatformMBaseURL),
		PlatformG:  platform.NewGClient(cfg.PlatformGBaseURL),
		Workers:    workerRegistry,
		Logger:     logger,
	})

	return &Deps{
		Cfg:      cfg,
		Client:   client,
		Pool:     pool,
		Sched:    sched,
		Limiter:  limiter,
		Registry: workerRegistry,
		Rules:    ruleRepo,
		Engine:   eng,
	}, nil
}

// Close закрывает подключения.
func (d *Deps) Close() {
	d.Pool.Close()
	d.Client.Close()
}
