// Tempest Worker — обрабатывает задания проверки правил.
//
// Worker:
//   - Забирает готовые задания из координационного стора и захватывает
//     их атомарным claim
//   - Выполняет конвейер тика: погода → условия → действия платформ
//   - Возвращает зависшие задания recovery-циклом
//   - Экспортирует /healthz, /metrics и read-only ops API
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Tempest/internal/config"
	"github.com/shaiso/Tempest/internal/telemetry"
	"github.com/shaiso/Tempest/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting tempest-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := worker.RunDaemon(ctx, cfg, logger); err != nil {
		logger.Error("worker daemon failed", "error", err)
		os.Exit(1)
	}

	logger.Info("tempest-worker stopped")
}
