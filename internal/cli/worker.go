package cli

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Tempest/internal/config"
	"github.com/shaiso/Tempest/internal/telemetry"
	"github.com/shaiso/Tempest/internal/worker"
)

// NewStartWorkerCmd запускает воркер-демон в текущем процессе.
func NewStartWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-worker",
		Short: "Run a worker daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := telemetry.SetupLogger()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return worker.RunDaemon(ctx, cfg, logger)
		},
	}
}

// NewStopWorkerCmd запрашивает остановку воркера через реестр.
func NewStopWorkerCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-worker WORKER_ID",
		Short: "Request graceful stop of a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Registry.RequestStop(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("request stop for %s: %w", args[0], err)
			}

			// Воркер заметит запрос на следующем heartbeat.
			out.Success(fmt.Sprintf("Stop requested for worker %s", args[0]))
			return nil
		},
	}
}

// NewListWorkersCmd выводит записи реестра воркеров.
func NewListWorkersCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list-workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			workers, err := deps.Registry.List(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"WORKER_ID", "STATUS", "JOBS", "PROCESSED", "FAILED", "UPTIME", "LAST_HEARTBEAT"}
			rows := make([][]string, len(workers))
			now := time.Now()
			for i, w := range workers {
				rows[i] = []string{
					w.WorkerID,
					string(w.Status),
					fmt.Sprintf("%d/%d", w.CurrentJobs, w.MaxConcurrentJobs),
					strconv.FormatInt(w.JobsProcessed, 10),
					strconv.FormatInt(w.JobsFailed, 10),
					w.Uptime(now).Round(time.Second).String(),
					formatTime(w.LastHeartbeat),
				}
			}

			out.Print(headers, rows, workers)
			return nil
		},
	}
}
