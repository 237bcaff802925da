package cli

import (
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewListJobsCmd выводит задания планировщика с живым состоянием.
func NewListJobsCmd(outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list-jobs",
		Short: "List scheduled and processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			jobs, err := deps.Sched.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			headers := []string{"JOB_ID", "RULE_ID", "STATE", "SCHEDULED_AT", "RETRIES", "LAST_ERROR"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{
					j.Job.ID,
					j.Job.RuleID,
					j.State,
					formatMillis(j.Job.ScheduledAt),
					strconv.Itoa(j.Job.RetryCount),
					truncate(j.Job.LastError, 40),
				}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of jobs to list")
	return cmd
}

// NewJobStatsCmd выводит состояние очереди заданий.
func NewJobStatsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "job-stats",
		Short: "Show job queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			stats, err := deps.Sched.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out.Print(
				[]string{"SCHEDULED", "PROCESSING", "OVERDUE"},
				[][]string{{
					strconv.FormatInt(stats.Scheduled, 10),
					strconv.FormatInt(stats.Processing, 10),
					strconv.FormatInt(stats.Overdue, 10),
				}},
				stats,
			)
			return nil
		},
	}
}

// NewRateLimitStatsCmd выводит окна rate limiter'а по сервисам.
func NewRateLimitStatsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "rate-limit-stats",
		Short: "Show rate limiter window usage per service",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			stats, err := deps.Limiter.Stats(cmd.Context())
			if err != nil {
				return err
			}

			services := make([]string, 0, len(stats))
			for s := range stats {
				services = append(services, s)
			}
			sort.Strings(services)

			headers := []string{"SERVICE", "USED", "LIMIT", "REMAINING", "WINDOW"}
			rows := make([][]string, len(services))
			for i, s := range services {
				st := stats[s]
				rows[i] = []string{
					s,
					strconv.FormatInt(st.Used, 10),
					strconv.Itoa(st.Limit),
					strconv.FormatInt(st.Remaining, 10),
					(time.Duration(st.WindowMS) * time.Millisecond).String(),
				}
			}

			out.Print(headers, rows, stats)
			return nil
		},
	}
}
