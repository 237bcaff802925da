package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Tempest/internal/domain"
)

// NewListRulesCmd выводит правила из durable-стора.
func NewListRulesCmd(outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list-rules",
		Short: "List automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			rules, err := deps.Rules.List(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "ACTIVE", "LOCATION", "INTERVAL", "LAST_CHECKED"}
			rows := make([][]string, len(rules))
			for i, r := range rules {
				rows[i] = []string{
					r.ID,
					r.Name,
					strconv.FormatBool(r.IsActive),
					fmt.Sprintf("%.4f,%.4f", r.Location.Lat, r.Location.Lon),
					fmt.Sprintf("%dm", r.CheckIntervalMinutes),
					formatTimePtr(r.LastCheckedAt),
				}
			}

			out.Print(headers, rows, rules)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of rules to list")
	return cmd
}

// NewScheduleRuleCmd ставит периодическую проверку правила.
func NewScheduleRuleCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule-rule RULE_ID USER_ID [INTERVAL_MINUTES]",
		Short: "Schedule periodic checks of a rule",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			interval := 0
			if len(args) == 3 {
				interval, err = strconv.Atoi(args[2])
				if err != nil || interval <= 0 {
					return fmt.Errorf("interval must be a positive integer, got %q", args[2])
				}
			} else {
				// Интервал не задан — берём из правила.
				rule, err := deps.Rules.FindByID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load rule %s: %w", args[0], err)
				}
				interval = rule.CheckIntervalMinutes
			}

			job, err := deps.Engine.ScheduleRuleCheck(cmd.Context(), args[0], args[1], interval)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Rule %s scheduled every %d minutes", args[0], interval))
			out.Print(
				[]string{"JOB_ID", "RULE_ID", "INTERVAL", "NEXT_RUN"},
				[][]string{{job.ID, job.RuleID, fmt.Sprintf("%dm", job.IntervalMinutes), formatMillis(job.ScheduledAt)}},
				job,
			)
			return nil
		},
	}
}

// NewRunRuleCmd выполняет тик правила синхронно, минуя расписание.
func NewRunRuleCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "run-rule RULE_ID",
		Short: "Run one rule check immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			rec, err := deps.Engine.RunRuleOnce(cmd.Context(), args[0])
			if rec != nil {
				printExecution(out, rec)
			}
			if err != nil {
				return err
			}
			if rec == nil {
				out.Success(fmt.Sprintf("Rule %s is inactive, nothing to do", args[0]))
			}
			return nil
		},
	}
}

// NewTestRuleCmd — сухой прогон правила: погода и условия настоящие,
// действия синтетические.
func NewTestRuleCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "test-rule RULE_ID",
		Short: "Dry-run a rule against fresh weather",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			deps, err := Connect(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			rec, err := deps.Engine.TestRule(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success("Dry run: no platform calls were made, nothing was recorded")
			printExecution(out, rec)
			return nil
		},
	}
}

// printExecution выводит итог тика: снимок погоды и действия.
func printExecution(out *Output, rec *domain.ExecutionRecord) {
	if out.jsonMode {
		out.JSON(rec)
		return
	}

	if rec.WeatherData != nil {
		w := rec.WeatherData
		out.Table(
			[]string{"TEMP", "HUMIDITY", "WIND", "PRECIP", "CLOUDS", "CONDITIONS_MET"},
			[][]string{{
				fmt.Sprintf("%.1f°C", w.Temperature),
				fmt.Sprintf("%.0f%%", w.Humidity),
				fmt.Sprintf("%.1fm/s", w.WindSpeed),
				fmt.Sprintf("%.1fmm", w.Precipitation),
				fmt.Sprintf("%.0f%%", w.CloudCover),
				strconv.FormatBool(rec.ConditionsMet),
			}},
		)
	}

	if len(rec.ActionsTaken) > 0 {
		rows := make([][]string, len(rec.ActionsTaken))
		for i, a := range rec.ActionsTaken {
			result := "ok"
			if !a.Success {
				result = a.ErrorMessage
			}
			rows[i] = []string{string(a.Platform), a.AdSetID, string(a.Action), result}
		}
		out.Table([]string{"PLATFORM", "AD_SET", "ACTION", "RESULT"}, rows)
	}

	if rec.Success {
		out.Success("Execution succeeded")
	} else {
		out.Error(rec.ErrorMessage)
	}
}
