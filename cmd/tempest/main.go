// Tempest CLI — инструмент командной строки для управления воркерами,
// расписанием и правилами.
//
// Использование:
//
//	tempest [--json] <command> [flags]
//
// Команды:
//
//	start-worker       Запустить воркер-демон в foreground
//	stop-worker        Запросить остановку воркера
//	list-workers       Показать реестр воркеров
//	list-rules         Показать правила
//	schedule-rule      Поставить периодическую проверку правила
//	run-rule           Выполнить тик правила немедленно
//	test-rule          Сухой прогон правила
//	list-jobs          Показать задания планировщика
//	job-stats          Статистика очереди заданий
//	rate-limit-stats   Состояние окон rate limiter'а
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Tempest/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "tempest",
		Short:         "Tempest CLI — weather-driven campaign automation tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewStartWorkerCmd(),
		cli.NewStopWorkerCmd(outputFn),
		cli.NewListWorkersCmd(outputFn),
		cli.NewListRulesCmd(outputFn),
		cli.NewScheduleRuleCmd(outputFn),
		cli.NewRunRuleCmd(outputFn),
		cli.NewTestRuleCmd(outputFn),
		cli.NewListJobsCmd(outputFn),
		cli.NewJobStatsCmd(outputFn),
		cli.NewRateLimitStatsCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
