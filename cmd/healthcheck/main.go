package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"picpic.sync/internal/adapters/api"
	"picpic.sync/internal/config"
	"picpic.sync/internal/core/logger"
	"picpic.sync/internal/core/services"
)

var (
	monitorMode bool
	fixMode     bool
)

func main() {
	root := &cobra.Command{
		Use:   "healthcheck",
		Short: "Verify the companion server and local sync prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if monitorMode {
				svc.Monitor(ctx, services.DefaultMonitorInterval, printReport)
				return nil
			}

			var report *services.HealthReport
			if fixMode {
				report = svc.Fix(ctx)
			} else {
				report = svc.Run(ctx)
			}
			printReport(report)
			// Direct invocation always exits 0; the ci subcommand is the
			// one that propagates failure.
			return nil
		},
	}
	root.Flags().BoolVar(&monitorMode, "monitor", false, "re-run checks every 30s until interrupted")
	root.Flags().BoolVar(&fixMode, "fix", false, "attempt remediation of failed checks, then re-check")

	ci := &cobra.Command{
		Use:   "ci",
		Short: "Run one check cycle and exit 1 if any check failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService()
			if err != nil {
				return err
			}
			report := svc.Run(cmd.Context())
			printReport(report)
			if !report.Healthy() {
				os.Exit(1)
			}
			return nil
		},
	}
	root.AddCommand(ci)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildService() (*services.HealthService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	return services.NewHealthService(api.NewClient(cfg.ServerURL), cfg), nil
}

func printReport(report *services.HealthReport) {
	for _, rec := range report.Records {
		mark := "PASS"
		if rec.Status == services.CheckFail {
			mark = "FAIL"
		}
		fmt.Printf("[%s] %s: %s\n", mark, rec.Name, rec.Detail)
	}
	fmt.Printf("score: %d/100 (%d of %d checks passed)\n",
		report.Score, report.Passed, report.Total)
	for _, name := range report.Remediated {
		fmt.Printf("remediated: %s\n", name)
	}
	for _, name := range report.NonRemediable {
		fmt.Printf("no remediation available: %s\n", name)
	}
	fmt.Println()
}
