package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trendboard/internal/bootstrap"
)

var (
	securityID string
	format     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trendctl",
		Short: "Operate the trendboard aggregation and labeling pipeline",
		Long: `trendctl runs the trendboard pipeline stages by hand against the configured database.

Examples:
  trendctl migrate
  trendctl ingest --file 15380_1m.csv
  trendctl aggregate --from 2025-03-01
  trendctl recalc
  trendctl verify --repair
  trendctl snapshot --format json`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&securityID, "security", "", "security id (default: MARKET_SECURITY_ID)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")

	rootCmd.AddCommand(
		migrateCmd(),
		ingestCmd(),
		aggregateCmd(),
		levelsCmd(),
		labelCmd(),
		recalcCmd(),
		verifyCmd(),
		snapshotCmd(),
		winrateCmd(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openCore builds storage and services for one command
func openCore() *bootstrap.Container {
	c := bootstrap.NewContainer()
	c.MustInitCore()
	if securityID == "" {
		securityID = c.Config.Market.SecurityID
	}
	return c
}
