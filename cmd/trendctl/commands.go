package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"trendboard/internal/bootstrap"
	"trendboard/internal/domain/market_data"
	"trendboard/internal/services/pipeline"
	"trendboard/pkg/errors"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := bootstrap.NewContainer()
			c.MustInitConfig()
			c.Config.Postgres.AutoMigrate = false
			c.MustInitInfrastructure()
			defer c.Close()

			applied, err := bootstrap.MigratePostgres(cmd.Context(), c.PG)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Validate and store 1-minute bars from a CSV file",
		Long: `Reads rows of timestamp,open,high,low,close,volume. Timestamps are RFC3339
or "2006-01-02 15:04" in the market zone. A header row is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := openCore()
			defer c.Close()

			loc, err := c.Config.Market.Location()
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrapf(err, "open %s", file)
			}
			defer f.Close()

			bars, err := readBarsCSV(f, securityID, loc)
			if err != nil {
				return err
			}

			result, err := c.Services.Ingest.Ingest(cmd.Context(), securityID, market_data.Timeframe1m, bars)
			if err != nil {
				return err
			}
			fmt.Printf("Read %s rows: %s accepted, %s rejected, %s written in %d batch(es)\n",
				humanize.Comma(int64(len(bars))),
				humanize.Comma(int64(result.Accepted)),
				humanize.Comma(int64(result.Rejected)),
				humanize.Comma(int64(result.Written)),
				result.Batches,
			)
			for i, rej := range result.Rejections {
				if i == 10 {
					fmt.Printf("... and %d more rejections\n", len(result.Rejections)-i)
					break
				}
				fmt.Println("  rejected:", rej)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file of 1-minute bars")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild derived bars from stored 1-minute bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := openCore()
			defer c.Close()

			r, err := parseRange(from, to, c.Services.Calendar.Location())
			if err != nil {
				return err
			}
			report, err := c.Services.Aggregation.Aggregate(cmd.Context(), securityID, r)
			if err != nil {
				return err
			}
			return printAggregation(report)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day to aggregate, YYYY-MM-DD (default: all history)")
	cmd.Flags().StringVar(&to, "to", "", "day after the last day to aggregate, YYYY-MM-DD")
	return cmd
}

func levelsCmd() *cobra.Command {
	var backfill int
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Estimate support and resistance levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := openCore()
			defer c.Close()

			if backfill > 0 {
				n, err := c.Services.Levels.Backfill(cmd.Context(), securityID, backfill)
				if err != nil {
					return err
				}
				fmt.Printf("Inserted %s historical level set(s)\n", humanize.Comma(int64(n)))
			}

			set, err := c.Services.Levels.Refresh(cmd.Context(), securityID)
			if err != nil {
				return err
			}
			return printLevels(set)
		},
	}
	cmd.Flags().IntVar(&backfill, "backfill", 0, "also insert causal level sets every N bars of history")
	return cmd
}

func labelCmd() *cobra.Command {
	var timeframe string
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Relabel the full history of one timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := market_data.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			c := openCore()
			defer c.Close()

			run, err := c.Services.Trend.Recompute(cmd.Context(), securityID, tf)
			if run != nil {
				if perr := printRuns(run); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "daily", "timeframe to relabel")
	return cmd
}

func recalcCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Run the full pipeline: aggregate, levels, relabel every timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := openCore()
			defer c.Close()

			r, err := parseRange(from, "", c.Services.Calendar.Location())
			if err != nil {
				return err
			}
			start := time.Now()
			result, err := c.Services.Pipeline.Run(cmd.Context(), securityID, r, pipeline.TriggerCLI)
			if result != nil {
				if result.Aggregation != nil {
					if perr := printAggregation(result.Aggregation); perr != nil {
						return perr
					}
				}
				if perr := printRuns(result.Runs...); perr != nil {
					return perr
				}
			}
			fmt.Printf("Pipeline finished in %s\n", time.Since(start).Round(time.Millisecond))
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "re-aggregate from this day, YYYY-MM-DD (default: all history)")
	return cmd
}

func verifyCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Report label coverage per timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := openCore()
			defer c.Close()

			coverage, err := c.Services.Pipeline.VerifyCoverage(cmd.Context(), securityID)
			if err != nil {
				return err
			}
			if err := printCoverage(coverage); err != nil {
				return err
			}
			if !repair {
				return nil
			}

			runs, err := c.Services.Pipeline.Repair(cmd.Context(), securityID)
			if len(runs) == 0 && err == nil {
				fmt.Println("Every timeframe is current, nothing to repair")
				return nil
			}
			if perr := printRuns(runs...); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "relabel timeframes with incomplete or stale labels")
	return cmd
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Show the dashboard snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := openCore()
			defer c.Close()

			snap, err := c.Services.Snapshot.Build(cmd.Context(), securityID)
			if err != nil {
				return err
			}
			return printSnapshot(snap)
		},
	}
}

func winrateCmd() *cobra.Command {
	var timeframe string
	var horizon int
	cmd := &cobra.Command{
		Use:   "winrate",
		Short: "Evaluate stored labels against the close horizon bars later",
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := market_data.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}
			c := openCore()
			defer c.Close()

			if horizon <= 0 {
				horizon = c.Config.Trend.WinRateHorizon
			}
			rates, err := c.Services.Trend.WinRates(cmd.Context(), securityID, tf, horizon)
			if err != nil {
				return err
			}
			return printWinRates(tf, horizon, rates)
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "daily", "labelled timeframe")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "bars ahead (default: TREND_WIN_RATE_HORIZON)")
	return cmd
}

func parseRange(from, to string, loc *time.Location) (market_data.Range, error) {
	var r market_data.Range
	if from != "" {
		t, err := time.ParseInLocation(time.DateOnly, from, loc)
		if err != nil {
			return r, errors.Wrapf(errors.ErrInvalidInput, "--from %q", from)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(time.DateOnly, to, loc)
		if err != nil {
			return r, errors.Wrapf(errors.ErrInvalidInput, "--to %q", to)
		}
		r.To = t
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return r, errors.Wrapf(errors.ErrInvalidInput, "empty range %s..%s", from, to)
	}
	return r, nil
}
