package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	levelsdomain "trendboard/internal/domain/levels"
	"trendboard/internal/domain/market_data"
	trenddomain "trendboard/internal/domain/trend"
	"trendboard/internal/services/aggregation"
	"trendboard/internal/services/snapshot"
	"trendboard/internal/services/trend"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...string) *tablewriter.Table {
	return tablewriter.NewTable(os.Stdout, tablewriter.WithHeader(header))
}

func printAggregation(report *aggregation.Report) error {
	if format == "json" {
		return printJSON(report)
	}

	fmt.Printf("Aggregated %s source bars in %s\n", humanize.Comma(int64(report.SourceBars)), report.Duration.Round(time.Millisecond))
	table := newTable("Timeframe", "Buckets", "Written")
	for _, tf := range market_data.AllTimeframes {
		produced, ok := report.Produced[tf]
		if !ok {
			continue
		}
		table.Append([]string{tf.String(), humanize.Comma(int64(produced)), humanize.Comma(int64(report.Written[tf]))})
	}
	table.Render()

	if n := len(report.Incomplete); n > 0 {
		fmt.Printf("%d incomplete bucket(s):\n", n)
		for i, b := range report.Incomplete {
			if i == 10 {
				fmt.Printf("  ... and %d more\n", n-i)
				break
			}
			fmt.Printf("  %s %s: %d of %d source bars\n", b.Timeframe, b.Start.Format(time.DateTime), b.Have, b.Want)
		}
	}
	for _, failed := range report.Failed {
		fmt.Println("  failed:", failed)
	}
	return nil
}

func printLevels(set *levelsdomain.LevelSet) error {
	if format == "json" {
		return printJSON(set)
	}

	fmt.Printf("Levels as of %s (reference %s, %d bars)\n", set.AsOf.Format(time.DateOnly), set.ReferencePrice, set.BarsUsed)
	table := newTable("Level", "Price", "Touches", "Revisits")
	for _, l := range set.Levels {
		prefix := "S"
		if l.Side == levelsdomain.SideResistance {
			prefix = "R"
		}
		table.Append([]string{fmt.Sprintf("%s%d", prefix, l.Rank), l.Price.StringFixed(2), fmt.Sprint(l.Touches), fmt.Sprint(l.Revisits)})
	}
	table.Render()
	return nil
}

func printRuns(runs ...*trenddomain.Run) error {
	if format == "json" {
		return printJSON(runs)
	}

	table := newTable("Timeframe", "Status", "Bars", "Labelled", "Run", "Error")
	for _, run := range runs {
		if run == nil {
			continue
		}
		table.Append([]string{
			run.Timeframe.String(),
			string(run.Status),
			humanize.Comma(int64(run.BarsTotal)),
			humanize.Comma(int64(run.BarsLabeled)),
			run.RunID.String()[:8],
			run.Error,
		})
	}
	table.Render()
	return nil
}

func printCoverage(coverage []*trenddomain.Coverage) error {
	if format == "json" {
		return printJSON(coverage)
	}

	table := newTable("Timeframe", "Bars", "Labelled", "Coverage", "Stale", "Missing", "Up", "Down", "Neutral", "Last run")
	for _, cov := range coverage {
		lastRun := "never"
		if cov.LatestRun != nil {
			lastRun = string(cov.LatestRun.Status) + " " + humanize.Time(cov.LatestRun.StartedAt)
		}
		table.Append([]string{
			cov.Timeframe.String(),
			humanize.Comma(int64(cov.TotalBars)),
			humanize.Comma(int64(cov.LabeledBars)),
			fmt.Sprintf("%.1f%%", cov.Percent()),
			fmt.Sprint(cov.StaleLabels),
			fmt.Sprint(cov.MissingBuckets),
			fmt.Sprint(cov.Distribution[trenddomain.DirectionUp]),
			fmt.Sprint(cov.Distribution[trenddomain.DirectionDown]),
			fmt.Sprint(cov.Distribution[trenddomain.DirectionNeutral]),
			lastRun,
		})
	}
	table.Render()
	return nil
}

func printSnapshot(snap *snapshot.Snapshot) error {
	if format == "json" {
		return printJSON(snap)
	}

	fmt.Printf("%s (%s)", snap.Symbol, snap.SecurityID)
	if snap.LastClose != nil {
		fmt.Printf("  last %s", snap.LastClose.StringFixed(2))
	}
	if snap.DayChange != nil {
		fmt.Printf("  %s%%", snap.DayChange.StringFixed(2))
	}
	fmt.Println()

	table := newTable("Timeframe", "Bar", "Open", "High", "Low", "Close", "Trend", "Strength", "Zone", "Stale")
	for _, v := range snap.Timeframes {
		row := []string{v.Timeframe.String(), "-", "", "", "", "", "-", "", "", fmt.Sprint(v.Stale)}
		if v.Bar != nil {
			row[1] = v.Bar.Timestamp.Format(time.DateOnly)
			row[2] = v.Bar.Open.StringFixed(2)
			row[3] = v.Bar.High.StringFixed(2)
			row[4] = v.Bar.Low.StringFixed(2)
			row[5] = v.Bar.Close.StringFixed(2)
		}
		if v.Label != nil {
			row[6] = string(v.Label.Direction)
			row[7] = fmt.Sprintf("%.2f", v.Label.Strength)
			row[8] = string(v.Label.LevelZone)
		}
		table.Append(row)
	}
	table.Render()

	if snap.Levels != nil {
		return printLevels(snap.Levels)
	}
	return nil
}

func printWinRates(tf market_data.Timeframe, horizon int, rates map[trenddomain.Direction]trend.WinRate) error {
	if format == "json" {
		return printJSON(rates)
	}

	fmt.Printf("Win rate of %s labels over %d bars\n", tf, horizon)
	dirs := make([]string, 0, len(rates))
	for d := range rates {
		dirs = append(dirs, string(d))
	}
	sort.Strings(dirs)

	table := newTable("Direction", "Samples", "Wins", "Rate")
	for _, d := range dirs {
		r := rates[trenddomain.Direction(d)]
		table.Append([]string{d, humanize.Comma(int64(r.Samples)), humanize.Comma(int64(r.Wins)), fmt.Sprintf("%.1f%%", r.Rate*100)})
	}
	table.Render()
	return nil
}
