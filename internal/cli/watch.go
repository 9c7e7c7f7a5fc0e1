package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/tui"
	"github.com/spf13/cobra"
)

var (
	watchInterval time.Duration
	watchOnce     bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&valueType, "type", "t", "int32", "data type for every address")
	watchCmd.Flags().StringVarP(&valueDisplay, "display", "d", "normal", "numeric display (normal, unsigned, hex)")
	watchCmd.Flags().StringVarP(&valueEncoding, "encoding", "e", "ascii", "string encoding")
	watchCmd.Flags().IntVarP(&readLength, "length", "n", 16, "characters or bytes for string and bytearray")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "refresh interval (default engine.refresh_interval)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "print one refresh and exit")
}

var watchCmd = &cobra.Command{
	Use:   "watch <address>...",
	Short: "Continuously display values at addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		opts, t, err := valueFlags()
		if err != nil {
			return err
		}
		like, err := likeValue(t, opts.Encoding, readLength)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		interval := watchInterval
		if interval <= 0 {
			interval = cfg.Engine.RefreshInterval
		}
		refresher := engine.NewRefresher(engine.RefresherConfig{Interval: interval}, eng)
		for _, arg := range args {
			addr, err := address.Parse(arg)
			if err != nil {
				return err
			}
			refresher.Watch(arg, addr, like, opts.Display)
		}

		if watchOnce || !cfg.Engine.RefreshEnabled {
			refresher.Tick(ctx)
			return printWatch(refresher.Entries())
		}

		if err := refresher.Start(ctx); err != nil {
			return err
		}
		defer refresher.Stop()

		if !IsJSONOutput() && !IsJSONLOutput() && !IsNonInteractive() {
			return tui.RunWatch(ctx, refresher, fmt.Sprintf("memengine watch (%s)", interval))
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-refresher.Events():
				if ev.Skipped {
					continue
				}
				if err := printWatch(refresher.Entries()); err != nil {
					return err
				}
			}
		}
	},
}

type watchRow struct {
	Label    string `json:"label"`
	Resolved string `json:"resolved,omitempty"`
	Value    string `json:"value"`
	Error    string `json:"error,omitempty"`
}

func printWatch(entries []engine.WatchEntry) error {
	rows := make([]watchRow, 0, len(entries))
	for _, e := range entries {
		row := watchRow{Label: e.Label, Value: e.FormattedValue(), Error: e.Err}
		switch {
		case e.Unresolved:
			row.Value = "??"
		case e.Value != nil:
			row.Resolved = fmt.Sprintf("%08X", e.Resolved)
		}
		rows = append(rows, row)
	}

	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(os.Stdout, rows)
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.Label, r.Resolved, r.Value, r.Error})
	}
	return writeTable(os.Stdout, []string{"ADDRESS", "RESOLVED", "VALUE", "ERROR"}, table)
}
