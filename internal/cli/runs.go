package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/memengine/internal/db"
	"github.com/opencode-ai/memengine/internal/models"
	"github.com/spf13/cobra"
)

var (
	runsListSequence string
	runsListState    string
	runsListSince    time.Duration
	runsListLimit    int

	runsSummarySince time.Duration

	runsPruneOlderThan time.Duration
	runsPruneYes       bool
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsSummaryCmd)
	runsCmd.AddCommand(runsPruneCmd)

	runsListCmd.Flags().StringVarP(&runsListSequence, "sequence", "s", "", "filter by sequence name")
	runsListCmd.Flags().StringVar(&runsListState, "state", "", "filter by state (running, completed, cancelled, faulted)")
	runsListCmd.Flags().DurationVar(&runsListSince, "since", 0, "only runs started within this window (e.g. 24h)")
	runsListCmd.Flags().IntVarP(&runsListLimit, "limit", "n", 20, "maximum runs to show")

	runsSummaryCmd.Flags().DurationVar(&runsSummarySince, "since", 0, "only runs started within this window")

	runsPruneCmd.Flags().DurationVar(&runsPruneOlderThan, "older-than", 30*24*time.Hour, "delete events older than this")
	runsPruneCmd.Flags().BoolVarP(&runsPruneYes, "yes", "y", false, "skip confirmation")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect sequence run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		q := models.RunQuery{Limit: runsListLimit}
		if runsListSequence != "" {
			q.Sequence = &runsListSequence
		}
		if runsListState != "" {
			state := models.RunState(runsListState)
			q.State = &state
		}
		if runsListSince > 0 {
			since := time.Now().Add(-runsListSince)
			q.Since = &since
		}

		runs, err := db.NewRunRepository(database).Query(rootContext(), q)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, []string{
				shortID(run.ID),
				run.Sequence,
				formatRunState(run.State),
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				formatDuration(run.Duration()),
				strconv.Itoa(run.Iterations),
				strconv.Itoa(run.Writes),
				truncate(run.Error, 40),
			})
		}
		return writeTable(os.Stdout, []string{"ID", "SEQUENCE", "STATE", "STARTED", "DURATION", "ITER", "WRITES", "ERROR"}, rows)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := rootContext()
		run, err := findRun(ctx, db.NewRunRepository(database), args[0])
		if err != nil {
			return err
		}
		evs, err := db.NewEventRepository(database).ListByEntity(ctx, models.EntityTypeSequence, run.Sequence, 20)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, struct {
				Run    *models.SequenceRun `json:"run"`
				Events []*models.Event     `json:"events"`
			}{run, evs})
		}

		fmt.Printf("ID:          %s\n", run.ID)
		fmt.Printf("Sequence:    %s\n", run.Sequence)
		fmt.Printf("State:       %s\n", formatRunState(run.State))
		fmt.Printf("Connection:  %s\n", run.Connection)
		fmt.Printf("Started:     %s\n", run.StartedAt.Local().Format(time.RFC3339))
		if run.FinishedAt != nil {
			fmt.Printf("Finished:    %s\n", run.FinishedAt.Local().Format(time.RFC3339))
		}
		fmt.Printf("Duration:    %s\n", formatDuration(run.Duration()))
		fmt.Printf("Iterations:  %d\n", run.Iterations)
		fmt.Printf("Operations:  %d\n", run.OperationsRun)
		fmt.Printf("Writes:      %d\n", run.Writes)
		if run.Error != "" {
			fmt.Printf("Error:       %s\n", run.Error)
		}
		if len(evs) > 0 {
			fmt.Println("Recent sequence events:")
			for _, ev := range evs {
				fmt.Printf("  %s  %s\n", ev.Timestamp.Local().Format("15:04:05.000"), ev.Type)
			}
		}
		return nil
	},
}

var runsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize runs per sequence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		var since *time.Time
		if runsSummarySince > 0 {
			t := time.Now().Add(-runsSummarySince)
			since = &t
		}
		summaries, err := db.NewRunRepository(database).Summarize(rootContext(), since)
		if err != nil {
			return fmt.Errorf("failed to summarize runs: %w", err)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, summaries)
		}
		if len(summaries) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		rows := make([][]string, 0, len(summaries))
		for _, s := range summaries {
			last := ""
			if s.LastRunAt != nil {
				last = s.LastRunAt.Local().Format("2006-01-02 15:04:05")
			}
			rows = append(rows, []string{
				s.Sequence,
				strconv.FormatInt(s.Runs, 10),
				strconv.FormatInt(s.Completed, 10),
				strconv.FormatInt(s.Cancelled, 10),
				strconv.FormatInt(s.Faulted, 10),
				strconv.FormatInt(s.TotalWrites, 10),
				last,
			})
		}
		return writeTable(os.Stdout, []string{"SEQUENCE", "RUNS", "OK", "CANCELLED", "FAULTED", "WRITES", "LAST RUN"}, rows)
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cutoff := time.Now().Add(-runsPruneOlderThan)
		if !runsPruneYes && !confirm(fmt.Sprintf("Delete events before %s?", cutoff.Format(time.RFC3339))) {
			return fmt.Errorf("prune aborted")
		}

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		n, err := db.NewEventRepository(database).DeleteBefore(rootContext(), cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune events: %w", err)
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, map[string]int64{"deleted": n})
		}
		fmt.Printf("Deleted %d events.\n", n)
		return nil
	},
}

// findRun looks a run up by ID, falling back to a unique prefix match among
// recent runs so the short IDs printed by runs list work.
func findRun(ctx context.Context, repo *db.RunRepository, id string) (*models.SequenceRun, error) {
	run, err := repo.Get(ctx, id)
	if err == nil || !errors.Is(err, db.ErrRunNotFound) {
		return run, err
	}

	recent, qerr := repo.Query(ctx, models.RunQuery{Limit: 500})
	if qerr != nil {
		return nil, qerr
	}
	var match *models.SequenceRun
	for _, r := range recent {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
