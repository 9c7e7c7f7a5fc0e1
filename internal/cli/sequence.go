package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/db"
	"github.com/opencode-ai/memengine/internal/events"
	"github.com/opencode-ai/memengine/internal/logging"
	"github.com/opencode-ai/memengine/internal/sequences"
	"github.com/opencode-ai/memengine/internal/sequencing"
	"github.com/spf13/cobra"
)

var (
	sequenceListTags []string

	sequenceRunVars      []string
	sequenceRunCount     int
	sequenceRunPriority  bool
	sequenceRunDedicated bool
	sequenceRunTimeout   time.Duration

	sequenceNewForce bool
)

func init() {
	rootCmd.AddCommand(sequenceCmd)
	sequenceCmd.AddCommand(sequenceListCmd)
	sequenceCmd.AddCommand(sequenceShowCmd)
	sequenceCmd.AddCommand(sequenceRunCmd)
	sequenceCmd.AddCommand(sequenceNewCmd)

	sequenceListCmd.Flags().StringSliceVar(&sequenceListTags, "tag", nil, "filter by tag (repeatable)")

	sequenceRunCmd.Flags().StringSliceVarP(&sequenceRunVars, "var", "v", nil, "variable as key=value (repeatable)")
	sequenceRunCmd.Flags().IntVar(&sequenceRunCount, "runs", 0, "override run_count (-1 runs until interrupted)")
	sequenceRunCmd.Flags().BoolVar(&sequenceRunPriority, "priority", false, "jump the busy lock queue")
	sequenceRunCmd.Flags().BoolVar(&sequenceRunDedicated, "dedicated", false, "run on a dedicated connection instead of the engine's")
	sequenceRunCmd.Flags().DurationVar(&sequenceRunTimeout, "timeout", 0, "cancel the run after this long")

	sequenceNewCmd.Flags().BoolVar(&sequenceNewForce, "force", false, "overwrite an existing file")
}

var sequenceCmd = &cobra.Command{
	Use:     "sequence",
	Aliases: []string{"sequences", "seq"},
	Short:   "Manage and run task sequences",
}

var sequenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available sequences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := loadSequences()
		if err != nil {
			return err
		}
		items = filterSequences(items, sequenceListTags)

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, items)
		}
		if len(items) == 0 {
			fmt.Println("No sequences found.")
			return nil
		}

		userDir, projectDir := sequenceDirs()
		table := make([][]string, 0, len(items))
		for _, seq := range items {
			table = append(table, []string{
				seq.Name,
				strconv.Itoa(len(seq.Operations)),
				formatRunCount(seq.RunCount),
				sequenceSourceLabel(seq.Source, userDir, projectDir),
				truncate(seq.Description, 60),
			})
		}
		return writeTable(os.Stdout, []string{"NAME", "OPS", "RUNS", "SOURCE", "DESCRIPTION"}, table)
	},
}

var sequenceShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a sequence definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := lookupSequence(args[0])
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, seq)
		}

		fmt.Printf("Name:        %s\n", seq.Name)
		fmt.Printf("Description: %s\n", seq.Description)
		fmt.Printf("Runs:        %s\n", formatRunCount(seq.RunCount))
		fmt.Printf("Priority:    %s\n", formatYesNo(seq.Priority))
		fmt.Printf("Source:      %s\n", seq.Source)
		if len(seq.Tags) > 0 {
			fmt.Printf("Tags:        %s\n", strings.Join(seq.Tags, ", "))
		}
		if len(seq.Variables) > 0 {
			fmt.Println("Variables:")
			for _, v := range seq.Variables {
				line := fmt.Sprintf("  %s", v.Name)
				if v.Required {
					line += " (required)"
				} else if v.Default != "" {
					line += fmt.Sprintf(" = %s", v.Default)
				}
				if v.Description != "" {
					line += "  " + v.Description
				}
				fmt.Println(line)
			}
		}
		fmt.Println("Operations:")
		for i, op := range seq.Operations {
			fmt.Printf("  %d. %s\n", i+1, formatOperation(op))
		}
		return nil
	},
}

var sequenceRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a sequence against the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := lookupSequence(args[0])
		if err != nil {
			return err
		}
		vars, err := parseSequenceVars(sequenceRunVars)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		if sequenceRunTimeout > 0 {
			var timeoutCancel context.CancelFunc
			ctx, timeoutCancel = context.WithTimeout(ctx, sequenceRunTimeout)
			defer timeoutCancel()
		}

		opts := []sequencing.Option{}
		if cmd.Flags().Changed("runs") {
			opts = append(opts, sequencing.WithRunCount(sequenceRunCount))
		}
		if sequenceRunPriority {
			opts = append(opts, sequencing.WithPriority(true))
		}

		result, err := runSequence(ctx, seq, vars, opts)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, runResultOutput(result))
		}
		fmt.Printf("%s %s: %d iterations, %d operations, %d writes in %s\n",
			formatSequenceState(result.State),
			result.Sequence,
			result.Iterations,
			result.OperationsRun,
			result.Writes,
			formatDuration(result.Duration()),
		)
		if result.Err != nil {
			return result.Err
		}
		return nil
	},
}

var sequenceNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a sequence file in the project directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := normalizeSequenceName(args[0])
		if err != nil {
			return err
		}
		_, projectDir := sequenceDirs()
		if projectDir == "" {
			return errors.New("cannot determine the project directory")
		}
		path := filepath.Join(projectDir, name+".yaml")

		if _, err := os.Stat(path); err == nil && !sequenceNewForce {
			if !confirm(fmt.Sprintf("%s exists. Overwrite?", path)) {
				return fmt.Errorf("sequence file already exists: %s", path)
			}
		}

		data, err := sequences.Marshal(newSequenceTemplate(name))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", projectDir, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Println(path)
		return nil
	},
}

// runSequence builds seq, runs it once to a terminal state and records the
// run when a database is configured.
func runSequence(ctx context.Context, seq *sequences.Sequence, vars map[string]string, opts []sequencing.Option) (*sequencing.RunResult, error) {
	logger := logging.Component("cli")

	eng, err := openEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer eng.Close(context.Background())

	if sequenceRunDedicated {
		dedicated, err := openConnection()
		if err != nil {
			return nil, err
		}
		defer dedicated.Close()
		opts = append(opts, sequencing.WithDedicatedConnection(dedicated))
	}

	task, err := sequences.Build(seq, vars, nil, opts...)
	if err != nil {
		return nil, err
	}

	manager := sequencing.NewManager(eng)
	defer manager.Close(context.Background())

	database, err := openDatabase()
	switch {
	case err == nil:
		defer database.Close()
		recorder := events.NewRecorder(events.DefaultRecorderConfig(), db.NewEventRepository(database), db.NewRunRepository(database))
		recorder.Attach(manager)
		defer recorder.Close()
		recordConnection(ctx, database, eng.Connection())
	case errors.Is(err, errNoDatabase):
	default:
		logger.Warn().Err(err).Msg("run history disabled")
	}

	if err := manager.Add(task); err != nil {
		return nil, err
	}

	step := startProgress(fmt.Sprintf("Running %s", task.Name()))
	result, err := task.Run(ctx)
	if err != nil {
		step.Fail(err)
		return nil, err
	}
	if result.State == sequencing.StateFaulted {
		step.Fail(result.Err)
	} else {
		step.Done()
	}
	return result, nil
}

func recordConnection(ctx context.Context, database *db.DB, conn connection.Connection) {
	if conn == nil {
		return
	}
	cfg := GetConfig()
	if err := events.LogConnectionChanged(ctx, db.NewEventRepository(database), "", resolvedConnectionType(cfg), connectionOptions(cfg).Target); err != nil {
		logger := logging.Component("cli")
		logger.Debug().Err(err).Msg("failed to record connection")
	}
}

type runOutput struct {
	RunID         string `json:"run_id"`
	Sequence      string `json:"sequence"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
	Iterations    int    `json:"iterations"`
	OperationsRun int    `json:"operations_run"`
	Writes        int    `json:"writes"`
	Duration      string `json:"duration"`
}

func runResultOutput(r *sequencing.RunResult) runOutput {
	out := runOutput{
		RunID:         r.RunID,
		Sequence:      r.Sequence,
		State:         r.State.String(),
		Iterations:    r.Iterations,
		OperationsRun: r.OperationsRun,
		Writes:        r.Writes,
		Duration:      r.Duration().String(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func loadSequences() ([]*sequences.Sequence, error) {
	cwd, _ := os.Getwd()
	return sequences.LoadSequencesFromSearchPaths(cwd, GetConfig().Sequences.Dirs...)
}

func lookupSequence(name string) (*sequences.Sequence, error) {
	items, err := loadSequences()
	if err != nil {
		return nil, err
	}
	seq := findSequenceByName(items, name)
	if seq == nil {
		return nil, fmt.Errorf("%w: %s", sequences.ErrNotFound, name)
	}
	return seq, nil
}

// sequenceDirs returns the user and project sequence directories.
func sequenceDirs() (string, string) {
	var userDir, projectDir string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		userDir = filepath.Join(home, ".config", "memengine", "sequences")
	}
	if cwd, err := os.Getwd(); err == nil {
		projectDir = filepath.Join(cwd, ".memengine", "sequences")
	}
	return userDir, projectDir
}

func filterSequences(items []*sequences.Sequence, tags []string) []*sequences.Sequence {
	if len(tags) == 0 {
		return items
	}
	want := make(map[string]bool, len(tags))
	for _, tag := range tags {
		want[strings.ToLower(strings.TrimSpace(tag))] = true
	}

	out := make([]*sequences.Sequence, 0, len(items))
	for _, seq := range items {
		for _, tag := range seq.Tags {
			if want[strings.ToLower(tag)] {
				out = append(out, seq)
				break
			}
		}
	}
	return out
}

func findSequenceByName(items []*sequences.Sequence, name string) *sequences.Sequence {
	name = strings.TrimSpace(name)
	for _, seq := range items {
		if strings.EqualFold(seq.Name, name) {
			return seq
		}
	}
	return nil
}

// parseSequenceVars parses key=value pairs. Entries may be comma separated.
func parseSequenceVars(values []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, value := range values {
		for _, pair := range strings.Split(value, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			key, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid variable %q (expected key=value)", pair)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("invalid variable %q (empty key)", pair)
			}
			vars[key] = strings.TrimSpace(val)
		}
	}
	return vars, nil
}

func normalizeSequenceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("sequence name is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid sequence name %q", name)
	}
	return name, nil
}

func sequenceSourceLabel(source, userDir, projectDir string) string {
	switch {
	case source == "builtin":
		return "builtin"
	case projectDir != "" && strings.HasPrefix(source, projectDir+string(filepath.Separator)):
		return "project"
	case userDir != "" && strings.HasPrefix(source, userDir+string(filepath.Separator)):
		return "user"
	default:
		return "file"
	}
}

func formatRunCount(n *int) string {
	if n == nil {
		return "1"
	}
	if *n == sequencing.InfiniteRuns {
		return "forever"
	}
	return strconv.Itoa(*n)
}

// formatOperation renders an operation spec on one line.
func formatOperation(op sequences.OperationSpec) string {
	var b strings.Builder
	b.WriteString(formatOperationShort(op))

	keys := make([]string, 0, len(op.Params))
	for k := range op.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, op.Params[k])
	}

	if op.Trigger != nil {
		fmt.Fprintf(&b, " (trigger: %s..%s", op.Trigger.MinWait, op.Trigger.MaxWait)
		if op.Trigger.Chance > 0 {
			fmt.Fprintf(&b, ", 1 in %d", op.Trigger.Chance)
		}
		b.WriteString(")")
	}
	for _, c := range op.Conditions {
		fmt.Fprintf(&b, " [if %s", c.Type)
		if c.OutputMode != "" {
			fmt.Fprintf(&b, ":%s", c.OutputMode)
		}
		if addr, ok := c.Params["address"]; ok {
			fmt.Fprintf(&b, " %s", addr)
		}
		if cmp, ok := c.Params["compare"]; ok {
			fmt.Fprintf(&b, " %s", cmp)
		}
		if v, ok := c.Params["value"]; ok {
			fmt.Fprintf(&b, " %s", v)
		}
		b.WriteString("]")
	}
	return b.String()
}

func formatOperationShort(op sequences.OperationSpec) string {
	if op.Enabled != nil && !*op.Enabled {
		return op.Type + ":disabled"
	}
	return op.Type
}

func newSequenceTemplate(name string) *sequences.Sequence {
	runs := 1
	return &sequences.Sequence{
		Name:        name,
		Description: "Describe what this sequence does",
		RunCount:    &runs,
		Variables: []sequences.SequenceVar{
			{Name: "address", Description: "Target address", Required: true},
			{Name: "value", Description: "Value to write", Default: "0"},
		},
		Operations: []sequences.OperationSpec{
			{Type: "set_memory", Params: map[string]string{
				"address":   "{{.address}}",
				"data_type": "int32",
				"value":     "{{.value}}",
			}},
			{Type: "delay", Params: map[string]string{"duration": "100ms"}},
		},
	}
}
