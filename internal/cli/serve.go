package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencode-ai/memengine/internal/db"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/events"
	"github.com/opencode-ai/memengine/internal/logging"
	"github.com/opencode-ai/memengine/internal/memd"
	"github.com/opencode-ai/memengine/internal/sequences"
	"github.com/opencode-ai/memengine/internal/sequencing"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
	serveRun  []string
	serveVars []string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default daemon.hostname)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default daemon.port)")
	serveCmd.Flags().StringSliceVar(&serveRun, "run", nil, "sequence to run in the background while serving (repeatable)")
	serveCmd.Flags().StringSliceVarP(&serveVars, "var", "v", nil, "variable for --run sequences as key=value (repeatable)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the device connection over gRPC (memd)",
	Long: `Run memd: expose the configured connection to remote memengine
clients. With the default memory backend this serves a simulated device.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		logger := logging.Component("memd")

		ctx, cancel := signalContext()
		defer cancel()

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		daemon, err := memd.New(cfg, eng, logger, memd.Options{
			Hostname: serveHost,
			Port:     servePort,
			Version:  version,
		})
		if err != nil {
			return err
		}

		if len(serveRun) > 0 {
			cleanup, err := startBackgroundSequences(eng, serveRun, serveVars)
			if err != nil {
				return err
			}
			defer cleanup()
		}

		return daemon.Run(ctx)
	},
}

// startBackgroundSequences builds names and starts them on eng, sharing its
// busy lock with memd clients. The returned cleanup cancels and waits for them.
func startBackgroundSequences(eng *engine.MemoryEngine, names, rawVars []string) (func(), error) {
	vars, err := parseSequenceVars(rawVars)
	if err != nil {
		return nil, err
	}

	manager := sequencing.NewManager(eng)
	closers := []func(){
		func() { _ = manager.Close(context.Background()) },
	}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	database, err := openDatabase()
	switch {
	case err == nil:
		recorder := events.NewRecorder(events.DefaultRecorderConfig(), db.NewEventRepository(database), db.NewRunRepository(database))
		recorder.Attach(manager)
		// closers run in reverse: sequences stop, then the recorder drains, then the database closes.
		closers = []func(){func() { database.Close() }, recorder.Close, closers[0]}
	case !errors.Is(err, errNoDatabase):
		logger := logging.Component("cli")
		logger.Warn().Err(err).Msg("run history disabled")
	}

	for _, name := range names {
		seq, err := lookupSequence(name)
		if err != nil {
			cleanup()
			return nil, err
		}
		task, err := sequences.Build(seq, vars, nil)
		if err != nil {
			cleanup()
			return nil, err
		}
		if err := manager.Add(task); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if err := manager.Start(task.Name()); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to start %s: %w", name, err)
		}
	}
	return cleanup, nil
}
