package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencode-ai/memengine/internal/config"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/engine"
)

var (
	connectionType   string
	connectionTarget string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&connectionType, "connection", "", "override connection.type (memory, remote)")
	rootCmd.PersistentFlags().StringVar(&connectionTarget, "target", "", "override connection.target (host:port of memd)")
}

func rootContext() context.Context {
	return context.Background()
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func connectionOptions(cfg *config.Config) connection.Options {
	target := cfg.Connection.Target
	if connectionTarget != "" {
		target = connectionTarget
	}
	return connection.Options{
		Target:       target,
		LittleEndian: cfg.Connection.LittleEndian,
		BaseAddress:  cfg.Connection.BaseAddress,
		MemorySize:   cfg.Connection.MemorySize,
		Timeout:      cfg.Connection.Timeout,
	}
}

func resolvedConnectionType(cfg *config.Config) string {
	if connectionType != "" {
		return connectionType
	}
	return cfg.Connection.Type
}

// openConnection opens a new connection of the configured backend.
func openConnection() (connection.Connection, error) {
	cfg := GetConfig()
	kind := resolvedConnectionType(cfg)
	conn, err := connection.Open(kind, connectionOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", kind, err)
	}
	return conn, nil
}

// openEngine builds an engine and attaches a freshly opened connection.
func openEngine(ctx context.Context) (*engine.MemoryEngine, error) {
	cfg := GetConfig()
	eng := engine.New(engine.Config{
		ChunkSize:      cfg.Engine.ChunkSize,
		AcquireTimeout: cfg.Engine.AcquireTimeout,
	})

	conn, err := openConnection()
	if err != nil {
		return nil, err
	}

	token, err := eng.BusyLock().Acquire(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer token.Release()
	if err := eng.SetConnection(ctx, token, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return eng, nil
}
