package sequencing

import (
	"context"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/memengine/internal/busylock"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/engine"
)

// ExecutionContext is what operations and conditions see during one run.
type ExecutionContext struct {
	Sequence   *TaskSequence
	Connection connection.Connection

	// Token is the engine busy token held for the run, nil on a dedicated
	// connection.
	Token *busylock.Token

	ChunkSize int
	Rand      *rand.Rand
	Logger    zerolog.Logger

	stats *runStats
}

// ReadValue reads a value shaped like like at a resolved address.
func (x *ExecutionContext) ReadValue(ctx context.Context, address uint32, like datavalue.Value) (datavalue.Value, error) {
	return engine.ReadDataValue(ctx, x.Connection, address, like, x.ChunkSize)
}

// WriteValue writes v at a resolved address and counts the write.
func (x *ExecutionContext) WriteValue(ctx context.Context, address uint32, v datavalue.Value, appendNull bool) error {
	if err := engine.WriteDataValue(ctx, x.Connection, address, v, appendNull); err != nil {
		return err
	}
	if x.stats != nil {
		x.stats.writes++
	}
	return nil
}

type runStats struct {
	iterations    int
	operationsRun int
	writes        int
}
