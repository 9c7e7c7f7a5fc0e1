package sequencing

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/memengine/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetLogger(zerolog.Nop())
	os.Exit(m.Run())
}
