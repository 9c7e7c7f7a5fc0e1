package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/sequencing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = 0x82000000

func newTestEngine(t *testing.T) (*engine.MemoryEngine, *connection.MemoryConnection) {
	t.Helper()
	device := connection.NewMemoryConnection(connection.WithRegion(testBase, 0x100))
	eng := engine.New(engine.DefaultConfig())

	ctx := context.Background()
	token, err := eng.BusyLock().Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.SetConnection(ctx, token, device))
	token.Release()
	return eng, device
}

func TestWriteValueModes(t *testing.T) {
	eng, device := newTestEngine(t)
	ctx := context.Background()
	addr := address.MustParse("82000010")
	opts := datavalue.Options{}

	_, err := writeValue(ctx, eng, addr, "10", datavalue.TypeInt32, opts, sequencing.WriteSet, false)
	require.NoError(t, err)

	v, err := writeValue(ctx, eng, addr, "5", datavalue.TypeInt32, opts, sequencing.WriteAdd, false)
	require.NoError(t, err)
	assert.Equal(t, datavalue.Int32(15), v)

	v, err = writeValue(ctx, eng, addr, "v * 2", datavalue.TypeInt32, opts, sequencing.WriteSet, false)
	require.NoError(t, err)
	assert.Equal(t, datavalue.Int32(30), v)

	v, err = writeValue(ctx, eng, addr, "1", datavalue.TypeInt32, opts, sequencing.WriteSubtract, false)
	require.NoError(t, err)
	assert.Equal(t, datavalue.Int32(29), v)

	raw, err := device.Peek(testBase+0x10, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 29}, raw)
	assert.False(t, eng.BusyLock().IsBusy())
}

func TestWriteAndReadString(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	addr := address.MustParse("82000040")

	_, err := writeValue(ctx, eng, addr, "hello", datavalue.TypeString, datavalue.Options{Encoding: datavalue.ASCII}, sequencing.WriteSet, true)
	require.NoError(t, err)

	like, err := likeValue(datavalue.TypeString, datavalue.ASCII, 5)
	require.NoError(t, err)
	result, err := readValue(ctx, eng, addr, like)
	require.NoError(t, err)
	assert.Equal(t, "82000040", result.Resolved)
	assert.Equal(t, "hello", result.raw.String())
}

func TestReadValueUnresolvable(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := readValue(context.Background(), eng, address.MustParse("82000000->0"), datavalue.Int32(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnresolvable)
}

func TestLikeValue(t *testing.T) {
	v, err := likeValue(datavalue.TypeInt16, datavalue.ASCII, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, datavalue.ReadLength(v))

	v, err = likeValue(datavalue.TypeByteArray, datavalue.ASCII, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, datavalue.ReadLength(v))

	_, err = likeValue(datavalue.TypeString, datavalue.ASCII, 0)
	assert.Error(t, err)
}

func TestWriteOutputJSONLines(t *testing.T) {
	jsonlOutput = true
	defer func() { jsonlOutput = false }()

	var buf bytes.Buffer
	require.NoError(t, WriteOutput(&buf, []map[string]int{{"a": 1}, {"b": 2}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, lines)
}

func TestFormatStatusLabel(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	assert.Equal(t, "OK completed", formatRunState("completed"))
	assert.Equal(t, "ERR faulted", formatSequenceState(sequencing.StateFaulted))
	assert.Equal(t, "OK", formatStatusLabel("OK", " "))
}
