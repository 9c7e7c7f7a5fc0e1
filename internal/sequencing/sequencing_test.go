package sequencing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/engine"
)

const testBase = 0x82000000

func newDevice() *connection.MemoryConnection {
	return connection.NewMemoryConnection(connection.WithRegion(testBase, 0x1000))
}

func newTestManager(t *testing.T) (*Manager, *engine.MemoryEngine, *connection.MemoryConnection) {
	t.Helper()
	e := engine.New(engine.Config{})
	conn := newDevice()

	token := e.BusyLock().TryAcquire()
	require.NotNil(t, token)
	require.NoError(t, e.SetConnection(context.Background(), token, conn))
	token.Release()

	m := NewManager(e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, e, conn
}

func newTestContext(conn connection.Connection) *ExecutionContext {
	return &ExecutionContext{
		Connection: conn,
		ChunkSize:  connection.DefaultChunkSize,
		Rand:       rand.New(rand.NewPCG(1, 2)),
		Logger:     zerolog.Nop(),
		stats:      &runStats{},
	}
}

func poke(t *testing.T, conn *connection.MemoryConnection, at uint32, v datavalue.Value) {
	t.Helper()
	buf, err := datavalue.Bytes(v, conn.LittleEndian())
	require.NoError(t, err)
	require.NoError(t, conn.Poke(at, buf))
}

func peekInt32(t *testing.T, conn *connection.MemoryConnection, at uint32) int32 {
	t.Helper()
	buf, err := conn.Peek(at, 4)
	require.NoError(t, err)
	v, err := datavalue.FromBytes(datavalue.TypeInt32, buf, conn.LittleEndian(), datavalue.ASCII)
	require.NoError(t, err)
	return int32(v.(datavalue.Int32))
}

type stubCondition struct {
	ConditionBase
	raw bool
}

func newStubCondition(mode OutputMode) *stubCondition {
	c := &stubCondition{}
	c.Init(c)
	c.SetOutputMode(mode)
	return c
}

func (*stubCondition) Kind() string { return "stub" }

func (c *stubCondition) IsConditionMet(context.Context, *ExecutionContext, *CachedConditionData) (bool, error) {
	return c.raw, nil
}

type countingProvider struct {
	inner DataValueProvider
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) DataType() datavalue.DataType { return p.inner.DataType() }

func (p *countingProvider) Provide() (datavalue.Value, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.Provide()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []SequenceEvent
}

func (r *eventRecorder) record(ev SequenceEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []SequenceEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]SequenceEventType, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

func TestConditionCacheReadsOnce(t *testing.T) {
	conn := newDevice()
	poke(t, conn, testBase+0x10, datavalue.Int32(10))
	conn.ResetStats()

	addr := address.MustParse("82000010")
	conditions := []Condition{
		NewCompareMemoryCondition(addr, datavalue.Int32(5), GreaterThan),
		NewCompareMemoryCondition(addr, datavalue.Int32(20), LessThan),
		NewCompareMemoryCondition(address.MustParse("82000000+10"), datavalue.Int32(10), Equals),
	}

	ok, err := Evaluate(context.Background(), conditions, newTestContext(conn), NewCachedConditionData())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, conn.Stats().ReadCalls)
}

func TestCompareMemoryCondition(t *testing.T) {
	conn := newDevice()
	poke(t, conn, testBase+0x10, datavalue.Int32(10))
	addr := address.MustParse("82000010")
	x := newTestContext(conn)

	tests := []struct {
		name    string
		target  datavalue.Value
		compare CompareType
		want    bool
	}{
		{"greater", datavalue.Int32(5), GreaterThan, true},
		{"not greater", datavalue.Int32(15), GreaterThan, false},
		{"equal", datavalue.Int32(10), Equals, true},
		{"not equal", datavalue.Int32(10), NotEquals, false},
		{"less or equal", datavalue.Int32(10), LessThanOrEquals, true},
		{"greater or equal", datavalue.Int32(11), GreaterThanOrEquals, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompareMemoryCondition(addr, tt.target, tt.compare)
			got, err := c.IsConditionMet(context.Background(), x, NewCachedConditionData())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareNonNumericCoercesToEquals(t *testing.T) {
	c := NewCompareMemoryCondition(address.MustParse("82000010"), datavalue.String{Text: "abc"}, GreaterThan)
	assert.Equal(t, Equals, c.CompareType())

	c.SetCompareType(NotEquals)
	assert.Equal(t, NotEquals, c.CompareType())

	n := NewCompareMemoryCondition(address.MustParse("82000010"), datavalue.Int32(1), LessThan)
	n.SetCompareTo(datavalue.NewByteArray([]byte{1, 2}))
	assert.Equal(t, Equals, n.CompareType())
}

func TestCompareStringValue(t *testing.T) {
	conn := newDevice()
	poke(t, conn, testBase+0x40, datavalue.String{Text: "hello"})

	c := NewCompareMemoryCondition(address.MustParse("82000040"), datavalue.String{Text: "hello"}, Equals)
	ok, err := c.IsConditionMet(context.Background(), newTestContext(conn), NewCachedConditionData())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompareUnresolvableAddressIsNotMet(t *testing.T) {
	conn := newDevice()
	c := NewCompareMemoryCondition(address.MustParse("82000100->4"), datavalue.Int32(0), Equals)

	ok, err := c.IsConditionMet(context.Background(), newTestContext(conn), NewCachedConditionData())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompareWithoutTargetIsMet(t *testing.T) {
	c := NewCompareMemoryCondition(address.MustParse("82000010"), nil, GreaterThan)
	ok, err := c.IsConditionMet(context.Background(), newTestContext(newDevice()), NewCachedConditionData())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOutputModes(t *testing.T) {
	tests := []struct {
		mode OutputMode
		raw  []bool
		want []bool
	}{
		{WhileMet, []bool{true, false, true}, []bool{true, false, true}},
		{WhileNotMet, []bool{true, false, true}, []bool{false, true, false}},
		{ChangeToMet, []bool{true, false, true, true, false, true}, []bool{false, false, true, false, false, true}},
		{ChangeToNotMet, []bool{false, true, false, false}, []bool{false, false, true, false}},
		{WhileMetOnce, []bool{false, true, true}, []bool{false, true, false}},
		{WhileNotMetOnce, []bool{false, false}, []bool{true, false}},
		{ChangeToMetOnce, []bool{false, true, false, true}, []bool{false, true, false, false}},
		{ChangeToNotMetOnce, []bool{true, false, true, false}, []bool{false, true, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c := newStubCondition(tt.mode)
			for i, raw := range tt.raw {
				c.raw = raw
				got, err := Evaluate(context.Background(), []Condition{c}, nil, nil)
				require.NoError(t, err)
				assert.Equal(t, tt.want[i], got, "pass %d", i)
			}
		})
	}
}

func TestParseOutputMode(t *testing.T) {
	mode, err := ParseOutputMode("ChangeToMetOnce")
	require.NoError(t, err)
	assert.Equal(t, ChangeToMetOnce, mode)

	mode, err = ParseOutputMode("while-not-met")
	require.NoError(t, err)
	assert.Equal(t, WhileNotMet, mode)

	_, err = ParseOutputMode("sometimes")
	assert.Error(t, err)
}

func TestDisabledConditionCountsAsMet(t *testing.T) {
	c := newStubCondition(WhileMet)
	c.SetEnabled(false)

	ok, err := Evaluate(context.Background(), []Condition{c}, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetMemoryIterateCountQueriesProviderPerWrite(t *testing.T) {
	m, _, conn := newTestManager(t)

	random, err := NewRandomNumberProvider(datavalue.Int32(0), datavalue.Int32(10), rand.New(rand.NewPCG(7, 9)))
	require.NoError(t, err)
	provider := &countingProvider{inner: random}

	op := NewSetMemoryOperation(address.MustParse("82000020"), provider)
	op.SetIterateCount(3)

	seq := NewTaskSequence("fill")
	require.NoError(t, seq.AddOperation(op))
	require.NoError(t, m.Add(seq))
	conn.ResetStats()

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, result.State)

	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, 3, conn.Stats().WriteCalls)
	assert.Equal(t, 3, result.Writes)
	for i := uint32(0); i < 3; i++ {
		v := peekInt32(t, conn, testBase+0x20+i*4)
		assert.GreaterOrEqual(t, v, int32(0))
		assert.LessOrEqual(t, v, int32(10))
	}
}

func TestSetMemoryUnresolvableSkipsWrite(t *testing.T) {
	conn := newDevice()
	op := NewSetMemoryOperation(address.MustParse("82000100->4"), ConstantProvider{Value: datavalue.Int32(1)})

	require.NoError(t, op.Run(context.Background(), newTestContext(conn)))
	assert.Equal(t, 0, conn.Stats().WriteCalls)
}

func TestSetMemoryWriteModes(t *testing.T) {
	conn := newDevice()
	poke(t, conn, testBase+0x30, datavalue.Int32(10))
	x := newTestContext(conn)

	op := NewSetMemoryOperation(address.MustParse("82000030"), ConstantProvider{Value: datavalue.Int32(5)})
	op.SetWriteMode(WriteAdd)
	require.NoError(t, op.Run(context.Background(), x))
	assert.Equal(t, int32(15), peekInt32(t, conn, testBase+0x30))

	op.SetWriteMode(WriteSubtract)
	require.NoError(t, op.Run(context.Background(), x))
	require.NoError(t, op.Run(context.Background(), x))
	assert.Equal(t, int32(5), peekInt32(t, conn, testBase+0x30))

	op.SetProvider(ConstantProvider{Value: datavalue.String{Text: "x"}})
	assert.Equal(t, WriteSet, op.WriteMode())
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	seq := NewTaskSequence("wait")
	require.NoError(t, seq.AddOperation(NewDelayOperation(time.Hour)))
	require.NoError(t, m.Add(seq))

	require.NoError(t, seq.Start(context.Background()))
	assert.ErrorIs(t, seq.Start(context.Background()), ErrSequenceRunning)
	assert.ErrorIs(t, seq.AddOperation(NewDelayOperation(time.Second)), ErrSequenceRunning)
	assert.ErrorIs(t, seq.SetRunCount(2), ErrSequenceRunning)

	seq.RequestCancellation()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, seq.WaitForCompletion(ctx))
	assert.Equal(t, StateCancelled, seq.LastResult().State)
}

func TestCancellationReleasesLockBeforeEvent(t *testing.T) {
	m, e, _ := newTestManager(t)
	seq := NewTaskSequence("wait")
	require.NoError(t, seq.AddOperation(NewDelayOperation(time.Hour)))
	require.NoError(t, m.Add(seq))

	busyAtCancel := make(chan bool, 1)
	seq.Subscribe(func(ev SequenceEvent) {
		if ev.Type == SequenceCancelled {
			busyAtCancel <- e.BusyLock().IsBusy()
		}
	})

	require.NoError(t, seq.Start(context.Background()))
	require.Eventually(t, e.BusyLock().IsBusy, time.Second, time.Millisecond)

	seq.RequestCancellation()
	select {
	case busy := <-busyAtCancel:
		assert.False(t, busy, "lock still held when cancellation was reported")
	case <-time.After(time.Second):
		t.Fatal("cancelled event not raised")
	}
	assert.Nil(t, seq.LastError())
}

func TestEventsFireOncePerTransition(t *testing.T) {
	m, _, _ := newTestManager(t)
	seq := NewTaskSequence("noop")
	require.NoError(t, seq.AddOperation(NewDelayOperation(0)))
	require.NoError(t, m.Add(seq))

	var rec eventRecorder
	seq.Subscribe(rec.record)

	var forwarded eventRecorder
	m.Subscribe(forwarded.record)

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, StateIdle, seq.State())

	want := []SequenceEventType{SequenceRunningChanged, SequenceStarted, SequenceRunningChanged, SequenceCompleted}
	assert.Equal(t, want, rec.types())
	assert.Equal(t, want, forwarded.types())
}

func TestFaultedRunRecordsError(t *testing.T) {
	m, e, conn := newTestManager(t)
	boom := errors.New("link lost")
	conn.FailWrites(boom)

	seq := NewTaskSequence("broken")
	require.NoError(t, seq.AddOperation(NewSetMemoryOperation(address.MustParse("82000010"), ConstantProvider{Value: datavalue.Int32(1)})))
	require.NoError(t, m.Add(seq))

	var rec eventRecorder
	seq.Subscribe(rec.record)

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFaulted, result.State)
	assert.ErrorIs(t, seq.LastError(), boom)
	assert.False(t, e.BusyLock().IsBusy())
	assert.Contains(t, rec.types(), SequenceFaulted)
}

func TestWrappedCanceledErrorFaultsLiveRun(t *testing.T) {
	m, _, _ := newTestManager(t)
	private := newDevice()
	dropped := fmt.Errorf("rpc error: %w", context.Canceled)
	private.FailWrites(dropped)

	seq := NewTaskSequence("remote-drop", WithDedicatedConnection(private))
	require.NoError(t, seq.AddOperation(NewSetMemoryOperation(address.MustParse("82000010"), ConstantProvider{Value: datavalue.Int32(1)})))
	require.NoError(t, m.Add(seq))

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFaulted, result.State)
	assert.ErrorIs(t, result.Err, dropped)
}

func TestOperationPanicFaultsRun(t *testing.T) {
	m, _, _ := newTestManager(t)
	seq := NewTaskSequence("panics")
	require.NoError(t, seq.AddOperation(NewSetMemoryOperation(address.MustParse("82000010"), panicProvider{})))
	require.NoError(t, m.Add(seq))

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFaulted, result.State)
	assert.ErrorIs(t, result.Err, ErrOperationPanic)
	assert.Equal(t, 1, result.OperationsRun)
}

type panicProvider struct{}

func (panicProvider) DataType() datavalue.DataType { return datavalue.TypeInt32 }

func (panicProvider) Provide() (datavalue.Value, error) { panic("provider exploded") }

func TestDedicatedConnectionTakesNoLock(t *testing.T) {
	m, e, _ := newTestManager(t)
	holder := e.BusyLock().TryAcquire()
	require.NotNil(t, holder)
	defer holder.Release()

	private := newDevice()
	seq := NewTaskSequence("private", WithDedicatedConnection(private))
	require.NoError(t, seq.AddOperation(NewSetMemoryOperation(address.MustParse("82000010"), ConstantProvider{Value: datavalue.Int32(99)})))
	require.NoError(t, m.Add(seq))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := seq.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, int32(99), peekInt32(t, private, testBase+0x10))
}

func TestDedicatedConnectionSingleOwner(t *testing.T) {
	m, _, _ := newTestManager(t)
	private := newDevice()

	first := NewTaskSequence("first", WithDedicatedConnection(private))
	require.NoError(t, m.Add(first))

	second := NewTaskSequence("second")
	require.NoError(t, m.Add(second))
	assert.ErrorIs(t, second.SetDedicatedConnection(private), ErrConnectionInUse)

	third := NewTaskSequence("third", WithDedicatedConnection(private))
	assert.ErrorIs(t, m.Add(third), ErrConnectionInUse)
}

func TestStopSequenceEndsRunAsCompleted(t *testing.T) {
	m, _, conn := newTestManager(t)
	seq := NewTaskSequence("stops", WithRunCount(5))
	require.NoError(t, seq.AddOperation(NewSetMemoryOperation(address.MustParse("82000010"), ConstantProvider{Value: datavalue.Int32(1)})))
	require.NoError(t, seq.AddOperation(NewStopSequenceOperation()))
	require.NoError(t, seq.AddOperation(NewSetMemoryOperation(address.MustParse("82000014"), ConstantProvider{Value: datavalue.Int32(2)})))
	require.NoError(t, m.Add(seq))

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.OperationsRun)
	assert.Equal(t, int32(1), peekInt32(t, conn, testBase+0x10))
	assert.Equal(t, int32(0), peekInt32(t, conn, testBase+0x14))
}

func TestRunCountRepeatsOperations(t *testing.T) {
	m, _, conn := newTestManager(t)
	op := NewSetMemoryOperation(address.MustParse("82000010"), ConstantProvider{Value: datavalue.Int32(1)})
	op.SetWriteMode(WriteAdd)

	seq := NewTaskSequence("count", WithRunCount(3))
	require.NoError(t, seq.AddOperation(op))
	require.NoError(t, m.Add(seq))

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, int32(3), peekInt32(t, conn, testBase+0x10))
}

func TestConditionsGateOperations(t *testing.T) {
	m, _, conn := newTestManager(t)
	poke(t, conn, testBase+0x10, datavalue.Int32(0))

	op := NewSetMemoryOperation(address.MustParse("82000020"), ConstantProvider{Value: datavalue.Int32(7)})
	require.NoError(t, op.AddCondition(NewCompareMemoryCondition(address.MustParse("82000010"), datavalue.Int32(1), Equals)))

	seq := NewTaskSequence("gated")
	require.NoError(t, seq.AddOperation(op))
	require.NoError(t, m.Add(seq))

	result, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.OperationsRun)
	assert.Equal(t, int32(0), peekInt32(t, conn, testBase+0x20))

	poke(t, conn, testBase+0x10, datavalue.Int32(1))
	result, err = seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.OperationsRun)
	assert.Equal(t, int32(7), peekInt32(t, conn, testBase+0x20))
}

func TestOperationOwnedByOneSequence(t *testing.T) {
	op := NewDelayOperation(0)
	first := NewTaskSequence("first")
	second := NewTaskSequence("second")

	require.NoError(t, first.AddOperation(op))
	assert.ErrorIs(t, second.AddOperation(op), ErrOperationOwned)

	require.NoError(t, first.RemoveOperation(op))
	require.NoError(t, second.AddOperation(op))
	assert.Same(t, second, op.Sequence())
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Add(NewTaskSequence("a")))
	assert.ErrorIs(t, m.Add(NewTaskSequence("a")), ErrDuplicateSequence)
	assert.ErrorIs(t, m.Remove("missing"), ErrSequenceNotFound)
	assert.ErrorIs(t, m.Start("missing"), ErrSequenceNotFound)
}

func TestStartWithoutEngine(t *testing.T) {
	seq := NewTaskSequence("orphan")
	assert.ErrorIs(t, seq.Start(context.Background()), ErrNoEngine)
}

func TestManagerCancelsEngineSequencesOnConnectionChange(t *testing.T) {
	m, e, _ := newTestManager(t)

	holder := e.BusyLock().TryAcquire()
	require.NotNil(t, holder)
	defer holder.Release()

	waiting := NewTaskSequence("waiting")
	require.NoError(t, waiting.AddOperation(NewDelayOperation(0)))
	require.NoError(t, m.Add(waiting))

	private := NewTaskSequence("private", WithDedicatedConnection(newDevice()))
	require.NoError(t, private.AddOperation(NewDelayOperation(time.Hour)))
	require.NoError(t, m.Add(private))

	require.NoError(t, waiting.Start(context.Background()))
	require.NoError(t, private.Start(context.Background()))
	require.Eventually(t, func() bool { return e.BusyLock().Waiters() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, e.SetConnection(context.Background(), holder, newDevice()))

	assert.False(t, waiting.IsRunning())
	assert.Equal(t, StateCancelled, waiting.LastResult().State)
	assert.True(t, private.IsRunning())

	m.CancelAll()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
	assert.Empty(t, m.Active())
}

func TestRandomTrigger(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))

	always := &RandomTrigger{Chance: 1}
	ok, err := always.Roll(context.Background(), rng)
	require.NoError(t, err)
	assert.True(t, ok)

	hits := 0
	rare := &RandomTrigger{Chance: 4}
	for i := 0; i < 400; i++ {
		ok, err := rare.Roll(context.Background(), rng)
		require.NoError(t, err)
		if ok {
			hits++
		}
	}
	assert.Greater(t, hits, 50)
	assert.Less(t, hits, 150)

	assert.Error(t, (&RandomTrigger{MinWait: time.Second, MaxWait: time.Millisecond}).Validate())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&RandomTrigger{MinWait: time.Hour, MaxWait: time.Hour}).Roll(ctx, rng)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistryBuildsBuiltins(t *testing.T) {
	op, err := DefaultRegistry.NewOperation("set_memory", Params{
		"address":       "82000010",
		"data_type":     "int16",
		"value":         "FF",
		"display":       "hex",
		"iterate_count": "2",
		"mode":          "add",
	})
	require.NoError(t, err)
	set := op.(*SetMemoryOperation)
	assert.Equal(t, 2, set.IterateCount())
	assert.Equal(t, WriteAdd, set.WriteMode())
	v, err := set.Provider().Provide()
	require.NoError(t, err)
	assert.True(t, v.Equal(datavalue.Int16(0xFF)))

	op, err = DefaultRegistry.NewOperation("set_memory", Params{"address": "82000010", "data_type": "byte", "min": "1", "max": "3"})
	require.NoError(t, err)
	_, isRandom := op.(*SetMemoryOperation).Provider().(*RandomNumberProvider)
	assert.True(t, isRandom)

	op, err = DefaultRegistry.NewOperation("delay", Params{"duration": "250"})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, op.(*DelayOperation).Duration())

	c, err := DefaultRegistry.NewCondition("compare_memory", Params{"address": "82000010", "value": "5", "compare": "gt"})
	require.NoError(t, err)
	assert.Equal(t, GreaterThan, c.(*CompareMemoryCondition).CompareType())

	_, err = DefaultRegistry.NewOperation("teleport", nil)
	assert.Error(t, err)
	_, err = DefaultRegistry.NewOperation("set_memory", Params{"data_type": "int32", "value": "1"})
	assert.Error(t, err)

	assert.Equal(t, []string{"delay", "set_memory", "stop_sequence"}, DefaultRegistry.OperationKinds())
}
