package busylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForWaiters(t *testing.T, l *Lock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.Waiters() == n }, time.Second, time.Millisecond)
}

func TestTryAcquire(t *testing.T) {
	l := New()

	token := l.TryAcquire()
	require.NotNil(t, token)
	assert.True(t, l.IsBusy())
	assert.Nil(t, l.TryAcquire(), "second TryAcquire must fail while held")

	token.Release()
	assert.False(t, l.IsBusy())

	again := l.TryAcquire()
	require.NotNil(t, again)
	again.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New()
	first := l.TryAcquire()
	first.Release()

	second := l.TryAcquire()
	require.NotNil(t, second)

	first.Release()
	assert.True(t, second.Valid(), "stale release must not free the lock")
	assert.False(t, first.Valid())
	second.Release()
}

func TestConcurrentAcquireIsFIFO(t *testing.T) {
	const n = 8
	l := New()
	ctx := context.Background()

	holder, err := l.Acquire(ctx)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			token, err := l.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			token.Release()
		}(i)
		waitForWaiters(t, l, i+1)
	}

	mu.Lock()
	assert.Empty(t, order, "no waiter may run before the holder releases")
	mu.Unlock()

	holder.Release()
	wg.Wait()

	expected := make([]int, n)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
	assert.False(t, l.IsBusy())
}

func TestOnlyOneImmediateWinner(t *testing.T) {
	const n = 16
	l := New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*Token
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if token := l.TryAcquire(); token != nil {
				mu.Lock()
				winners = append(winners, token)
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	winners[0].Release()
}

func TestPriorityWaitersGoFirst(t *testing.T) {
	l := New()
	ctx := context.Background()
	holder := l.TryAcquire()
	require.NotNil(t, holder)

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	run := func(name string, priority bool, expectWaiters int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var (
				token *Token
				err   error
			)
			if priority {
				token, err = l.AcquirePriority(ctx)
			} else {
				token, err = l.Acquire(ctx)
			}
			if err != nil {
				t.Errorf("%s: %v", name, err)
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			token.Release()
		}()
		waitForWaiters(t, l, expectWaiters)
	}

	run("normal-1", false, 1)
	run("normal-2", false, 2)
	run("priority-1", true, 3)
	run("priority-2", true, 4)

	holder.Release()
	wg.Wait()

	assert.Equal(t, []string{"priority-1", "priority-2", "normal-1", "normal-2"}, order)
}

func TestAcquireCancelled(t *testing.T) {
	l := New()
	holder := l.TryAcquire()
	require.NotNil(t, holder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		token, err := l.Acquire(ctx)
		if token != nil {
			token.Release()
		}
		done <- err
	}()
	waitForWaiters(t, l, 1)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
	assert.Equal(t, 0, l.Waiters())

	holder.Release()
	assert.False(t, l.IsBusy(), "cancelled waiter must not inherit the lock")
}

func TestAcquireTimeout(t *testing.T) {
	l := New()
	holder := l.TryAcquire()
	defer holder.Release()

	token, err := l.AcquireTimeout(context.Background(), 20*time.Millisecond)
	assert.Nil(t, token)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribeReportsTransitions(t *testing.T) {
	l := New()
	var (
		mu     sync.Mutex
		events []bool
	)
	unsubscribe := l.Subscribe(func(busy bool) {
		mu.Lock()
		events = append(events, busy)
		mu.Unlock()
	})

	ctx := context.Background()
	first := l.TryAcquire()
	done := make(chan struct{})
	go func() {
		token, _ := l.Acquire(ctx)
		token.Release()
		close(done)
	}()
	waitForWaiters(t, l, 1)
	first.Release()
	<-done

	unsubscribe()
	l.TryAcquire().Release()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, events, "hand-off must not report a free lock")
}
