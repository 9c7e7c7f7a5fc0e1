// Package busylock provides the exclusive-access gate placed in front of a
// device connection. Waiters are served in FIFO order, with an optional
// priority lane that queues ahead of ordinary waiters.
package busylock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token is exclusive ownership of a Lock. Release it exactly once on every
// exit path; extra Release calls are ignored.
type Token struct {
	lock       *Lock
	id         uint64
	acquiredAt time.Time
	released   atomic.Bool
}

// ID is a per-lock sequence number, useful in logs.
func (t *Token) ID() uint64 { return t.id }

// AcquiredAt is when ownership was granted.
func (t *Token) AcquiredAt() time.Time { return t.acquiredAt }

// Valid reports whether t is the lock's current owner.
func (t *Token) Valid() bool {
	return t != nil && !t.released.Load() && t.lock.isOwner(t)
}

// Lock reports the lock this token belongs to.
func (t *Token) Lock() *Lock { return t.lock }

// Release gives up ownership and hands the lock to the next waiter.
func (t *Token) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.lock.release(t)
}

type waiter struct {
	ch       chan *Token
	priority bool
}

// Lock is a non-reentrant asynchronous mutex. The zero value is ready to use.
type Lock struct {
	mu      sync.Mutex
	owner   *Token
	nextID  uint64
	waiters []*waiter

	notifyMu    sync.Mutex
	subscribers map[uint64]func(busy bool)
	nextSub     uint64
}

// New creates a Lock.
func New() *Lock {
	return &Lock{}
}

// TryAcquire returns a token if the lock is free and nobody is queued, or nil.
func (l *Lock) TryAcquire() *Token {
	l.mu.Lock()
	if l.owner != nil || len(l.waiters) > 0 {
		l.mu.Unlock()
		return nil
	}
	token := l.grantLocked()
	l.notifyLocked(true)
	return token
}

// Acquire waits for ownership in FIFO order. It returns ctx.Err() and a nil
// token if ctx is done first.
func (l *Lock) Acquire(ctx context.Context) (*Token, error) {
	return l.acquire(ctx, false)
}

// AcquirePriority is Acquire, but queues ahead of all non-priority waiters.
// Priority waiters are FIFO among themselves.
func (l *Lock) AcquirePriority(ctx context.Context) (*Token, error) {
	return l.acquire(ctx, true)
}

// AcquireTimeout is Acquire bounded by timeout.
func (l *Lock) AcquireTimeout(ctx context.Context, timeout time.Duration) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Acquire(ctx)
}

func (l *Lock) acquire(ctx context.Context, priority bool) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.owner == nil && len(l.waiters) == 0 {
		token := l.grantLocked()
		l.notifyLocked(true)
		return token, nil
	}

	w := &waiter{ch: make(chan *Token, 1), priority: priority}
	l.enqueueLocked(w)
	l.mu.Unlock()

	select {
	case token := <-w.ch:
		return token, nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if l.removeLocked(w) {
		l.mu.Unlock()
		return nil, ctx.Err()
	}
	l.mu.Unlock()

	// Ownership was handed over while we were giving up; pass it on.
	token := <-w.ch
	token.Release()
	return nil, ctx.Err()
}

func (l *Lock) enqueueLocked(w *waiter) {
	if !w.priority {
		l.waiters = append(l.waiters, w)
		return
	}
	i := 0
	for i < len(l.waiters) && l.waiters[i].priority {
		i++
	}
	l.waiters = append(l.waiters, nil)
	copy(l.waiters[i+1:], l.waiters[i:])
	l.waiters[i] = w
}

func (l *Lock) removeLocked(w *waiter) bool {
	for i, candidate := range l.waiters {
		if candidate == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Lock) grantLocked() *Token {
	l.nextID++
	token := &Token{lock: l, id: l.nextID, acquiredAt: time.Now()}
	l.owner = token
	return token
}

func (l *Lock) release(t *Token) {
	l.mu.Lock()
	if l.owner != t {
		l.mu.Unlock()
		return
	}
	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		next.ch <- l.grantLocked()
		l.mu.Unlock()
		return
	}
	l.owner = nil
	l.notifyLocked(false)
}

func (l *Lock) isOwner(t *Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == t
}

// IsBusy reports whether a token is currently live.
func (l *Lock) IsBusy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != nil
}

// Waiters returns the number of queued acquirers.
func (l *Lock) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Subscribe registers fn to be called when the lock flips between free and
// busy. Hand-offs between waiters do not fire. fn runs synchronously and must
// not call back into the lock. The returned func unsubscribes.
func (l *Lock) Subscribe(fn func(busy bool)) func() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	if l.subscribers == nil {
		l.subscribers = make(map[uint64]func(bool))
	}
	l.nextSub++
	id := l.nextSub
	l.subscribers[id] = fn
	return func() {
		l.notifyMu.Lock()
		delete(l.subscribers, id)
		l.notifyMu.Unlock()
	}
}

// notifyLocked unlocks l.mu and publishes the new state in transition order.
func (l *Lock) notifyLocked(busy bool) {
	l.notifyMu.Lock()
	l.mu.Unlock()
	defer l.notifyMu.Unlock()

	for _, fn := range l.subscribers {
		fn(busy)
	}
}
