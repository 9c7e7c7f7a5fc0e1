package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/logging"
)

// Refresher errors.
var (
	ErrRefresherAlreadyRunning = errors.New("refresher already running")
	ErrRefresherNotRunning     = errors.New("refresher not running")
	ErrEntryNotFound           = errors.New("watch entry not found")
)

// RefresherConfig contains refresher configuration.
type RefresherConfig struct {
	// Interval is how often watched values are re-read.
	// Default: 250 milliseconds.
	Interval time.Duration

	// EventBuffer is the capacity of the refresh event channel.
	// Default: 100.
	EventBuffer int
}

// DefaultRefresherConfig returns sensible default configuration.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:    250 * time.Millisecond,
		EventBuffer: 100,
	}
}

// WatchEntry is one row of the watch table.
type WatchEntry struct {
	ID      string
	Label   string
	Address address.Address
	// Like shapes reads: its type, and for strings and byte arrays its length
	// and encoding.
	Like    datavalue.Value
	Display datavalue.NumericDisplayType

	Value       datavalue.Value
	Resolved    uint32
	Unresolved  bool
	Err         string
	RefreshedAt time.Time
}

// FormattedValue renders the last value in the entry's display mode.
func (w WatchEntry) FormattedValue() string {
	if w.Value == nil {
		return ""
	}
	return datavalue.Format(w.Value, w.Display)
}

// RefreshEvent reports the outcome of one refresh pass.
type RefreshEvent struct {
	Entries   int
	Failed    int
	Skipped   bool
	Timestamp time.Time
	Duration  time.Duration
}

// RefresherStats contains refresher statistics.
type RefresherStats struct {
	Running       bool
	Paused        bool
	StartedAt     *time.Time
	Passes        int64
	SkippedBusy   int64
	Failures      int64
	LastRefreshAt *time.Time
}

// Refresher periodically re-reads watched addresses. It only uses the busy
// lock opportunistically: a tick that finds the lock held is skipped, so
// running sequences are never delayed by display refreshes.
type Refresher struct {
	config RefresherConfig
	engine *MemoryEngine
	logger zerolog.Logger

	mu      sync.RWMutex
	running bool
	paused  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	entries map[string]*WatchEntry
	order   []string
	refresh chan struct{}

	stats   RefresherStats
	statsMu sync.RWMutex
	eventCh chan RefreshEvent
}

// NewRefresher creates a refresher over engine.
func NewRefresher(config RefresherConfig, engine *MemoryEngine) *Refresher {
	if config.Interval <= 0 {
		config.Interval = DefaultRefresherConfig().Interval
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultRefresherConfig().EventBuffer
	}

	return &Refresher{
		config:  config,
		engine:  engine,
		logger:  logging.Component("refresher"),
		entries: make(map[string]*WatchEntry),
		refresh: make(chan struct{}, 1),
		eventCh: make(chan RefreshEvent, config.EventBuffer),
	}
}

// Watch adds an entry and returns its ID.
func (r *Refresher) Watch(label string, addr address.Address, like datavalue.Value, display datavalue.NumericDisplayType) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.entries[id] = &WatchEntry{
		ID:      id,
		Label:   label,
		Address: addr,
		Like:    like,
		Display: display,
	}
	r.order = append(r.order, id)
	return id
}

// Unwatch removes an entry.
func (r *Refresher) Unwatch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return ErrEntryNotFound
	}
	delete(r.entries, id)
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Entries returns a snapshot of the watch table in insertion order.
func (r *Refresher) Entries() []WatchEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WatchEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRefresherAlreadyRunning
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.paused = false

	now := time.Now().UTC()
	r.statsMu.Lock()
	r.stats.Running = true
	r.stats.Paused = false
	r.stats.StartedAt = &now
	r.statsMu.Unlock()

	r.logger.Info().
		Dur("interval", r.config.Interval).
		Msg("refresher starting")

	r.wg.Add(1)
	go r.runLoop()
	return nil
}

// Stop halts the loop and waits for an in-flight pass.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRefresherNotRunning
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()

	r.statsMu.Lock()
	r.stats.Running = false
	r.statsMu.Unlock()

	r.logger.Info().Msg("refresher stopped")
	return nil
}

// Pause suspends refreshing without stopping the loop.
func (r *Refresher) Pause() error {
	return r.setPaused(true)
}

// Resume resumes a paused refresher.
func (r *Refresher) Resume() error {
	return r.setPaused(false)
}

func (r *Refresher) setPaused(paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrRefresherNotRunning
	}
	r.paused = paused

	r.statsMu.Lock()
	r.stats.Paused = paused
	r.statsMu.Unlock()
	return nil
}

// RefreshNow requests a pass ahead of the next tick.
func (r *Refresher) RefreshNow() error {
	r.mu.RLock()
	running := r.running
	r.mu.RUnlock()
	if !running {
		return ErrRefresherNotRunning
	}

	select {
	case r.refresh <- struct{}{}:
	default:
		// a pass is already pending
	}
	return nil
}

// Stats returns current refresher statistics.
func (r *Refresher) Stats() RefresherStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

// Events returns the channel of refresh events.
func (r *Refresher) Events() <-chan RefreshEvent {
	return r.eventCh
}

func (r *Refresher) runLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.refresh:
		case <-ticker.C:
		}

		r.mu.RLock()
		paused := r.paused
		r.mu.RUnlock()
		if !paused {
			r.Tick(r.ctx)
		}
	}
}

// Tick performs one refresh pass if the busy lock is free.
func (r *Refresher) Tick(ctx context.Context) RefreshEvent {
	started := time.Now()
	event := RefreshEvent{Timestamp: started.UTC()}

	token := r.engine.BusyLock().TryAcquire()
	if token == nil {
		event.Skipped = true
		r.statsMu.Lock()
		r.stats.SkippedBusy++
		r.statsMu.Unlock()
		r.publish(event)
		return event
	}
	defer token.Release()

	r.mu.RLock()
	targets := make([]*WatchEntry, 0, len(r.order))
	for _, id := range r.order {
		e := *r.entries[id]
		targets = append(targets, &e)
	}
	r.mu.RUnlock()

	for _, entry := range targets {
		if ctx.Err() != nil {
			break
		}
		r.refreshEntry(ctx, entry)
		if entry.Err != "" {
			event.Failed++
		}
		event.Entries++
	}

	r.mu.Lock()
	for _, entry := range targets {
		if current, ok := r.entries[entry.ID]; ok {
			*current = *entry
		}
	}
	r.mu.Unlock()

	event.Duration = time.Since(started)
	now := time.Now().UTC()
	r.statsMu.Lock()
	r.stats.Passes++
	r.stats.Failures += int64(event.Failed)
	r.stats.LastRefreshAt = &now
	r.statsMu.Unlock()

	r.publish(event)
	return event
}

func (r *Refresher) refreshEntry(ctx context.Context, entry *WatchEntry) {
	entry.RefreshedAt = time.Now().UTC()
	entry.Err = ""
	entry.Unresolved = false

	conn := r.engine.Connection()
	if conn == nil {
		entry.Err = ErrNoConnection.Error()
		return
	}

	resolved, ok, err := entry.Address.TryResolve(ctx, conn)
	if err != nil {
		entry.Err = err.Error()
		return
	}
	if !ok {
		entry.Unresolved = true
		entry.Value = nil
		return
	}
	entry.Resolved = resolved

	value, err := ReadDataValue(ctx, conn, resolved, entry.Like, r.engine.ChunkSize())
	if err != nil {
		entry.Err = err.Error()
		r.logger.Debug().Err(err).Str("address", entry.Address.String()).Msg("refresh read failed")
		return
	}
	entry.Value = value
}

func (r *Refresher) publish(event RefreshEvent) {
	select {
	case r.eventCh <- event:
	default:
		// Channel full, drop event
	}
}

