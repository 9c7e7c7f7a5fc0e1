package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/memengine/internal/logging"
	"github.com/opencode-ai/memengine/internal/sequencing"
)

// RecorderConfig contains recorder configuration.
type RecorderConfig struct {
	// Buffer is the queue length between sequences and the writer.
	// Default: 256.
	Buffer int

	// WriteTimeout bounds a single persistence call.
	// Default: 5 seconds.
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns sensible default configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Buffer:       256,
		WriteTimeout: 5 * time.Second,
	}
}

// RecorderStats counts recorder activity.
type RecorderStats struct {
	Recorded int64
	Dropped  int64
	Failed   int64
}

// Recorder persists sequence events and run history off the sequence
// goroutines. Events are queued without blocking; a full queue drops them.
type Recorder struct {
	config RecorderConfig
	events Repository
	runs   RunRepository
	logger zerolog.Logger

	queue  chan sequencing.SequenceEvent
	unsub  func()
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	statsMu sync.Mutex
	stats   RecorderStats
}

// NewRecorder creates a recorder. Either repository may be nil.
func NewRecorder(config RecorderConfig, events Repository, runs RunRepository) *Recorder {
	if config.Buffer <= 0 {
		config.Buffer = DefaultRecorderConfig().Buffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultRecorderConfig().WriteTimeout
	}
	return &Recorder{
		config: config,
		events: events,
		runs:   runs,
		logger: logging.Component("events"),
		queue:  make(chan sequencing.SequenceEvent, config.Buffer),
	}
}

// Attach subscribes to every sequence of m and starts the writer.
func (r *Recorder) Attach(m *sequencing.Manager) {
	r.unsub = m.Subscribe(r.Enqueue)
	r.wg.Add(1)
	go r.loop()
}

// Enqueue queues ev for persistence without blocking.
func (r *Recorder) Enqueue(ev sequencing.SequenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- ev:
	default:
		r.statsMu.Lock()
		r.stats.Dropped++
		r.statsMu.Unlock()
		r.logger.Warn().Str("sequence", ev.Sequence.Name()).Str("event", string(ev.Type)).Msg("event queue full, dropping")
	}
}

// Close unsubscribes, drains the queue and stops the writer.
func (r *Recorder) Close() {
	if r.unsub != nil {
		r.unsub()
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() RecorderStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for ev := range r.queue {
		r.record(ev)
	}
}

func (r *Recorder) record(ev sequencing.SequenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	var err error
	if r.runs != nil {
		switch ev.Type {
		case sequencing.SequenceStarted:
			err = r.runs.Create(ctx, RunRecord(ev))
		case sequencing.SequenceCompleted, sequencing.SequenceCancelled, sequencing.SequenceFaulted:
			err = r.runs.Finish(ctx, RunRecord(ev))
		}
	}
	if err == nil && r.events != nil {
		err = LogSequenceEvent(ctx, r.events, ev)
	}

	r.statsMu.Lock()
	if err != nil {
		r.stats.Failed++
	} else {
		r.stats.Recorded++
	}
	r.statsMu.Unlock()

	if err != nil {
		r.logger.Warn().Err(err).Str("sequence", ev.Sequence.Name()).Str("event", string(ev.Type)).Msg("failed to record event")
	}
}
