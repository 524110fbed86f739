// Package events is the planner runtime's event bus: non-blocking,
// best-effort emission of models.RunEvent with monotonic per-run sequencing
// and two-lane backpressure, so a slow or absent consumer never stalls the
// control loop.
package events

import (
	"context"
	"sync/atomic"

	"github.com/taskrun/plannerd/pkg/models"
)

// Sink receives RunEvents during a run. Implementations must be safe to call
// from multiple goroutines and must not block the caller indefinitely.
type Sink interface {
	Emit(ctx context.Context, e models.RunEvent)
}

// ChanSink sends events to a channel, dropping an event rather than blocking
// when the channel is full or ctx is done.
type ChanSink struct {
	ch chan<- models.RunEvent
}

// NewChanSink wraps a (buffered) channel as a Sink.
func NewChanSink(ch chan<- models.RunEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit implements Sink.
func (s *ChanSink) Emit(ctx context.Context, e models.RunEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans an event out to every wrapped sink. Nil sinks are dropped
// at construction so Emit never needs a nil check.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink from the given sinks, filtering out nils.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit implements Sink.
func (s *MultiSink) Emit(ctx context.Context, e models.RunEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// NopSink discards every event. Used when a caller supplies no sink.
type NopSink struct{}

// Emit implements Sink by doing nothing.
func (NopSink) Emit(context.Context, models.RunEvent) {}

// CallbackSink adapts a plain function to Sink, for tests and simple hosts
// that don't need a channel.
type CallbackSink struct {
	fn func(ctx context.Context, e models.RunEvent)
}

// NewCallbackSink wraps fn as a Sink.
func NewCallbackSink(fn func(ctx context.Context, e models.RunEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit implements Sink.
func (s *CallbackSink) Emit(ctx context.Context, e models.RunEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// BackpressureConfig sizes the two lanes of a BackpressureSink.
type BackpressureConfig struct {
	// HighPriBuffer bounds the non-droppable lane (lifecycle events). Default 32.
	HighPriBuffer int
	// LowPriBuffer bounds the droppable lane (observation.compressed events). Default 256.
	LowPriBuffer int
}

// DefaultBackpressureConfig returns the reference lane sizes.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{HighPriBuffer: 32, LowPriBuffer: 256}
}

// droppable reports whether a RunEventType may be dropped under backpressure.
// Per §5, event emission is best-effort overall, but lifecycle events
// (task/step/search/tool/sandbox/budget/task-completed) carry enough signal
// that this runtime treats them as the non-droppable lane; only the
// high-volume observation-folding event is droppable, since a consumer that
// misses one still sees the eventual step.completed.
func droppable(t models.RunEventType) bool {
	return t == models.RunEventObservationFolded
}

// BackpressureSink implements the two-lane backpressure model from §5:
// high-priority events block (briefly, bounded by ctx) rather than drop,
// low-priority events are dropped once their lane is full.
type BackpressureSink struct {
	highPri chan models.RunEvent
	lowPri  chan models.RunEvent
	merged  chan models.RunEvent
	dropped uint64
	closed  uint32
}

// NewBackpressureSink starts the sink's merge goroutine and returns the sink
// plus the channel callers should drain.
func NewBackpressureSink(cfg BackpressureConfig) (*BackpressureSink, <-chan models.RunEvent) {
	if cfg.HighPriBuffer <= 0 {
		cfg.HighPriBuffer = 32
	}
	if cfg.LowPriBuffer <= 0 {
		cfg.LowPriBuffer = 256
	}
	s := &BackpressureSink{
		highPri: make(chan models.RunEvent, cfg.HighPriBuffer),
		lowPri:  make(chan models.RunEvent, cfg.LowPriBuffer),
		merged:  make(chan models.RunEvent, cfg.HighPriBuffer),
	}
	go s.mergeLoop()
	return s, s.merged
}

func (s *BackpressureSink) mergeLoop() {
	defer close(s.merged)
	for {
		select {
		case e, ok := <-s.highPri:
			if ok {
				s.merged <- e
				continue
			}
			for e := range s.lowPri {
				s.merged <- e
			}
			return
		default:
		}

		select {
		case e, ok := <-s.highPri:
			if ok {
				s.merged <- e
			} else {
				for e := range s.lowPri {
					s.merged <- e
				}
				return
			}
		case e, ok := <-s.lowPri:
			if ok {
				s.merged <- e
			}
		}
	}
}

// Emit routes e to its lane. Emit is a no-op once Close has been called.
func (s *BackpressureSink) Emit(ctx context.Context, e models.RunEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if droppable(e.Type) {
		select {
		case s.lowPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return
	}
	select {
	case s.highPri <- e:
	case <-ctx.Done():
		select {
		case s.highPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// DroppedCount returns the number of events dropped so far: low-priority
// events that found their lane full, plus high-priority events that could
// not be queued once ctx was done.
func (s *BackpressureSink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops the sink and closes the merged output channel. Safe to call
// more than once.
func (s *BackpressureSink) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	close(s.highPri)
	close(s.lowPri)
}
