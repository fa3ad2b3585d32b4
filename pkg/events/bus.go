package events

import (
	"sync"

	"github.com/genforge-dev/genforge/internal/logger"
)

// bufferSize is the recommended bounded per-stream buffer (§4.5).
const bufferSize = 64

// stream is one generation's channel plus the bookkeeping the bus needs to
// enforce the single-subscriber and drop-oldest-non-terminal rules.
type stream struct {
	mu          sync.Mutex
	buf         []Event
	ch          chan Event
	subscribed  bool
	closed      bool
	dropCount   int
	lastProgress float64
}

// Bus is the in-process EventBus (C5): one channel per generation id,
// bounded buffer, single active subscriber, drop-oldest-non-terminal
// backpressure, terminal-closes-channel semantics — generalized from the
// teacher's monitor.HTTPMonitor (which fanned one history+subscriber set to
// every listener) to a per-generation-keyed, single-subscriber model.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{streams: make(map[string]*stream)}
}

func (b *Bus) streamFor(generationID string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[generationID]
	if !ok {
		s = &stream{ch: make(chan Event, bufferSize)}
		b.streams[generationID] = s
	}
	return s
}

// Publish sends event on its generation's channel. Non-blocking: if the
// buffer is full, the oldest non-terminal buffered event is dropped to make
// room; terminal events are never dropped. Publishes after a terminal event
// has been sent are ignored. Progress is clamped to [0,1] and forced
// monotonically non-decreasing within the stream (Open Question #4 / §8
// invariant 6); violations are logged, not rejected.
func (b *Bus) Publish(event Event) {
	s := b.streamFor(event.GenerationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	event = clampProgress(s, event)

	if event.Status.IsTerminal() {
		// Terminal events must never be dropped (§4.5); make room by
		// discarding buffered non-terminal events if the channel is full
		// rather than blocking with the stream lock held.
		for {
			select {
			case s.ch <- event:
				close(s.ch)
				s.closed = true
				return
			default:
			}
			select {
			case <-s.ch:
				s.dropCount++
			default:
				// Channel has room now (a concurrent drain happened); loop
				// will take the send branch above.
			}
		}
	}

	select {
	case s.ch <- event:
		return
	default:
	}

	// Buffer full: drop the oldest buffered non-terminal event and retry.
	select {
	case dropped := <-s.ch:
		if dropped.Status.IsTerminal() {
			// Should not happen (terminal events close the channel), but
			// never lose a terminal event if it does.
			s.ch <- dropped
			return
		}
		s.dropCount++
		logger.GetLogger().Warn().
			Str("generation_id", event.GenerationID).
			Int("drop_count", s.dropCount).
			Msg("event bus buffer full, dropped oldest non-terminal event")
	default:
	}

	select {
	case s.ch <- event:
	default:
		// Extremely unlikely race with another publisher; drop this event
		// rather than block, preserving the non-blocking publish contract.
		s.dropCount++
	}
}

func clampProgress(s *stream, event Event) Event {
	if event.Progress < 0 {
		logger.GetLogger().Warn().Float64("progress", event.Progress).Msg("event progress below 0, clamping")
		event.Progress = 0
	}
	if event.Progress > 1 {
		logger.GetLogger().Warn().Float64("progress", event.Progress).Msg("event progress above 1, clamping")
		event.Progress = 1
	}
	if event.Progress < s.lastProgress && !event.Status.IsTerminal() {
		logger.GetLogger().Warn().
			Float64("progress", event.Progress).
			Float64("last_progress", s.lastProgress).
			Msg("non-monotonic event progress, clamping to last value")
		event.Progress = s.lastProgress
	}
	s.lastProgress = event.Progress
	return event
}

// Subscribe attaches the single active subscriber to a generation's
// channel. A second concurrent Subscribe call for the same generation is
// rejected (ok=false) per §4.5's "single active subscriber" rule.
func (b *Bus) Subscribe(generationID string) (ch <-chan Event, ok bool) {
	s := b.streamFor(generationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed {
		return nil, false
	}
	s.subscribed = true
	return s.ch, true
}

// Unsubscribe releases the single-subscriber slot, permitting a later
// reconnection to the same generation's channel (§4.5 reconnection).
func (b *Bus) Unsubscribe(generationID string) {
	s := b.streamFor(generationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = false
}

// DropCount returns how many non-terminal events have been dropped for a
// generation, for diagnostics/tests.
func (b *Bus) DropCount(generationID string) int {
	s := b.streamFor(generationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropCount
}

// Closed reports whether a generation's stream has received its terminal
// event.
func (b *Bus) Closed(generationID string) bool {
	s := b.streamFor(generationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Remove drops all bookkeeping for a generation (e.g. after the stream
// gateway has fully drained it). Safe to call even if the stream is still
// open; it simply forgets the entry, freeing the channel for GC once all
// references are released.
func (b *Bus) Remove(generationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, generationID)
}
