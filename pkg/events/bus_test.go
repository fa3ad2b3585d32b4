package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := NewBus()
	ch, ok := b.Subscribe("gen-1")
	require.True(t, ok)

	b.Publish(New("gen-1", "initialization", 0.02, "starting"))
	b.Publish(Completed("gen-1", "done"))

	first := <-ch
	assert.Equal(t, "initialization", first.Stage)

	second := <-ch
	assert.Equal(t, StatusCompleted, second.Status)

	_, stillOpen := <-ch
	assert.False(t, stillOpen, "channel should close after terminal event")
}

func TestBus_SecondSubscribeRejected(t *testing.T) {
	b := NewBus()
	_, ok := b.Subscribe("gen-1")
	require.True(t, ok)

	_, ok2 := b.Subscribe("gen-1")
	assert.False(t, ok2, "a second concurrent subscriber must be rejected")
}

func TestBus_UnsubscribeAllowsReconnect(t *testing.T) {
	b := NewBus()
	_, ok := b.Subscribe("gen-1")
	require.True(t, ok)
	b.Unsubscribe("gen-1")

	_, ok2 := b.Subscribe("gen-1")
	assert.True(t, ok2)
}

func TestBus_PublishAfterTerminalIgnored(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe("gen-1")

	b.Publish(Completed("gen-1", "done"))
	b.Publish(New("gen-1", "late", 0.5, "should be dropped"))

	ev := <-ch
	assert.Equal(t, StatusCompleted, ev.Status)
	_, open := <-ch
	assert.False(t, open)
}

func TestBus_DropsOldestNonTerminalWhenFull(t *testing.T) {
	b := NewBus()
	// No subscriber attached: events accumulate in the buffered channel
	// until it is full, then the oldest non-terminal is dropped.
	for i := 0; i < bufferSize+5; i++ {
		b.Publish(New("gen-1", "phase", float64(i)/float64(bufferSize+5), "tick"))
	}

	assert.True(t, b.DropCount("gen-1") > 0)

	b.Publish(Completed("gen-1", "done"))
	ch, ok := b.Subscribe("gen-1")
	require.True(t, ok)

	var last Event
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, StatusCompleted, last.Status, "terminal event must survive backpressure")
}

func TestBus_ProgressClampedToUnitRangeAndMonotonic(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe("gen-1")

	b.Publish(New("gen-1", "a", 1.5, "over"))
	b.Publish(New("gen-1", "b", 0.2, "regressed"))
	b.Publish(Completed("gen-1", "done"))

	ev1 := <-ch
	assert.Equal(t, 1.0, ev1.Progress)

	ev2 := <-ch
	assert.Equal(t, 1.0, ev2.Progress, "progress must not regress below last value")
}

func TestBus_ClosedReflectsTerminalEvent(t *testing.T) {
	b := NewBus()
	assert.False(t, b.Closed("gen-1"))
	b.Publish(Completed("gen-1", "done"))
	assert.True(t, b.Closed("gen-1"))
}
