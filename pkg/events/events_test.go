package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPublishFiltersByWorkload tests per-workload subscriptions
func TestPublishFiltersByWorkload(t *testing.T) {
	b := NewBroker()

	w1 := b.Subscribe("w1")
	all := b.Subscribe("")
	defer b.Unsubscribe(w1)
	defer b.Unsubscribe(all)

	b.Publish(&Event{Type: EventInstallStarted, WorkloadID: "w1"})
	b.Publish(&Event{Type: EventInstallStarted, WorkloadID: "w2"})

	select {
	case ev := <-w1:
		assert.Equal(t, "w1", ev.WorkloadID)
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber got nothing")
	}
	select {
	case ev := <-w1:
		t.Fatalf("filtered subscriber leaked event for %s", ev.WorkloadID)
	default:
	}

	assert.Len(t, drain(all), 2)
}

// TestPublishFillsDefaults tests id and timestamp stamping
func TestPublishFillsDefaults(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventStateChanged, WorkloadID: "w1"})

	ev := <-sub
	require.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

// TestPublishNeverBlocks tests that a full subscriber drops instead of
// stalling the publisher
func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("w1")
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventPowerAction, WorkloadID: "w1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, 50, len(drain(sub)), "buffer size bounds delivery")
}

// TestUnsubscribeClosesChannel tests subscription teardown
func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("w1")

	b.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)

	// Unsubscribing twice is a no-op, not a double close.
	b.Unsubscribe(sub)
}

func drain(sub Subscriber) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-sub:
			out = append(out, ev)
		default:
			return out
		}
	}
}
