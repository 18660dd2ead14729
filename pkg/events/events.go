package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventInstallStarted   EventType = "workload.install.started"
	EventImagePulled      EventType = "workload.install.image_pulled"
	EventScriptFetched    EventType = "workload.install.script_fetched"
	EventScriptFailed     EventType = "workload.install.script_failed"
	EventInstallCompleted EventType = "workload.install.completed"
	EventInstallFailed    EventType = "workload.install.failed"
	EventStateChanged     EventType = "workload.state.changed"
	EventPowerAction      EventType = "workload.power"
	EventDeleted          EventType = "workload.deleted"
)

// Event represents one workload lifecycle event
type Event struct {
	ID         string
	Type       EventType
	WorkloadID string
	Timestamp  time.Time
	Message    string
	Metadata   map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker distributes workload events to subscribers. Slow subscribers drop
// events rather than blocking publishers.
type Broker struct {
	subscribers map[Subscriber]string // value is the workload id filter, "" = all
	mu          sync.RWMutex
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
	}
}

// Subscribe creates a subscription filtered to one workload id. An empty
// id subscribes to every workload.
func (b *Broker) Subscribe(workloadID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = workloadID
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish delivers an event to every matching subscriber without blocking
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if filter != "" && filter != event.WorkloadID {
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, drop the event for that subscriber.
		}
	}
}

// Close removes every subscription and closes its channel
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[Subscriber]string)
}
