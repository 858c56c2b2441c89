package event

import (
	"sync"
	"time"
)

// Type identifies what happened.
type Type string

const (
	TypeStatusChanged   Type = "status_changed"
	TypeAlertOpened     Type = "alert_opened"
	TypeAlertUpdated    Type = "alert_updated"
	TypeAlertClosed     Type = "alert_closed"
	TypePredictionReady Type = "prediction_ready"
)

// Event is one state change, fanned out to stream subscribers. Payload is
// whatever record the producer had in hand (a transition, an alert record, a
// prediction); subscribers serialize it as-is.
type Event struct {
	Type      Type      `json:"type"`
	MonitorID string    `json:"monitor_id"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

// subscriber buffers per consumer so one slow reader cannot stall producers.
const subscriberBuffer = 64

type subscriber struct {
	ch        chan Event
	monitorID string // "" subscribes to everything
}

// Bus is an in-process publish/subscribe fan-out. Publish never blocks: a
// subscriber whose buffer is full loses the event, same policy as the
// websocket hub's send-or-drop.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a consumer. monitorID filters events to one monitor;
// empty receives all. The returned cancel func unregisters and closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(monitorID string) (<-chan Event, func()) {
	s := &subscriber{
		ch:        make(chan Event, subscriberBuffer),
		monitorID: monitorID,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish fans ev out to every matching subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.monitorID != "" && s.monitorID != ev.MonitorID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Buffer full: drop rather than stall the producer.
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
