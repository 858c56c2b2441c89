package event

import (
	"testing"
	"time"
)

func ev(t Type, monitorID string) Event {
	return Event{Type: t, MonitorID: monitorID, At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe("")
	ch2, cancel2 := b.Subscribe("")
	defer cancel1()
	defer cancel2()

	b.Publish(ev(TypeStatusChanged, "m1"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != TypeStatusChanged || got.MonitorID != "m1" {
				t.Errorf("event: got %+v", got)
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSubscribe_MonitorFilter(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("m1")
	defer cancel()

	b.Publish(ev(TypeAlertOpened, "m2"))
	b.Publish(ev(TypeAlertOpened, "m1"))

	select {
	case got := <-ch:
		if got.MonitorID != "m1" {
			t.Errorf("monitor: got %s, want m1", got.MonitorID)
		}
	default:
		t.Fatal("filtered subscriber missed its event")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected second event: %+v", got)
	default:
	}
}

func TestPublish_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("")
	defer cancel()

	// Overfill the buffer; Publish must return every time.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(ev(TypeStatusChanged, "m1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered events: got %d, want %d", got, subscriberBuffer)
	}
}

func TestCancel_UnregistersAndCloses(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("")

	cancel()
	cancel() // second cancel is a no-op

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("subscribers after cancel: got %d, want 0", n)
	}

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(ev(TypeStatusChanged, "m1"))
}
