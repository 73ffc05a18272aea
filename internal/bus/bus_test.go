package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("relay.", 10)
	defer unsub()

	b.Emit(RelayStateChanged, "online")

	select {
	case evt := <-ch:
		if evt.Topic != RelayStateChanged {
			t.Errorf("got topic %q, want %q", evt.Topic, RelayStateChanged)
		}
		if evt.At.IsZero() {
			t.Error("event time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("call.", 10)
	defer unsub()

	b.Emit(ChatNotice, "file too large")
	b.Emit(CallStateChanged, "ringing")

	select {
	case evt := <-ch:
		if evt.Topic != CallStateChanged {
			t.Errorf("got topic %q, want %q", evt.Topic, CallStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Emit(ChatNotice, nil)
	b.Emit(PresenceUpdated, nil)

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()
	unsub()

	b.Emit(ChatNotice, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	b.Emit(ChatNotice, "one")
	b.Emit(ChatNotice, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	default:
	}
}

func TestNilBusDiscards(t *testing.T) {
	var b *Bus
	b.Emit(ChatNotice, "ignored")
}
