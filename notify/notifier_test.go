package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/tablewatch/tablewatch/monitor"
)

func event(conn string, id int64) monitor.Event {
	return monitor.Event{ID: id, Type: monitor.TypeInsert, Table: "users", ConnectionID: conn}
}

func TestHub_BasicSubscribeDeliver(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	hub.Deliver(event("local", 1))

	select {
	case ev := <-events:
		if ev.ConnectionID != "local" || ev.ID != 1 {
			t.Errorf("expected (local, 1), got (%s, %d)", ev.ConnectionID, ev.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_FilterSpecificConnection(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{Connections: []string{"a"}})
	defer cancel()

	hub.Deliver(event("a", 1))

	select {
	case ev := <-events:
		if ev.ConnectionID != "a" || ev.ID != 1 {
			t.Errorf("expected (a, 1), got (%s, %d)", ev.ConnectionID, ev.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	hub.Deliver(event("b", 2))

	select {
	case ev := <-events:
		t.Errorf("should not receive event for b, got (%s, %d)", ev.ConnectionID, ev.ID)
	case <-time.After(50 * time.Millisecond):
		// Expected - no event
	}
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	for i := int64(1); i <= 10; i++ {
		hub.Deliver(event("local", i))
	}

	for want := int64(1); want <= 10; want++ {
		select {
		case ev := <-events:
			if ev.ID != want {
				t.Fatalf("expected id %d, got %d", want, ev.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for event %d", want)
		}
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})

	hub.Deliver(event("local", 1))

	select {
	case <-events:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("channel should be closed after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}

	// Subsequent deliveries should not panic
	hub.Deliver(event("local", 2))

	// Second cancel should not panic
	cancel()
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()

	all, cancel1 := hub.Subscribe(Filter{})
	defer cancel1()
	onlyA, cancel2 := hub.Subscribe(Filter{Connections: []string{"a"}})
	defer cancel2()
	onlyB, cancel3 := hub.Subscribe(Filter{Connections: []string{"b"}})
	defer cancel3()

	hub.Deliver(event("a", 1))

	for name, ch := range map[string]<-chan monitor.Event{"all": all, "onlyA": onlyA} {
		select {
		case ev := <-ch:
			if ev.ConnectionID != "a" {
				t.Errorf("%s: expected connection a, got %s", name, ev.ConnectionID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout on %s", name)
		}
	}

	select {
	case ev := <-onlyB:
		t.Errorf("onlyB should not receive, got (%s, %d)", ev.ConnectionID, ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ConcurrentDeliverSubscribe(t *testing.T) {
	hub := NewHub()
	const numGoroutines = 10
	const numEvents = 50

	var wg sync.WaitGroup
	ready := make(chan struct{}, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			events, cancel := hub.Subscribe(Filter{})
			defer cancel()
			ready <- struct{}{}

			received := 0
			timeout := time.After(2 * time.Second)
			for received < numEvents {
				select {
				case <-events:
					received++
				case <-timeout:
					return
				}
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		<-ready
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numEvents; i++ {
			hub.Deliver(event("local", int64(i)))
		}
	}()

	wg.Wait()
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	total := defaultEventBufferSize + 10
	for i := 0; i < total; i++ {
		hub.Deliver(event("local", int64(i)))
	}

	if got := hub.Dropped(); got != 10 {
		t.Errorf("expected 10 dropped events, got %d", got)
	}

	received := 0
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case <-events:
			received++
		case <-timeout:
			if received != defaultEventBufferSize {
				t.Errorf("expected %d events, got %d", defaultEventBufferSize, received)
			}
			return
		}
	}
}

func TestHub_CloseEndsAllSubscriptions(t *testing.T) {
	hub := NewHub()

	a, _ := hub.Subscribe(Filter{})
	b, cancelB := hub.Subscribe(Filter{Connections: []string{"x"}})

	hub.Close()

	for _, ch := range []<-chan monitor.Event{a, b} {
		if _, ok := <-ch; ok {
			t.Error("channel should be closed after hub close")
		}
	}
	if hub.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Subscribers())
	}

	// cancel after close is a no-op
	cancelB()
}

func TestHub_UniqueSubscriptionIDs(t *testing.T) {
	hub := NewHub()

	const numSubs = 100
	cancels := make([]func(), numSubs)

	for i := 0; i < numSubs; i++ {
		_, cancel := hub.Subscribe(Filter{})
		cancels[i] = cancel
	}

	if hub.Subscribers() != numSubs {
		t.Errorf("expected %d subscriptions, got %d", numSubs, hub.Subscribers())
	}

	for _, cancel := range cancels {
		cancel()
	}

	if hub.Subscribers() != 0 {
		t.Errorf("expected 0 subscriptions after cancel, got %d", hub.Subscribers())
	}
}

var _ monitor.Subscriber = (*Hub)(nil)
