package bus

import (
	"slices"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncStart, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncStart {
			t.Errorf("got kind %q, want %s", evt.Kind, KindSyncStart)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("network.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncSuccess})
	b.Publish(Event{Kind: KindNetworkChange})

	select {
	case evt := <-ch:
		if evt.Kind != KindNetworkChange {
			t.Errorf("got kind %q, want %s", evt.Kind, KindNetworkChange)
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

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	unsub()

	b.Publish(Event{Kind: KindSyncError})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindSyncStart})
	// Dropped: buffer is full.
	b.Publish(Event{Kind: KindSyncSuccess})

	evt := <-ch
	if evt.Kind != KindSyncStart {
		t.Errorf("got %q, want %s", evt.Kind, KindSyncStart)
	}
}

func TestListenersDeliverInRegistrationOrder(t *testing.T) {
	var l Listeners[int]
	var got []string

	l.Add(func(v int) { got = append(got, "a") })
	removeB := l.Add(func(v int) { got = append(got, "b") })
	l.Add(func(v int) { got = append(got, "c") })

	l.Notify(1)
	if want := []string{"a", "b", "c"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	removeB()
	removeB()
	got = nil
	l.Notify(2)
	if want := []string{"a", "c"}; !slices.Equal(got, want) {
		t.Errorf("order after remove = %v, want %v", got, want)
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}
}

func TestListenersRecoverPanics(t *testing.T) {
	var l Listeners[string]
	var recovered []any
	l.OnPanic = func(r any) { recovered = append(recovered, r) }

	delivered := false
	l.Add(func(string) { panic("boom") })
	l.Add(func(string) { delivered = true })

	l.Notify("x")
	if !delivered {
		t.Error("listener after a panicking one was not called")
	}
	if len(recovered) != 1 || recovered[0] != "boom" {
		t.Errorf("recovered = %v", recovered)
	}

	l.Reset()
	if l.Len() != 0 {
		t.Errorf("Len after Reset = %d", l.Len())
	}
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	b.Emit(KindSyncStart, nil)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	defer unsub()

	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Close")
	}
	b.Publish(Event{Kind: KindSyncStart})
	b.Close()

	late, _ := b.Subscribe("", 1)
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
}
