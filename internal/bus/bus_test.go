package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("cache.", 10)
	defer sub.Close()

	b.Publish(Event{Kind: KindCacheUpdated, Timestamp: time.Now(), Payload: "k"})

	select {
	case evt := <-sub.C:
		if evt.Kind != KindCacheUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindCacheUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	cacheSub := b.Subscribe("cache.", 10)
	defer cacheSub.Close()
	chanSub := b.Subscribe("channel.", 10)
	defer chanSub.Close()

	b.Publish(Event{Kind: KindChannelError, Timestamp: time.Now()})

	select {
	case <-chanSub.C:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel event")
	}

	select {
	case evt := <-cacheSub.C:
		t.Errorf("cache subscriber received %q, want nothing", evt.Kind)
	default:
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("cache.", 10)
	sub.Close()
	sub.Close() // idempotent

	b.Publish(Event{Kind: KindCacheUpdated, Timestamp: time.Now()})

	select {
	case evt := <-sub.C:
		t.Errorf("closed subscriber received %q", evt.Kind)
	default:
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("cache.", 1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindCacheUpdated, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
