package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sotramsa/enruta/core/clock"
)

func pinnedClock() *clock.VirtualClock {
	clk := clock.New()
	clk.SetSimulated(time.Date(2024, 5, 20, 6, 0, 0, 0, time.Local))
	return clk
}

func TestSubscribeReplaysConnectedThenInitialState(t *testing.T) {
	snapshot := func(ctx context.Context) (any, error) {
		return []string{"pending-1", "pending-2"}, nil
	}
	b := NewBroadcaster(snapshot, pinnedClock(), nil)
	defer b.Close()

	sub, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := <-sub.C
	if first.Event != EventConnected {
		t.Fatalf("expected %s first, got %s", EventConnected, first.Event)
	}
	second := <-sub.C
	if second.Event != EventInitialState {
		t.Fatalf("expected %s second, got %s", EventInitialState, second.Event)
	}
	state, ok := second.Data.([]string)
	if !ok || len(state) != 2 {
		t.Fatalf("expected snapshot payload, got %#v", second.Data)
	}
}

func TestSubscribeFailsWhenSnapshotFails(t *testing.T) {
	snapshot := func(ctx context.Context) (any, error) {
		return nil, fmt.Errorf("store down")
	}
	b := NewBroadcaster(snapshot, pinnedClock(), nil)
	defer b.Close()

	if _, err := b.Subscribe(context.Background()); err == nil {
		t.Fatalf("expected snapshot error to propagate")
	}
}

func TestPublishFanOutInOrder(t *testing.T) {
	b := NewBroadcaster(nil, pinnedClock(), nil)
	defer b.Close()

	a, _ := b.Subscribe(context.Background())
	c, _ := b.Subscribe(context.Background())
	drainReplay(t, a)
	drainReplay(t, c)

	for i := 0; i < 3; i++ {
		b.Publish(EventChange, i)
	}
	for _, sub := range []*Subscriber{a, c} {
		for i := 0; i < 3; i++ {
			ev := <-sub.C
			if ev.Event != EventChange || ev.Data != i {
				t.Fatalf("subscriber %s: expected change %d, got %#v", sub.ID, i, ev)
			}
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil, pinnedClock(), nil)
	defer b.Close()

	sub, _ := b.Subscribe(context.Background())
	drainReplay(t, sub)
	b.Unsubscribe(sub)

	if _, open := <-sub.C; open {
		t.Fatalf("channel must be closed after unsubscribe")
	}
	// Unsubscribing twice is harmless.
	b.Unsubscribe(sub)
	b.Publish(EventChange, "after")
}

func TestStalledSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster(nil, pinnedClock(), nil)
	defer b.Close()

	stalled, _ := b.Subscribe(context.Background())
	healthy, _ := b.Subscribe(context.Background())
	drainReplay(t, healthy)

	// The stalled subscriber never reads. Overfill its buffer; replay
	// events already occupy two slots.
	for i := 0; i < 70; i++ {
		b.Publish(EventChange, i)
	}

	// The healthy subscriber keeps receiving while the stalled one is
	// closed once its buffer overflows.
	ev := <-healthy.C
	if ev.Event != EventChange {
		t.Fatalf("healthy subscriber lost events: %#v", ev)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-stalled.C:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("stalled subscriber was never dropped")
		}
	}
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	b := NewBroadcaster(nil, pinnedClock(), nil)
	sub, _ := b.Subscribe(context.Background())
	drainReplay(t, sub)
	b.Close()

	b.Publish(EventChange, "late")
	if _, open := <-sub.C; open {
		t.Fatalf("channel must be closed after broadcaster close")
	}
}

func TestEventTimestampFollowsVirtualClock(t *testing.T) {
	clk := pinnedClock()
	b := NewBroadcaster(nil, clk, nil)
	defer b.Close()

	sub, _ := b.Subscribe(context.Background())
	ev := <-sub.C
	want := clk.Now().Format(time.RFC3339)
	if ev.Timestamp != want {
		t.Fatalf("expected timestamp %s, got %s", want, ev.Timestamp)
	}
}

func TestDetachedSubscriberOffer(t *testing.T) {
	sub := NewSubscriber(1)
	if !sub.Offer(Event{Event: EventChange}) {
		t.Fatalf("offer into empty buffer must succeed")
	}
	if sub.Offer(Event{Event: EventChange}) {
		t.Fatalf("offer into full buffer must fail")
	}
	sub.Close()
	ev, open := <-sub.C
	if !open || ev.Event != EventChange {
		t.Fatalf("buffered event must survive close, got %#v open=%v", ev, open)
	}
}

func drainReplay(t *testing.T, sub *Subscriber) {
	t.Helper()
	for i := 0; i < 2; i++ {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatalf("replay event %d never arrived", i)
		}
	}
}
