package tracker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/plane-watch/pw-ingest/lib/ident"
)

func newTestReactor() *reactor {
	return &reactor{
		state:         newState(),
		subscriptions: make(map[uuid.UUID]subscription),
		byICAO:        make(map[uint32]map[uuid.UUID]struct{}),
		byCallsign:    make(map[string]map[uuid.UUID]struct{}),
		bySquawk:      make(map[ident.Squawk]map[uuid.UUID]struct{}),
		wildcard:      make(map[uuid.UUID]struct{}),
	}
}

// TestSubscribeUnsubscribeClearsReverseIndex is the §8-style invariant: after
// subscribe(S) followed by unsubscribe(S), none of the reverse index buckets
// reference S's id, and an empty bucket is pruned rather than left behind.
func TestSubscribeUnsubscribeClearsReverseIndex(t *testing.T) {
	r := newTestReactor()

	icao := uint32(0xABCDEF)
	callsign := "UAL123"
	squawk := ident.Squawk(1200)

	sub := subscription{
		clientID: "test",
		id:       uuid.New(),
		filter:   Filter{ICAO: &icao, Callsign: &callsign, Squawk: &squawk},
		events:   make(chan SubscriptionEvent, 1),
		dropped:  new(atomic.Uint64),
	}

	r.addSubscription(sub)

	if _, ok := r.byICAO[icao][sub.id]; !ok {
		t.Fatalf("expected subscription in byICAO index after subscribe")
	}
	if _, ok := r.byCallsign[callsign][sub.id]; !ok {
		t.Fatalf("expected subscription in byCallsign index after subscribe")
	}
	if _, ok := r.bySquawk[squawk][sub.id]; !ok {
		t.Fatalf("expected subscription in bySquawk index after subscribe")
	}

	r.removeSubscription(sub.id)

	if _, ok := r.subscriptions[sub.id]; ok {
		t.Fatalf("expected subscription removed from subscriptions map")
	}
	if set, ok := r.byICAO[icao]; ok {
		if _, present := set[sub.id]; present {
			t.Fatalf("byICAO still references unsubscribed id")
		}
	}
	if set, ok := r.byCallsign[callsign]; ok {
		if _, present := set[sub.id]; present {
			t.Fatalf("byCallsign still references unsubscribed id")
		}
	}
	if set, ok := r.bySquawk[squawk]; ok {
		if _, present := set[sub.id]; present {
			t.Fatalf("bySquawk still references unsubscribed id")
		}
	}
	if _, ok := r.byICAO[icao]; ok {
		t.Fatalf("expected byICAO bucket pruned once its last subscriber left")
	}
	if _, ok := r.byCallsign[callsign]; ok {
		t.Fatalf("expected byCallsign bucket pruned once its last subscriber left")
	}
	if _, ok := r.bySquawk[squawk]; ok {
		t.Fatalf("expected bySquawk bucket pruned once its last subscriber left")
	}
}

// TestSubscribeUnsubscribeClearsWildcard covers the no-filter-fields path,
// which goes into wildcard rather than any of the keyed indexes.
func TestSubscribeUnsubscribeClearsWildcard(t *testing.T) {
	r := newTestReactor()

	sub := subscription{
		clientID: "test",
		id:       uuid.New(),
		filter:   Filter{},
		events:   make(chan SubscriptionEvent, 1),
		dropped:  new(atomic.Uint64),
	}

	r.addSubscription(sub)
	if _, ok := r.wildcard[sub.id]; !ok {
		t.Fatalf("expected unfiltered subscription in wildcard index")
	}

	r.removeSubscription(sub.id)
	if _, ok := r.wildcard[sub.id]; ok {
		t.Fatalf("wildcard still references unsubscribed id")
	}
}

type fakeFrame struct{ icao uint32 }

func (f fakeFrame) Icao() uint32 { return f.icao }

// TestNotifyMatchesFilteredAndWildcardSubscribers exercises notify's
// candidate gathering end to end: a wildcard subscriber sees every update,
// an ICAO-filtered subscriber only sees updates for its own address.
func TestNotifyMatchesFilteredAndWildcardSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trk := New(ctx)

	wildcardEvents := make(chan SubscriptionEvent, 1)
	trk.Subscribe("wildcard", Filter{}, wildcardEvents)

	otherICAO := uint32(0x222222)
	filteredEvents := make(chan SubscriptionEvent, 1)
	trk.Subscribe("filtered", Filter{ICAO: &otherICAO}, filteredEvents)

	target := uint32(0x111111)
	trk.Push(NewFrameEvent(fakeFrame{icao: target}, "test", time.Now()))

	select {
	case ev := <-wildcardEvents:
		if ev.ICAO.Addr != target {
			t.Fatalf("wildcard subscriber got icao %#x, want %#x", ev.ICAO.Addr, target)
		}
	case <-time.After(time.Second):
		t.Fatalf("wildcard subscriber never received the event")
	}

	select {
	case ev := <-filteredEvents:
		t.Fatalf("filtered subscriber unexpectedly matched icao %#x", ev.ICAO.Addr)
	case <-time.After(50 * time.Millisecond):
	}
}
