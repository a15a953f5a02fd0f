package tracker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/ident"
	"github.com/plane-watch/pw-ingest/lib/modes/adsb"
	"github.com/plane-watch/pw-ingest/lib/tracker/beast"
	"github.com/plane-watch/pw-ingest/lib/tracker/mode_s"
	"github.com/plane-watch/pw-ingest/lib/tracker/sbs1"
)

// Frame is satisfied by every decoded frame type the tracker can consume:
// mode_s.Frame, beast.Frame and sbs1.Frame all implement it.
type Frame interface {
	Icao() uint32
}

// FrameEvent wraps one decoded Frame with the provenance the tracker needs
// to apply it: which source produced it, when it was received, and the
// reference position to use for CPR local decode if the source has one.
type FrameEvent struct {
	SourceTag  string
	ReceivedAt time.Time
	RefLat     float64
	RefLon     float64
	HasRef     bool

	frame Frame
}

// NewFrameEvent wraps frame with its receive-time provenance.
func NewFrameEvent(frame Frame, sourceTag string, receivedAt time.Time) *FrameEvent {
	return &FrameEvent{frame: frame, SourceTag: sourceTag, ReceivedAt: receivedAt}
}

// WithReference attaches a reference position to the event, used by the CPR
// local decode path when no even/odd pair is available yet.
func (e *FrameEvent) WithReference(lat, lon float64) *FrameEvent {
	e.RefLat, e.RefLon, e.HasRef = lat, lon, true
	return e
}

// Frame returns the decoded frame carried by this event.
func (e *FrameEvent) Frame() Frame { return e.frame }

// Producer is implemented by every frame source (network listener, network
// fetcher, file replay): Start begins delivering FrameEvents to out and
// returns once the source is exhausted or ctx is cancelled; Stop requests an
// early, graceful shutdown.
type Producer interface {
	Start(ctx context.Context, out chan<- *FrameEvent) error
	Stop() error
	String() string
}

// SubscriptionEvent is delivered to a subscriber when an aircraft it is
// subscribed to changes.
type SubscriptionEvent struct {
	SubscriptionID uuid.UUID
	ICAO           ident.ICAO
	Aircraft       *AircraftState
	Timestamp      time.Time

	// DroppedCount is how many events were dropped for this subscription
	// since the last one that was successfully delivered, letting a slow
	// client detect and account for gaps instead of silently missing them.
	DroppedCount uint64
}

// Filter selects which aircraft a subscription is interested in. A zero
// value Filter matches every aircraft (an unfiltered firehose subscription).
type Filter struct {
	ICAO     *uint32
	Callsign *string
	Squawk   *ident.Squawk
}

func (f Filter) matches(a *AircraftState) bool {
	if f.ICAO != nil && a.ICAO.Addr != *f.ICAO {
		return false
	}
	if f.Callsign != nil {
		cs, ok := a.Callsign.Get()
		if !ok || cs.String() != *f.Callsign {
			return false
		}
	}
	if f.Squawk != nil {
		sq, ok := a.Squawk.Get()
		if !ok || sq != *f.Squawk {
			return false
		}
	}
	return true
}

type subscription struct {
	clientID string
	id       uuid.UUID
	filter   Filter
	events   chan<- SubscriptionEvent
	dropped  *atomic.Uint64
}

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
	cmdPushFrame
	cmdPushMlat
)

// command is the reactor's single inbound message type, modeled as a sum
// type over the operations the tracker supports: subscribing, unsubscribing
// and pushing a decoded frame or an externally-resolved MLAT position.
type command struct {
	kind commandKind

	sub   subscription
	subID uuid.UUID

	frameEvent *FrameEvent

	mlatICAO ident.ICAO
	mlatLat  float64
	mlatLon  float64
	mlatTime time.Time
}

// Tracker is a cheap-to-clone handle onto a running reactor goroutine. All
// mutation of aircraft state happens on the reactor's goroutine; callers
// only ever send commands across a channel.
type Tracker struct {
	commands chan command
}

// New starts a reactor goroutine and returns a handle to it. The reactor
// runs until ctx is cancelled.
func New(ctx context.Context) *Tracker {
	t := &Tracker{commands: make(chan command, 256)}
	r := &reactor{
		state:         newState(),
		subscriptions: make(map[uuid.UUID]subscription),
		byICAO:        make(map[uint32]map[uuid.UUID]struct{}),
		byCallsign:    make(map[string]map[uuid.UUID]struct{}),
		bySquawk:      make(map[ident.Squawk]map[uuid.UUID]struct{}),
		wildcard:      make(map[uuid.UUID]struct{}),
		commands:      t.commands,
	}
	go r.run(ctx)
	return t
}

// Push hands a decoded FrameEvent to the reactor for state update.
func (t *Tracker) Push(fe *FrameEvent) {
	t.commands <- command{kind: cmdPushFrame, frameEvent: fe}
}

// PushMlat hands an externally-resolved MLAT position to the reactor.
func (t *Tracker) PushMlat(icao ident.ICAO, lat, lon float64, at time.Time) {
	t.commands <- command{kind: cmdPushMlat, mlatICAO: icao, mlatLat: lat, mlatLon: lon, mlatTime: at}
}

// Subscribe registers events for aircraft matching filter. Returns the
// subscription id, used to Unsubscribe later.
func (t *Tracker) Subscribe(clientID string, filter Filter, events chan<- SubscriptionEvent) uuid.UUID {
	id := uuid.New()
	t.commands <- command{kind: cmdSubscribe, sub: subscription{clientID: clientID, id: id, filter: filter, events: events, dropped: new(atomic.Uint64)}}
	return id
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (t *Tracker) Unsubscribe(id uuid.UUID) {
	t.commands <- command{kind: cmdUnsubscribe, subID: id}
}

// PushBeast decodes a single BEAST packet (still byte-stuffed, escape byte
// and type byte included; NewFrame de-stuffs it) and pushes it to the
// reactor under sourceTag, the
// entry point used by lib/tracker/beastsrc's TCP listener.
func (t *Tracker) PushBeast(sourceTag string, receivedAt time.Time, packet []byte) error {
	f, err := beast.NewFrame(packet, false)
	if err != nil {
		return err
	}
	if err := f.Decode(); err != nil {
		return err
	}
	t.Push(NewFrameEvent(f, sourceTag, receivedAt))
	return nil
}

// reactor owns all tracker state, mutated only from its own goroutine.
//
// subscriptions is indexed a second way: byICAO/byCallsign/bySquawk each map
// a filter key to the set of subscription ids interested in it, so notify
// only has to visit subscriptions whose filter can possibly match the
// aircraft that just changed rather than every live subscription. wildcard
// holds subscriptions with no filter set at all (interested in everything),
// which can't be keyed by any one field. A subscription's own stored filter
// already records which of these indexes it's in, so unsubscribe costs at
// most one lookup per filter field rather than a scan.
type reactor struct {
	state         *state
	subscriptions map[uuid.UUID]subscription

	byICAO     map[uint32]map[uuid.UUID]struct{}
	byCallsign map[string]map[uuid.UUID]struct{}
	bySquawk   map[ident.Squawk]map[uuid.UUID]struct{}
	wildcard   map[uuid.UUID]struct{}

	commands chan command
}

func indexAdd[K comparable](idx map[K]map[uuid.UUID]struct{}, key K, id uuid.UUID) {
	set, ok := idx[key]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func indexRemove[K comparable](idx map[K]map[uuid.UUID]struct{}, key K, id uuid.UUID) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// addSubscription registers sub and files it into every index its filter
// touches, or into wildcard if the filter has no fields set.
func (r *reactor) addSubscription(sub subscription) {
	r.subscriptions[sub.id] = sub
	indexed := false
	if sub.filter.ICAO != nil {
		indexAdd(r.byICAO, *sub.filter.ICAO, sub.id)
		indexed = true
	}
	if sub.filter.Callsign != nil {
		indexAdd(r.byCallsign, *sub.filter.Callsign, sub.id)
		indexed = true
	}
	if sub.filter.Squawk != nil {
		indexAdd(r.bySquawk, *sub.filter.Squawk, sub.id)
		indexed = true
	}
	if !indexed {
		r.wildcard[sub.id] = struct{}{}
	}
}

// removeSubscription undoes addSubscription: O(1) per filter field, read
// straight off the subscription's own stored filter rather than a scan.
func (r *reactor) removeSubscription(id uuid.UUID) {
	sub, ok := r.subscriptions[id]
	if !ok {
		return
	}
	delete(r.subscriptions, id)
	indexed := false
	if sub.filter.ICAO != nil {
		indexRemove(r.byICAO, *sub.filter.ICAO, id)
		indexed = true
	}
	if sub.filter.Callsign != nil {
		indexRemove(r.byCallsign, *sub.filter.Callsign, id)
		indexed = true
	}
	if sub.filter.Squawk != nil {
		indexRemove(r.bySquawk, *sub.filter.Squawk, id)
		indexed = true
	}
	if !indexed {
		delete(r.wildcard, id)
	}
}

func (r *reactor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			r.handle(cmd)
		}
	}
}

func (r *reactor) handle(cmd command) {
	switch cmd.kind {
	case cmdSubscribe:
		r.addSubscription(cmd.sub)
	case cmdUnsubscribe:
		r.removeSubscription(cmd.subID)
	case cmdPushFrame:
		r.handleFrame(cmd.frameEvent)
	case cmdPushMlat:
		r.state.updateMlat(cmd.mlatTime, cmd.mlatICAO, cmd.mlatLat, cmd.mlatLon)
		r.notify(cmd.mlatICAO, cmd.mlatTime)
	}
}

// handleFrame decodes the frame's address and routes it through state. Only
// frames that expose a decoded ADS-B message (mode_s.Frame's
// ExtendedSquitter/ExtendedSquitterNonTransponder/MilitaryExtendedSquitter
// variants) advance aircraft state; others only bump LastSeen via Icao().
func (r *reactor) handleFrame(fe *FrameEvent) {
	frame := fe.Frame()
	if frame == nil {
		return
	}
	addr := frame.Icao()
	if addr == 0 {
		return
	}
	icao := ident.NewICAO(addr, false)

	if sf, ok := frame.(*sbs1.Frame); ok {
		r.state.updateWithSBS1(fe.ReceivedAt, icao, sf)
		r.notify(icao, fe.ReceivedAt)
		return
	}

	msg, ok := extractADSB(frame)
	if !ok {
		r.state.updateAircraft(icao, fe.ReceivedAt)
		r.notify(icao, fe.ReceivedAt)
		return
	}

	if fe.HasRef {
		if a, exists := r.state.get(icao.Addr); !exists || !a.HasReference {
			a := r.state.updateAircraft(icao, fe.ReceivedAt)
			a.RefLat, a.RefLon, a.HasReference = fe.RefLat, fe.RefLon, true
		}
	}

	r.state.updateWithADSB(fe.ReceivedAt, icao, msg)
	r.notify(icao, fe.ReceivedAt)
}

// notify delivers icao's current state to every subscription whose filter
// can match it. Candidates come from the reverse index (wildcard subs, plus
// whichever of byICAO/byCallsign/bySquawk carry this aircraft's current
// keys) rather than a scan of every live subscription; filter.matches still
// runs per candidate since a subscription indexed under one key can carry
// other filter fields that also have to agree.
func (r *reactor) notify(icao ident.ICAO, at time.Time) {
	a, ok := r.state.get(icao.Addr)
	if !ok {
		return
	}

	candidates := make(map[uuid.UUID]struct{}, len(r.wildcard))
	for id := range r.wildcard {
		candidates[id] = struct{}{}
	}
	for id := range r.byICAO[icao.Addr] {
		candidates[id] = struct{}{}
	}
	if cs, ok := a.Callsign.Get(); ok {
		for id := range r.byCallsign[cs.String()] {
			candidates[id] = struct{}{}
		}
	}
	if sq, ok := a.Squawk.Get(); ok {
		for id := range r.bySquawk[sq] {
			candidates[id] = struct{}{}
		}
	}

	for id := range candidates {
		sub, ok := r.subscriptions[id]
		if !ok || !sub.filter.matches(a) {
			continue
		}
		ev := SubscriptionEvent{SubscriptionID: sub.id, ICAO: icao, Aircraft: a, Timestamp: at, DroppedCount: sub.dropped.Load()}
		select {
		case sub.events <- ev:
			sub.dropped.Store(0)
		default:
			sub.dropped.Add(1)
			log.Warn().Str("client", sub.clientID).Msg("tracker: subscriber channel full, dropping event")
		}
	}
}

// extractADSB recovers the decoded ADS-B message carried by a frame, if any.
// Only the extended-squitter family (DF17/18/19 with a populated ME) carries
// one; other Mode S replies and Mode A/C packets only update LastSeen.
func extractADSB(f Frame) (adsb.Message, bool) {
	switch v := f.(type) {
	case *mode_s.Frame:
		return adsbFromModeS(v)
	case *beast.Frame:
		if mf := v.AvrFrame(); mf != nil {
			return adsbFromModeS(mf)
		}
	}
	return nil, false
}

func adsbFromModeS(mf *mode_s.Frame) (adsb.Message, bool) {
	switch b := mf.Body.(type) {
	case mode_s.ExtendedSquitter:
		if b.ME != nil {
			return b.ME, true
		}
	case mode_s.ExtendedSquitterNonTransponder:
		if b.ME != nil {
			return b.ME, true
		}
	case mode_s.MilitaryExtendedSquitter:
		if b.ME != nil {
			return b.ME, true
		}
	}
	return nil, false
}
