// Package live is the boundary-only websocket live API: a client subscribes
// to aircraft matching a filter and receives a stream of Subscription
// events as the tracker's state changes, until it disconnects or
// unsubscribes. Wire types and session handling mirror
// adsb-index-api-server's api/live.rs WebSocketHandler.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/plane-watch/pw-ingest/lib/ident"
	"github.com/plane-watch/pw-ingest/lib/tracker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Close codes used on this endpoint, per the client-facing protocol.
const (
	closeGoingAway     = websocket.StatusGoingAway
	closeProtocolError = websocket.StatusProtocolError
	closeInternalError = websocket.StatusInternalError
)

// clientMessage is the union of messages a client may send. Exactly one of
// Subscribe/Unsubscribe identifies which variant this is, selected by Type.
type clientMessage struct {
	Type          string      `json:"type"`
	ID            uuid.UUID   `json:"id"`
	Filter        *wireFilter `json:"filter,omitempty"`
	StartKeyframe bool        `json:"start_keyframe,omitempty"`
}

type wireFilter struct {
	Aircraft *wireAircraftFilter `json:"aircraft,omitempty"`
	Area     []float64           `json:"area,omitempty"`
}

type wireAircraftFilter struct {
	ICAO     []string `json:"icao,omitempty"`
	Callsign []string `json:"callsign,omitempty"`
	Squawk   []string `json:"squawk,omitempty"`
}

// serverMessage is the union of messages sent to a client.
type serverMessage struct {
	Type         string     `json:"type"`
	ID           *uuid.UUID `json:"id,omitempty"`
	Event        *wireEvent `json:"event,omitempty"`
	DroppedCount uint64     `json:"dropped_count,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// wireEvent is the JSON projection of a tracker.AircraftState, translating
// its internal Timestamped[T] fields into plain optional values.
type wireEvent struct {
	ICAO      string  `json:"icao"`
	Timestamp int64   `json:"timestamp"`
	Callsign  *string `json:"callsign,omitempty"`
	Squawk    *string `json:"squawk,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Mlat      bool     `json:"mlat,omitempty"`

	AltitudeBarometricFt *int32   `json:"altitude_baro_ft,omitempty"`
	AltitudeGNSSFt       *int32   `json:"altitude_gnss_ft,omitempty"`
	TrackDeg             *float64 `json:"track_deg,omitempty"`
	VerticalRateFtMin    *float64 `json:"vertical_rate_ft_min,omitempty"`
	GroundSpeedKt        *float64 `json:"ground_speed_kt,omitempty"`
}

func toWireEvent(ev tracker.SubscriptionEvent) wireEvent {
	a := ev.Aircraft
	w := wireEvent{
		ICAO:      a.ICAO.String(),
		Timestamp: ev.Timestamp.UnixMilli(),
	}
	if cs, ok := a.Callsign.Get(); ok {
		s := cs.String()
		w.Callsign = &s
	}
	if sq, ok := a.Squawk.Get(); ok {
		s := sq.String()
		w.Squawk = &s
	}
	if pos, ok := a.Position.Get(); ok {
		w.Latitude, w.Longitude = &pos.Latitude, &pos.Longitude
		w.Mlat = pos.Source == tracker.PositionSourceMLAT
	}
	if v, ok := a.AltitudeBarometricFt.Get(); ok {
		w.AltitudeBarometricFt = &v
	}
	if v, ok := a.AltitudeGNSSFt.Get(); ok {
		w.AltitudeGNSSFt = &v
	}
	if v, ok := a.Track.Get(); ok {
		w.TrackDeg = &v
	}
	if v, ok := a.VerticalRate.Get(); ok {
		w.VerticalRateFtMin = &v
	}
	if v, ok := a.GroundSpeedKt.Get(); ok {
		w.GroundSpeedKt = &v
	}
	return w
}

func toFilter(wf *wireFilter) (tracker.Filter, error) {
	var f tracker.Filter
	if wf == nil || wf.Aircraft == nil {
		return f, nil
	}
	if len(wf.Aircraft.ICAO) > 0 {
		icao, err := ident.ParseICAO(wf.Aircraft.ICAO[0])
		if err != nil {
			return f, err
		}
		f.ICAO = &icao.Addr
	}
	if len(wf.Aircraft.Callsign) > 0 {
		cs := wf.Aircraft.Callsign[0]
		f.Callsign = &cs
	}
	if len(wf.Aircraft.Squawk) > 0 {
		sq, err := ident.ParseSquawk(wf.Aircraft.Squawk[0])
		if err != nil {
			return f, err
		}
		f.Squawk = &sq
	}
	return f, nil
}

// Server accepts websocket upgrades and bridges each connection to the
// tracker's Subscribe/Unsubscribe/SubscriptionEvent interface.
type Server struct {
	tracker   *tracker.Tracker
	queueSize int
	log       zerolog.Logger
}

// NewServer builds a Server over t. queueSize bounds how many
// SubscriptionEvents can be buffered per connection before they start being
// dropped and counted (see tracker.SubscriptionEvent.DroppedCount).
func NewServer(t *tracker.Tracker, queueSize int) *Server {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Server{tracker: t, queueSize: queueSize, log: log.With().Str("component", "api/live").Logger()}
}

// ServeHTTP runs the session on an already-accepted websocket conn until
// the client disconnects or ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, clientID string, conn *websocket.Conn) {
	sess := &session{
		server:   s,
		clientID: clientID,
		conn:     conn,
		events:   make(chan tracker.SubscriptionEvent, s.queueSize),
		subs:     make(map[uuid.UUID]struct{}),
		log:      s.log.With().Str("client", clientID).Logger(),
	}
	sess.run(ctx)
}

type session struct {
	server   *Server
	clientID string
	conn     *websocket.Conn
	events   chan tracker.SubscriptionEvent
	subs     map[uuid.UUID]struct{}
	log      zerolog.Logger
}

func (sess *session) run(ctx context.Context) {
	defer sess.cleanup()

	readErr := make(chan error, 1)
	go sess.readLoop(ctx, readErr)

	for {
		select {
		case <-ctx.Done():
			_ = sess.conn.Close(closeGoingAway, "server shutting down")
			return
		case err := <-readErr:
			if err == nil {
				_ = sess.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			code := closeInternalError
			if isProtocolError(err) {
				code = closeProtocolError
			}
			sess.log.Debug().Err(err).Msg("live: closing session")
			_ = sess.conn.Close(code, err.Error())
			return
		case ev := <-sess.events:
			msg := serverMessage{Type: "Subscription", DroppedCount: ev.DroppedCount}
			id := ev.SubscriptionID
			msg.ID = &id
			we := toWireEvent(ev)
			msg.Event = &we
			if err := sess.write(ctx, msg); err != nil {
				_ = sess.conn.Close(closeInternalError, "write failed")
				return
			}
		}
	}
}

func (sess *session) readLoop(ctx context.Context, done chan<- error) {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			done <- nil
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			done <- protocolError{err}
			return
		}
		switch msg.Type {
		case "Subscribe":
			filter, err := toFilter(msg.Filter)
			if err != nil {
				sess.sendError(ctx, &msg.ID, err.Error())
				continue
			}
			// StartKeyframe (an initial snapshot of already-matching
			// aircraft before live updates begin) is accepted but not yet
			// sent; the subscriber only sees changes from here on.
			id := sess.server.tracker.Subscribe(sess.clientID, filter, sess.events)
			sess.subs[id] = struct{}{}
		case "Unsubscribe":
			sess.server.tracker.Unsubscribe(msg.ID)
			delete(sess.subs, msg.ID)
		default:
			done <- protocolError{errUnknownMessageType}
			return
		}
	}
}

var errUnknownMessageType = errors.New("live: unknown client message type")

func (sess *session) sendError(ctx context.Context, id *uuid.UUID, message string) {
	_ = sess.write(ctx, serverMessage{Type: "Error", ID: id, Message: message})
}

func (sess *session) write(ctx context.Context, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return sess.conn.Write(wctx, websocket.MessageText, data)
}

func (sess *session) cleanup() {
	for id := range sess.subs {
		sess.server.tracker.Unsubscribe(id)
	}
}

type protocolError struct{ err error }

func (p protocolError) Error() string { return p.err.Error() }
func (p protocolError) Unwrap() error { return p.err }

func isProtocolError(err error) bool {
	_, ok := err.(protocolError)
	return ok
}
