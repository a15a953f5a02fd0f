// Package broker mirrors tracker.SubscriptionEvents onto a NATS subject, so
// a process other than this one's websocket API can fan out live updates
// (a second ingest node, an alerting service) without subscribing to the
// tracker directly. Grounded on the general shape of
// original_source/adsb-index-server/src/broker.rs's external fan-out role,
// adapted from an in-process reactor to a NATS publisher since this repo
// already has a tracker reactor of its own to do the in-process half.
package broker

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/tracker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireEvent is the payload published per subscription event: the aircraft's
// ICAO address and the event timestamp in milliseconds.
type wireEvent struct {
	ICAO           string `json:"icao"`
	TimestampMilli int64  `json:"timestamp"`
}

// Publisher publishes every tracker.SubscriptionEvent it receives onto
// subject, tagged per-aircraft as "<subject>.<icao>" so downstream
// consumers can wildcard-subscribe to one address.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

// Connect dials the NATS server at url and returns a Publisher that will
// publish onto subject.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("pw-ingest-broker"))
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", url, err)
	}
	return &Publisher{nc: nc, subject: subject, log: log.With().Str("component", "broker").Str("subject", subject).Logger()}, nil
}

// Close drains and closes the underlying NATS connection.
func (p *Publisher) Close() {
	_ = p.nc.Drain()
}

// Run subscribes to every aircraft on t (an unfiltered firehose
// subscription) and publishes each update until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, t *tracker.Tracker) {
	events := make(chan tracker.SubscriptionEvent, 256)
	id := t.Subscribe("broker", tracker.Filter{}, events)
	defer t.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			p.publish(ev)
		}
	}
}

func (p *Publisher) publish(ev tracker.SubscriptionEvent) {
	data, err := json.Marshal(wireEvent{ICAO: ev.ICAO.String(), TimestampMilli: ev.Timestamp.UnixMilli()})
	if err != nil {
		p.log.Error().Err(err).Msg("broker: marshal failed")
		return
	}
	subject := p.subject + "." + ev.ICAO.String()
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Error().Err(err).Str("target_subject", subject).Msg("broker: publish failed")
	}
}
