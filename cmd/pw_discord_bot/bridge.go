package main

// bridges tracker subscription events onto discord alerts

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/tile_grid"
	"github.com/plane-watch/pw-ingest/lib/tracker"
)

const earthRadiusMtr = 6_371_000.0

// haversineDistanceMtr returns the great-circle distance between two
// lat/lon pairs in metres.
func haversineDistanceMtr(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMtr * c
}

// alertBridge subscribes to every tracker update and posts a Discord
// message to any saved location whose alert radius the aircraft has
// entered.
type alertBridge struct {
	session *discordgo.Session
	trk     *tracker.Tracker

	recentAlerts map[string]time.Time // "discordUserId/locationName/icao" -> last alert
}

func newAlertBridge(session *discordgo.Session, trk *tracker.Tracker) *alertBridge {
	return &alertBridge{
		session:      session,
		trk:          trk,
		recentAlerts: make(map[string]time.Time),
	}
}

// run subscribes to the tracker firehose and blocks until ctx is cancelled.
func (b *alertBridge) run(ctx context.Context) {
	events := make(chan tracker.SubscriptionEvent, 1024)
	id := b.trk.Subscribe("pw_discord_bot", tracker.Filter{}, events)
	defer b.trk.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			b.handleEvent(evt)
		}
	}
}

func (b *alertBridge) handleEvent(evt tracker.SubscriptionEvent) {
	pos, ok := evt.Aircraft.Position.Get()
	if !ok {
		return
	}
	altitudeFt := 0
	if alt, ok := evt.Aircraft.AltitudeBarometricFt.Get(); ok {
		altitudeFt = int(alt)
	}

	for _, tile := range tile_grid.NeighborTiles(pos.Latitude, pos.Longitude) {
		forLocation(tile, func(loc *location) {
			b.checkLocation(loc, evt, pos, altitudeFt)
		})
	}
}

func (b *alertBridge) checkLocation(loc *location, evt tracker.SubscriptionEvent, pos tracker.Position, altitudeFt int) {
	cfg := loc.AlertConfig.configForHeight(altitudeFt)
	if cfg == nil || !cfg.Enabled {
		return
	}

	distanceMtr := haversineDistanceMtr(loc.Lat, loc.Lon, pos.Latitude, pos.Longitude)
	if distanceMtr > float64(cfg.AlertRadiusMtr) {
		return
	}

	key := fmt.Sprintf("%s/%s/%s", loc.DiscordUserId, loc.LocationName, evt.ICAO.String())
	if last, seen := b.recentAlerts[key]; seen && time.Since(last) < 10*time.Minute {
		return
	}
	b.recentAlerts[key] = evt.Timestamp

	callsign := ""
	if cs, ok := evt.Aircraft.Callsign.Get(); ok {
		callsign = cs.String()
	}

	channel, err := b.session.UserChannelCreate(loc.DiscordUserId)
	if err != nil {
		log.Error().Err(err).Str("user", loc.DiscordUserId).Msg("pw_discord_bot: could not open DM channel")
		return
	}

	msg := fmt.Sprintf(
		"Aircraft %s (%s) is %.0fm from %q at %dft",
		evt.ICAO.String(), callsign, distanceMtr, loc.LocationName, altitudeFt,
	)
	if _, err := b.session.ChannelMessageSend(channel.ID, msg); err != nil {
		log.Error().Err(err).Str("user", loc.DiscordUserId).Msg("pw_discord_bot: could not send alert")
	}
}
