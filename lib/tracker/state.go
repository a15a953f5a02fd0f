// Package tracker maintains live aircraft state from decoded Mode S/ADS-B
// frames and notifies subscribers of changes, mirroring the reactor/state
// split of a single-goroutine command-driven tracker: a cheap-to-clone
// handle sends commands across a channel to one goroutine that owns all
// mutable state.
package tracker

import (
	"math"
	"time"

	"github.com/plane-watch/pw-ingest/lib/ident"
	"github.com/plane-watch/pw-ingest/lib/modes/adsb"
	"github.com/plane-watch/pw-ingest/lib/modes/cpr"
	"github.com/plane-watch/pw-ingest/lib/tracker/sbs1"
)

// Timestamped pairs a value with the time it was last updated, so state
// updates received out of order (across receivers, over UDP, through
// buffering) can be dropped rather than regress the tracker's view.
type Timestamped[T any] struct {
	LastUpdate time.Time
	Value      T
	set        bool
}

// Update applies value if t is newer than the current LastUpdate (or if no
// value has been set yet). Reports whether the update was applied.
func (ts *Timestamped[T]) Update(t time.Time, value T) bool {
	if ts.set && !t.After(ts.LastUpdate) {
		return false
	}
	ts.LastUpdate = t
	ts.Value = value
	ts.set = true
	return true
}

// Get returns the current value and whether one has ever been set.
func (ts *Timestamped[T]) Get() (T, bool) {
	return ts.Value, ts.set
}

// PositionSource distinguishes a position derived from ADS-B CPR decoding
// from one supplied externally (MLAT).
type PositionSource int

const (
	PositionSourceADSB PositionSource = iota
	PositionSourceMLAT
)

// Position is a resolved geographic position plus its provenance.
type Position struct {
	Latitude, Longitude float64
	Source              PositionSource
}

// AircraftState is everything the tracker knows about one transponder
// address. Zero value is not useful; construct via newAircraftState.
type AircraftState struct {
	ICAO ident.ICAO

	LastSeen Timestamped[struct{}]

	Callsign Timestamped[ident.Callsign]
	Squawk   Timestamped[ident.Squawk]
	Position Timestamped[Position]

	AltitudeBarometricFt Timestamped[int32]
	AltitudeGNSSFt       Timestamped[int32]

	Track         Timestamped[float64]
	VerticalRate  Timestamped[float64]
	GroundSpeedKt Timestamped[float64]

	cprDecoder *cpr.Decoder[time.Time]

	RefLat, RefLon float64
	HasReference   bool
}

func newAircraftState(icao ident.ICAO, t time.Time) *AircraftState {
	a := &AircraftState{
		ICAO:       icao,
		cprDecoder: cpr.NewDecoder(func(x, y time.Time) bool { return x.Before(y) }),
	}
	a.LastSeen.Update(t, struct{}{})
	return a
}

func (a *AircraftState) reference() *cpr.Position {
	if a.HasReference {
		return &cpr.Position{Latitude: a.RefLat, Longitude: a.RefLon}
	}
	if v, ok := a.Position.Get(); ok {
		return &cpr.Position{Latitude: v.Latitude, Longitude: v.Longitude}
	}
	return nil
}

// updateAircraftIdentification applies a decoded callsign.
func (a *AircraftState) updateAircraftIdentification(t time.Time, id adsb.AircraftIdentification) {
	a.Callsign.Update(t, id.Callsign)
}

// updateAirbornePosition pushes a CPR-encoded position through the
// aircraft's decoder, updating Position on a successful global or local
// decode, and applies the message's altitude field.
func (a *AircraftState) updateAirbornePosition(t time.Time, pos adsb.AirbornePosition) {
	if resolved, ok := a.cprDecoder.Push(pos.CPRFormat, pos.CPRLat, pos.CPRLon, cpr.Airborne, t, a.reference()); ok {
		a.Position.Update(t, Position{Latitude: resolved.Latitude, Longitude: resolved.Longitude, Source: PositionSourceADSB})
	}

	if pos.AltitudeValid {
		switch pos.AltitudeType {
		case adsb.AltitudeBarometric:
			a.AltitudeBarometricFt.Update(t, pos.AltitudeFt)
		case adsb.AltitudeGNSS:
			a.AltitudeGNSSFt.Update(t, pos.AltitudeFt)
		}
	}
}

// updateSurfacePosition mirrors updateAirbornePosition for the surface
// message family. The decoder pairs surface CPR halves only against other
// surface halves (distinct vertical status), since surface CPR uses a
// tighter, 45NM-radius zone grid than airborne CPR.
func (a *AircraftState) updateSurfacePosition(t time.Time, pos adsb.SurfacePosition) {
	if resolved, ok := a.cprDecoder.Push(pos.CPRFormat, pos.CPRLat, pos.CPRLon, cpr.Surface, t, a.reference()); ok {
		a.Position.Update(t, Position{Latitude: resolved.Latitude, Longitude: resolved.Longitude, Source: PositionSourceADSB})
	}
	if pos.GroundTrackValid {
		a.Track.Update(t, pos.GroundTrack)
	}
	if pos.GroundSpeedOK {
		a.GroundSpeedKt.Update(t, pos.GroundSpeedKt)
	}
}

// updateAircraftStatus applies a decoded squawk from an aircraft-status
// (type 28, subtype 1) message.
func (a *AircraftState) updateAircraftStatus(t time.Time, status adsb.AircraftStatus) {
	if status.Subtype == 1 && status.SquawkValid {
		a.Squawk.Update(t, status.Squawk)
	}
}

// updateAirborneVelocity applies heading/vertical-rate/ground-speed fields
// from an airborne-velocity (type 19) message. Ground speed and track are
// only carried by the ground-speed subtypes (1/2); heading is only carried
// by the airspeed subtypes (3/4).
func (a *AircraftState) updateAirborneVelocity(t time.Time, v adsb.AirborneVelocity) {
	if v.GroundSpeed {
		east, north := float64(v.EastVelocity), float64(v.NorthVelocity)
		if v.WestBound {
			east = -east
		}
		if v.SouthBound {
			north = -north
		}
		speed := math.Hypot(east, north)
		a.GroundSpeedKt.Update(t, speed)
		if speed > 0 {
			track := math.Atan2(east, north) * 180 / math.Pi
			if track < 0 {
				track += 360
			}
			a.Track.Update(t, track)
		}
	}
	if v.Airspeed && v.HeadingValid {
		a.Track.Update(t, v.Heading)
	}
	if v.VerticalRateOK {
		a.VerticalRate.Update(t, float64(v.VerticalRateFpm))
	}
}

// updateMlatPosition is used by the SBS1/MLAT ingest path, which supplies an
// already-resolved lat/lon rather than raw CPR fields.
func (a *AircraftState) updateMlatPosition(t time.Time, lat, lon float64) {
	a.Position.Update(t, Position{Latitude: lat, Longitude: lon, Source: PositionSourceMLAT})
}

// updateWithSBS1 applies a decoded SBS1 record directly, bypassing the
// ADS-B/CPR pipeline since SBS1 fields arrive already resolved to plain
// scalars (no even/odd CPR pair to buffer).
func (a *AircraftState) updateWithSBS1(t time.Time, f *sbs1.Frame) {
	if f.HasCallsign && f.Callsign != "" {
		a.Callsign.Update(t, ident.NewCallsign(f.Callsign))
	}
	if f.HasSquawk {
		a.Squawk.Update(t, f.Squawk)
	}
	if f.HasPosition {
		a.updateMlatPosition(t, f.Latitude, f.Longitude)
	}
	if f.HasAltitude {
		a.AltitudeBarometricFt.Update(t, f.AltitudeFt)
	}
	if f.HasTrack {
		a.Track.Update(t, f.Track)
	}
	if f.HasGroundSpeed {
		a.GroundSpeedKt.Update(t, f.GroundSpeedKt)
	}
	if f.HasVerticalRate {
		a.VerticalRate.Update(t, float64(f.VerticalRateFpm))
	}
}

// state is the full aircraft table, indexed by ICAO address. Subscription
// matching by callsign/squawk is handled by the reactor's own reverse index
// over subscriptions (tracker.go), not here.
type state struct {
	byICAO map[uint32]*AircraftState
}

func newState() *state {
	return &state{
		byICAO: make(map[uint32]*AircraftState),
	}
}

// updateAircraft returns the AircraftState for icao, creating it on first
// sight, and bumps LastSeen.
func (s *state) updateAircraft(icao ident.ICAO, t time.Time) *AircraftState {
	a, ok := s.byICAO[icao.Addr]
	if !ok {
		a = newAircraftState(icao, t)
		s.byICAO[icao.Addr] = a
		return a
	}
	a.LastSeen.Update(t, struct{}{})
	return a
}

// updateWithADSB dispatches a decoded ADS-B message to the right
// AircraftState update method.
func (s *state) updateWithADSB(t time.Time, icao ident.ICAO, msg adsb.Message) {
	a := s.updateAircraft(icao, t)

	switch m := msg.(type) {
	case adsb.AircraftIdentification:
		a.updateAircraftIdentification(t, m)
	case adsb.AirbornePosition:
		a.updateAirbornePosition(t, m)
	case adsb.SurfacePosition:
		a.updateSurfacePosition(t, m)
	case adsb.AircraftStatus:
		a.updateAircraftStatus(t, m)
	case adsb.AirborneVelocity:
		a.updateAirborneVelocity(t, m)
	}
}

// updateMlat applies an externally resolved (non-CPR) position, as supplied
// by an SBS1/MLAT feed, to the named aircraft.
func (s *state) updateMlat(t time.Time, icao ident.ICAO, lat, lon float64) {
	a := s.updateAircraft(icao, t)
	a.updateMlatPosition(t, lat, lon)
}

// updateWithSBS1 applies a decoded SBS1 record to the named aircraft.
func (s *state) updateWithSBS1(t time.Time, icao ident.ICAO, f *sbs1.Frame) {
	a := s.updateAircraft(icao, t)
	a.updateWithSBS1(t, f)
}

// get looks up an aircraft by ICAO address without creating it.
func (s *state) get(addr uint32) (*AircraftState, bool) {
	a, ok := s.byICAO[addr]
	return a, ok
}
