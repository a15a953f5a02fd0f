package adsb

import (
	"testing"

	"github.com/plane-watch/pw-ingest/lib/modes/cpr"
)

func TestDecodeAircraftIdentification(t *testing.T) {
	me := [7]byte{0x23, 0x15, 0xA6, 0x76, 0xDD, 0x13, 0xA0}
	msg, err := Decode(me)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := msg.(AircraftIdentification)
	if !ok {
		t.Fatalf("expected AircraftIdentification, got %T", msg)
	}
	if id.TypeCode() != 4 {
		t.Fatalf("type code = %d, want 4", id.TypeCode())
	}
	if got := id.Callsign.String(); got != "EZY67QN" {
		t.Fatalf("callsign = %q, want %q", got, "EZY67QN")
	}
}

func TestDecodeGroundSpeedBoundaries(t *testing.T) {
	if speed, _, ok := decodeGroundSpeed(0); ok || speed != 0 {
		t.Fatalf("0 should be not-available")
	}
	if _, stopped, ok := decodeGroundSpeed(1); !ok || !stopped {
		t.Fatalf("1 should decode as stopped")
	}
	if speed, _, ok := decodeGroundSpeed(2); !ok || speed != 1 {
		t.Fatalf("2 should decode to 1 (1/8 kt), got %v", speed)
	}
	if speed, _, ok := decodeGroundSpeed(9); !ok || speed != 8 {
		t.Fatalf("9 should decode to 8 (1/8 kt), got %v", speed)
	}
	if speed, _, ok := decodeGroundSpeed(124); !ok || speed != 1400 {
		t.Fatalf("124 should decode to 1400 (175 kt, >175 sentinel), got %v", speed)
	}
}

func TestDecodeAirbornePositionBarometric(t *testing.T) {
	// type code 11 -> 9-18 range, barometric altitude, Q-bit set (25ft steps).
	me := [7]byte{0x58, 0xC3, 0x82, 0xD6, 0x90, 0xC8, 0xAC}
	msg, err := Decode(me)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, ok := msg.(AirbornePosition)
	if !ok {
		t.Fatalf("expected AirbornePosition, got %T", msg)
	}
	if pos.AltitudeType != AltitudeBarometric {
		t.Fatalf("expected barometric altitude type")
	}
	if !pos.AltitudeValid || pos.AltitudeFt != 38000 {
		t.Fatalf("altitude = %d (valid=%v), want 38000", pos.AltitudeFt, pos.AltitudeValid)
	}
	if pos.CPRFormat != cpr.Even {
		t.Fatalf("expected even CPR format")
	}
	if pos.CPRLat != cpr.NewValue(93000) {
		t.Fatalf("CPR lat = %d, want 93000", pos.CPRLat)
	}
	if pos.CPRLon != cpr.NewValue(51372) {
		t.Fatalf("CPR lon = %d, want 51372", pos.CPRLon)
	}
}

func TestDecodeFallsBackToReserved(t *testing.T) {
	// type code 25 has no decoder.
	me := [7]byte{25 << 3, 0, 0, 0, 0, 0, 0}
	msg, err := Decode(me)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := msg.(Reserved)
	if !ok {
		t.Fatalf("expected Reserved, got %T", msg)
	}
	if r.TypeCode() != 25 {
		t.Fatalf("type code = %d, want 25", r.TypeCode())
	}
}
