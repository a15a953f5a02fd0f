package mode_s

import (
	"testing"
	"time"

	"github.com/plane-watch/pw-ingest/lib/modes/adsb"
)

func TestDecodeStringAircraftIdentification(t *testing.T) {
	f, err := DecodeString("*8D4074B523154A76DD13A0662967;", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.DF != DFExtendedSquitter {
		t.Fatalf("DF = %d, want %d", f.DF, DFExtendedSquitter)
	}
	es, ok := f.Body.(ExtendedSquitter)
	if !ok {
		t.Fatalf("expected ExtendedSquitter body, got %T", f.Body)
	}
	if got := es.ICAO.String(); got != "4074b5" {
		t.Fatalf("icao = %q, want %q", got, "4074b5")
	}
	id, ok := es.ME.(adsb.AircraftIdentification)
	if !ok {
		t.Fatalf("expected AircraftIdentification, got %T", es.ME)
	}
	if got := id.Callsign.String(); got != "EZY67QN" {
		t.Fatalf("callsign = %q, want %q", got, "EZY67QN")
	}
}

func TestDecodeStringAirbornePosition(t *testing.T) {
	f, err := DecodeString("*8D40621D58C382D690C8AC2863A7;", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	es, ok := f.Body.(ExtendedSquitter)
	if !ok {
		t.Fatalf("expected ExtendedSquitter body, got %T", f.Body)
	}
	if got := es.ICAO.String(); got != "40621d" {
		t.Fatalf("icao = %q, want %q", got, "40621d")
	}
	pos, ok := es.ME.(adsb.AirbornePosition)
	if !ok {
		t.Fatalf("expected AirbornePosition, got %T", es.ME)
	}
	if !pos.AltitudeValid || pos.AltitudeFt != 38000 {
		t.Fatalf("altitude = %d (valid=%v), want 38000", pos.AltitudeFt, pos.AltitudeValid)
	}
}

func TestDecodeStringRejectsEmpty(t *testing.T) {
	if _, err := DecodeString("", time.Now()); err == nil {
		t.Fatalf("expected error for empty frame")
	}
}

func TestDecodeIsIdempotent(t *testing.T) {
	f := NewFrame("*8D4074B523154A76DD13A0662967;", time.Now())
	if err := f.Decode(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := f.Body
	if err := f.Decode(); err != nil {
		t.Fatalf("unexpected error on second decode: %v", err)
	}
	if f.Body.(ExtendedSquitter).ICAO != first.(ExtendedSquitter).ICAO {
		t.Fatalf("second decode produced a different result")
	}
}

func TestDecodeFromBytesShortAirToAir(t *testing.T) {
	// DF0, VS=0, no cross-link, AC13 all-zero (altitude unavailable).
	msg := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	f := NewFrameFromBytes(msg, time.Now())
	if err := f.Decode(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.DF != DFShortAirToAirSurveillance {
		t.Fatalf("DF = %d, want 0", f.DF)
	}
	body, ok := f.Body.(AirToAirSurveillance)
	if !ok {
		t.Fatalf("expected AirToAirSurveillance, got %T", f.Body)
	}
	if body.AltitudeValid {
		t.Fatalf("expected altitude unavailable for all-zero AC13 field")
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	f := NewFrameFromBytes([]byte{0x8D, 0x00}, time.Now())
	err := f.Decode()
	if err == nil {
		t.Fatalf("expected truncated error")
	}
	if _, ok := err.(*TruncatedError); !ok {
		t.Fatalf("expected *TruncatedError, got %T", err)
	}
}

func TestDecodeRejectsBadExtendedSquitterCrc(t *testing.T) {
	msg := []byte{0x8D, 0x40, 0x74, 0xB5, 0x23, 0x15, 0xA6, 0x76, 0xDD, 0x13, 0xA0, 0x66, 0x29, 0x68}
	f := NewFrameFromBytes(msg, time.Now())
	err := f.Decode()
	if err == nil {
		t.Fatalf("expected crc check failure after corrupting trailer")
	}
	if _, ok := err.(*CrcCheckFailedError); !ok {
		t.Fatalf("expected *CrcCheckFailedError, got %T", err)
	}
}

func TestDecodeMlatPrefixedFrame(t *testing.T) {
	f, err := DecodeString("@0000000000008D4074B523154A76DD13A0662967;", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.DF != DFExtendedSquitter {
		t.Fatalf("DF = %d, want %d", f.DF, DFExtendedSquitter)
	}
}

func TestDecodeCommDFallsBackToOpaque(t *testing.T) {
	// top two bits set -> DF24 comm-D family, regardless of the nominal DF value.
	msg := make([]byte, modesLongMsgBytes)
	msg[0] = 0xC0
	f := NewFrameFromBytes(msg, time.Now())
	if err := f.Decode(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.DF != DFCommD {
		t.Fatalf("DF = %d, want %d", f.DF, DFCommD)
	}
	if _, ok := f.Body.(Opaque); !ok {
		t.Fatalf("expected Opaque, got %T", f.Body)
	}
}
