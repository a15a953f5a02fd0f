// Package adsb decodes the 56-bit ME payload of a Mode S extended squitter
// into one of the ADS-B message variants selected by its 5-bit type code.
// Reserved and not-yet-modeled type codes are preserved as an opaque
// Reserved variant rather than rejected, so forward compatibility with new
// message types is a type property instead of a runtime string match.
package adsb

import (
	"fmt"

	"github.com/plane-watch/pw-ingest/lib/ident"
	"github.com/plane-watch/pw-ingest/lib/modes/cpr"
	"github.com/plane-watch/pw-ingest/lib/modes/gillham"
)

// Message is implemented by every ADS-B message variant. TypeCode returns
// the 5-bit type code the variant was decoded from.
type Message interface {
	TypeCode() byte
}

// AltitudeType distinguishes the two altitude references carried by
// airborne-position messages.
type AltitudeType int

const (
	AltitudeBarometric AltitudeType = iota
	AltitudeGNSS
)

// AircraftIdentification is ADS-B type codes 1-4.
type AircraftIdentification struct {
	Type     byte
	Category byte
	Wake     ident.WakeCategory
	Callsign ident.Callsign
}

func (m AircraftIdentification) TypeCode() byte { return m.Type }

var wakeTable = map[byte]map[byte]ident.WakeCategory{
	4: {1: ident.WakeHeavy, 2: ident.WakeMedium, 3: ident.WakeMedium, 5: ident.WakeLight, 6: ident.WakeLight, 7: ident.WakeLight},
	3: {1: ident.WakeSuper, 2: ident.WakeHeavy, 3: ident.WakeMedium, 4: ident.WakeMedium, 5: ident.WakeLight, 6: ident.WakeLight, 7: ident.WakeLight},
}

func wakeCategory(typeCode, category byte) ident.WakeCategory {
	if byType, ok := wakeTable[typeCode]; ok {
		if wake, ok := byType[category]; ok {
			return wake
		}
	}
	return ident.WakeUnknown
}

func decodeAircraftIdentification(typeCode byte, me [7]byte) (Message, error) {
	category := me[0] & 0x07
	cs, err := ident.DecodeCallsignPermissive(me[1:7])
	if err != nil {
		return nil, fmt.Errorf("adsb: aircraft identification: %w", err)
	}
	return AircraftIdentification{
		Type:     typeCode,
		Category: category,
		Wake:     wakeCategory(typeCode, category),
		Callsign: cs,
	}, nil
}

// groundSpeedSegment is one entry of the surface-position piecewise-linear
// ground-speed quantization table (§4.4).
type groundSpeedSegment struct {
	loEncoded, hiEncoded int
	base, step           float64
}

var groundSpeedTable = []groundSpeedSegment{
	{2, 8, 1, 1},
	{9, 12, 8, 2},
	{13, 38, 16, 4},
	{39, 93, 120, 8},
	{94, 108, 560, 16},
	{109, 123, 800, 40},
}

// decodeGroundSpeed converts a 7-bit encoded surface ground-speed value to
// 1/8-knot units. ok is false for "not available" (0) and "reserved" values;
// stopped reports the encoded value 1 ("stopped").
func decodeGroundSpeed(encoded int) (speed float64, stopped, ok bool) {
	if encoded == 0 {
		return 0, false, false
	}
	if encoded == 1 {
		return 0, true, true
	}
	if encoded == 124 {
		return 175 * 8, false, true
	}
	for _, seg := range groundSpeedTable {
		if encoded >= seg.loEncoded && encoded <= seg.hiEncoded {
			steps := float64(encoded - seg.loEncoded)
			return seg.base + steps*seg.step, false, true
		}
	}
	return 0, false, false
}

// SurfacePosition is ADS-B type codes 5-8.
type SurfacePosition struct {
	Type             byte
	GroundSpeedKt    float64
	GroundSpeedOK    bool
	Stopped          bool
	GroundTrackValid bool
	GroundTrack      float64
	Time             bool
	CPRFormat        cpr.Format
	CPRLat, CPRLon   cpr.Value
}

func (m SurfacePosition) TypeCode() byte { return m.Type }

func decodeSurfacePosition(typeCode byte, me [7]byte) (Message, error) {
	movement := int((me[0]&0x07)<<4 | me[1]>>4)
	speed, stopped, ok := decodeGroundSpeed(movement)

	trackValid := me[1]&0x08 != 0
	track := float64((uint16(me[1]&0x07)<<4 | uint16(me[2]>>4))) * 360.0 / 128.0

	timeBit := me[2]&0x08 != 0
	format := cpr.FromBit(me[2]&0x04 != 0)
	lat := cpr.NewValue((uint32(me[2]&0x03) << 15) | (uint32(me[3]) << 7) | (uint32(me[4]) >> 1))
	lon := cpr.NewValue((uint32(me[4]&0x01) << 16) | (uint32(me[5]) << 8) | uint32(me[6]))

	return SurfacePosition{
		Type:             typeCode,
		GroundSpeedKt:    speed / 8,
		GroundSpeedOK:    ok,
		Stopped:          stopped,
		GroundTrackValid: trackValid,
		GroundTrack:      track,
		Time:             timeBit,
		CPRFormat:        format,
		CPRLat:           lat,
		CPRLon:           lon,
	}, nil
}

// AirbornePosition is ADS-B type codes 0, 9-18, 20-22.
type AirbornePosition struct {
	Type               byte
	AltitudeType       AltitudeType
	SurveillanceStatus byte
	SingleAntenna      bool
	AltitudeFt         int32
	AltitudeValid      bool
	Time               bool
	CPRFormat          cpr.Format
	CPRLat, CPRLon     cpr.Value
}

func (m AirbornePosition) TypeCode() byte { return m.Type }

func decodeAltitude12(code uint16) (int32, bool) {
	if code == 0 {
		return 0, false
	}
	if code == 0x0FFF {
		return 0, false
	}
	if code&0x10 != 0 {
		// Q-bit set: 25ft steps, value has the Q bit removed.
		n := ((code & 0x0FE0) >> 1) | (code & 0x000F)
		return int32(n)*25 - 1000, true
	}
	// Q-bit zero: Gillham/gray-code, -1200ft offset, 100ft steps. The
	// 12-bit airborne-position field has no M bit, unlike the 13-bit AC13
	// field DecodeID13Field expects, so a zero bit is reinserted at the M
	// position (bit 6) before decoding.
	id13 := ((uint32(code) & 0x0FC0) << 1) | (uint32(code) & 0x003F)
	hundredFt, ok := gillham.ModeAToModeC(gillham.DecodeID13Field(int32(id13)))
	if !ok {
		return 0, false
	}
	return hundredFt * 100, true
}

func decodeAirbornePosition(typeCode byte, me [7]byte) (Message, error) {
	altType := AltitudeBarometric
	if typeCode >= 20 && typeCode <= 22 {
		altType = AltitudeGNSS
	}

	surveillance := (me[0] >> 1) & 0x03
	singleAntenna := me[0]&0x01 != 0

	altCode := (uint16(me[1]) << 4) | (uint16(me[2]) >> 4)
	altFt, altValid := decodeAltitude12(altCode)

	timeBit := me[2]&0x08 != 0
	format := cpr.FromBit(me[2]&0x04 != 0)
	lat := cpr.NewValue((uint32(me[2]&0x03) << 15) | (uint32(me[3]) << 7) | (uint32(me[4]) >> 1))
	lon := cpr.NewValue((uint32(me[4]&0x01) << 16) | (uint32(me[5]) << 8) | uint32(me[6]))

	return AirbornePosition{
		Type:               typeCode,
		AltitudeType:       altType,
		SurveillanceStatus: surveillance,
		SingleAntenna:      singleAntenna,
		AltitudeFt:         altFt,
		AltitudeValid:      altValid,
		Time:               timeBit,
		CPRFormat:          format,
		CPRLat:             lat,
		CPRLon:             lon,
	}, nil
}

// AirborneVelocity is ADS-B type code 19, subtypes 1-4.
type AirborneVelocity struct {
	Subtype          byte
	IntentChange     bool
	IFRCapability    bool
	NACv             byte
	GroundSpeed      bool // subtypes 1/2: EastWest/NorthSouth valid
	EastVelocity     int32
	WestBound        bool
	NorthVelocity    int32
	SouthBound       bool
	Airspeed         bool // subtypes 3/4: Heading/Airspeed valid
	HeadingValid     bool
	Heading          float64
	AirspeedIsTrue   bool
	AirspeedKt       int32
	VerticalSource   string // "baro" or "gnss"
	VerticalRateSign int
	VerticalRateFpm  int32
	VerticalRateOK   bool
	GNSSBaroDiffSign int
	GNSSBaroDiffFt   int32
	GNSSBaroDiffOK   bool
}

func (m AirborneVelocity) TypeCode() byte { return 19 }

func decodeAirborneVelocity(me [7]byte) (Message, error) {
	subtype := me[0] & 0x07
	intentChange := me[1]&0x80 != 0
	ifrCap := me[1]&0x40 != 0
	nacV := (me[1] >> 3) & 0x07

	out := AirborneVelocity{
		Subtype:       subtype,
		IntentChange:  intentChange,
		IFRCapability: ifrCap,
		NACv:          nacV,
	}

	switch subtype {
	case 1, 2:
		out.GroundSpeed = true
		westBound := me[1]&0x04 != 0
		ew := (uint16(me[1]&0x03) << 8) | uint16(me[2])
		southBound := me[3]&0x80 != 0
		ns := (uint16(me[3]&0x7F) << 3) | uint16(me[4]>>5)
		mul := int32(1)
		if subtype == 2 {
			mul = 4
		}
		out.WestBound = westBound
		out.SouthBound = southBound
		if ew > 0 {
			out.EastVelocity = (int32(ew) - 1) * mul
		}
		if ns > 0 {
			out.NorthVelocity = (int32(ns) - 1) * mul
		}
	case 3, 4:
		out.Airspeed = true
		out.HeadingValid = me[1]&0x04 != 0
		heading := (uint16(me[1]&0x03) << 8) | uint16(me[2])
		out.Heading = float64(heading) * 360.0 / 1024.0
		out.AirspeedIsTrue = me[3]&0x80 != 0
		as := (uint16(me[3]&0x7F) << 3) | uint16(me[4]>>5)
		mul := int32(1)
		if subtype == 4 {
			mul = 4
		}
		if as > 0 {
			out.AirspeedKt = (int32(as) - 1) * mul
		}
	default:
		return nil, fmt.Errorf("adsb: airborne velocity: invalid subtype %d", subtype)
	}

	if me[4]&0x10 != 0 {
		out.VerticalSource = "gnss"
	} else {
		out.VerticalSource = "baro"
	}
	vrSign := 1
	if me[4]&0x08 != 0 {
		vrSign = -1
	}
	vr := (uint16(me[4]&0x07) << 6) | uint16(me[5]>>2)
	out.VerticalRateSign = vrSign
	if vr > 0 {
		out.VerticalRateOK = true
		out.VerticalRateFpm = int32(vrSign) * (int32(vr) - 1) * 64
	}

	diffSign := 1
	if me[6]&0x80 != 0 {
		diffSign = -1
	}
	diff := me[6] & 0x7F
	out.GNSSBaroDiffSign = diffSign
	if diff > 0 {
		out.GNSSBaroDiffOK = true
		out.GNSSBaroDiffFt = int32(diffSign) * (int32(diff) - 1) * 25
	}

	return out, nil
}

// AircraftStatus is ADS-B type code 28.
type AircraftStatus struct {
	Subtype byte

	// Subtype 1.
	EmergencyPriority byte
	Squawk            ident.Squawk
	SquawkValid       bool

	// Subtype 2.
	ActiveRA     uint16
	RAC          byte
	RATerminated bool
	MultipleRA   bool
	ThreatType   byte
	ThreatID     uint32
}

func (m AircraftStatus) TypeCode() byte { return 28 }

func decodeAircraftStatus(me [7]byte) (Message, error) {
	subtype := me[0] & 0x07
	switch subtype {
	case 1:
		emergency := me[1] >> 5
		id13 := (int32(me[1]&0x1F) << 8) | int32(me[2])
		h := gillham.DecodeID13Field(id13)
		squawkVal := ((h>>12)&7)<<9 | ((h>>8)&7)<<6 | ((h>>4)&7)<<3 | (h & 7)
		return AircraftStatus{
			Subtype:           subtype,
			EmergencyPriority: emergency,
			Squawk:            ident.NewSquawk(uint16(squawkVal)),
			SquawkValid:       true,
		}, nil
	case 2:
		activeRA := (uint16(me[1]) << 6) | uint16(me[2]>>2)
		rac := ((me[2] & 0x03) << 2) | (me[3] >> 6)
		raTerminated := me[3]&0x20 != 0
		multipleRA := me[3]&0x10 != 0
		threatType := (me[3] >> 2) & 0x03
		threatID := (uint32(me[3]&0x03) << 24) | (uint32(me[4]) << 16) | (uint32(me[5]) << 8) | uint32(me[6])
		return AircraftStatus{
			Subtype:      subtype,
			ActiveRA:     activeRA,
			RAC:          rac,
			RATerminated: raTerminated,
			MultipleRA:   multipleRA,
			ThreatType:   threatType,
			ThreatID:     threatID,
		}, nil
	default:
		return Reserved{Type: 28, Subtype: subtype, Payload: me}, nil
	}
}

// OperationalStatus is ADS-B type code 31.
type OperationalStatus struct {
	Subtype        byte
	MOPSVersion    byte
	NICSupplementA bool
	NACp           byte
	SIL            byte
	BaroNIC        bool
	HRD            bool
	SILSupplement  bool
}

func (m OperationalStatus) TypeCode() byte { return 31 }

func decodeOperationalStatus(me [7]byte) (Message, error) {
	subtype := me[0] & 0x07
	mopsVersion := (me[5] >> 5) & 0x07
	nicA := me[5]&0x10 != 0
	nacp := me[5] & 0x0F
	sil := (me[6] >> 4) & 0x03
	baroNIC := me[6]&0x08 != 0
	hrd := me[6]&0x04 != 0
	silSupp := me[6]&0x02 != 0
	return OperationalStatus{
		Subtype:        subtype,
		MOPSVersion:    mopsVersion,
		NICSupplementA: nicA,
		NACp:           nacp,
		SIL:            sil,
		BaroNIC:        baroNIC,
		HRD:            hrd,
		SILSupplement:  silSupp,
	}, nil
}

// Reserved preserves a message whose type code is either explicitly out of
// core scope (target-state/status, trajectory-change, test, surface-system)
// or genuinely unassigned, carrying enough tags to identify it later without
// losing the raw payload.
type Reserved struct {
	Type    byte
	Subtype byte
	Payload [7]byte
}

func (m Reserved) TypeCode() byte { return m.Type }

// Decode dispatches a 56-bit (7-byte) ME payload to its message variant by
// its leading 5-bit type code.
func Decode(me [7]byte) (Message, error) {
	typeCode := me[0] >> 3
	switch {
	case typeCode >= 1 && typeCode <= 4:
		return decodeAircraftIdentification(typeCode, me)
	case typeCode >= 5 && typeCode <= 8:
		return decodeSurfacePosition(typeCode, me)
	case typeCode == 0 || (typeCode >= 9 && typeCode <= 18) || (typeCode >= 20 && typeCode <= 22):
		return decodeAirbornePosition(typeCode, me)
	case typeCode == 19:
		return decodeAirborneVelocity(me)
	case typeCode == 28:
		return decodeAircraftStatus(me)
	case typeCode == 31:
		return decodeOperationalStatus(me)
	default:
		return Reserved{Type: typeCode, Subtype: me[0] & 0x07, Payload: me}, nil
	}
}
