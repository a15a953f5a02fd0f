// Package demod turns a stream of 8-bit I/Q samples at 2 MHz into raw Mode
// S short and Mode S long frames (Mode A/C replies are not demodulated),
// the way a dump1090-family
// software demodulator does it: magnitude lookup table, 16-sample preamble
// correlation, then a Manchester-style bit decision per 2-sample cell.
package demod

import "errors"

// SampleRate is the fixed IQ sample rate this demodulator expects, 2
// samples per Mode S bit-cell microsecond.
const SampleRate = 2_000_000

// DownlinkFrequency is the Mode S 1090ES downlink frequency in Hz.
const DownlinkFrequency = 1_090_000_000

const preambleSamples = 16

// magnitudeTable maps a raw (I, Q) byte pair to its magnitude about the
// 128 centre point. Precomputed once so the hot demodulation
// path never calls math.Sqrt.
var magnitudeTable [256][256]uint16

func init() {
	for i := 0; i < 256; i++ {
		for q := 0; q < 256; q++ {
			di := float64(i) - 128
			dq := float64(q) - 128
			mag := di*di + dq*dq
			magnitudeTable[i][q] = uint16(isqrt(mag) * 1.414)
		}
	}
}

// isqrt approximates sqrt via Newton's method, avoiding a math.Sqrt import
// for what is otherwise a pure integer lookup table build.
func isqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// MagnitudeOfSamplesInPlace returns the magnitude of each interleaved (I, Q)
// byte pair in iq as a newly allocated []uint16, one entry per sample pair;
// iq itself is left unchanged.
func MagnitudeOfSamplesInPlace(iq []byte) []uint16 {
	n := len(iq) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = magnitudeTable[iq[2*i]][iq[2*i+1]]
	}
	return out
}

// Quality controls how strictly a bit decision is cross-checked against its
// neighbouring samples before being accepted.
type Quality int

const (
	NoChecks Quality = iota
	HalfBit
	OneBit
	TwoBits
)

// FrameKind distinguishes the three frame shapes a Mode S/Mode A/C
// downlink reply can take.
type FrameKind int

const (
	ModeAC FrameKind = iota
	ModeSShort
	ModeSLong
)

// Frame is one demodulated reply, still raw bytes — CRC/downlink-format
// decoding happens in lib/tracker/mode_s, not here.
type Frame struct {
	Kind FrameKind
	Data []byte
}

var errNotEnoughSamples = errors.New("demod: not enough samples")
var errInvalidFrame = errors.New("demod: invalid frame")

// Cursor is a read position into a shared magnitude buffer, advanced as
// bits and bytes are consumed.
type Cursor struct {
	Samples  []uint16
	Position int
}

func (c *Cursor) remaining() []uint16 { return c.Samples[c.Position:] }
func (c *Cursor) advance(n int)       { c.Position += n }

// Demodulator holds per-stream bit-error-tolerance state across calls to
// Next; it is not safe for concurrent use.
type Demodulator struct {
	quality   Quality
	maxErrors int
	numErrors int
}

// New builds a Demodulator with the given bit-decision strictness and the
// number of soft bit errors tolerated per frame before it is abandoned.
func New(quality Quality, maxErrors int) *Demodulator {
	return &Demodulator{quality: quality, maxErrors: maxErrors}
}

// Next searches forward from cursor for a preamble and attempts to read a
// complete frame starting there. On success it advances cursor past the
// frame and returns it. On "not enough samples" it leaves cursor at the
// preamble start so the caller can retry once more samples arrive. Returns
// false if no preamble is found at all in the remaining buffer.
func (d *Demodulator) Next(cursor *Cursor) (Frame, bool) {
	for findPreamble(cursor) {
		frameCursor := *cursor
		frame, err := d.readFrame(&frameCursor)
		if err == nil {
			cursor.Position = frameCursor.Position
			return frame, true
		}
		if errors.Is(err, errNotEnoughSamples) {
			cursor.Position -= preambleSamples
			return Frame{}, false
		}
		// errInvalidFrame: keep searching from one sample past the failed
		// preamble's start.
		cursor.Position -= preambleSamples - 1
	}
	return Frame{}, false
}

func (d *Demodulator) readFrame(cursor *Cursor) (Frame, error) {
	d.numErrors = 0

	firstByte, err := d.readByte(cursor)
	if err != nil {
		return Frame{}, err
	}

	if firstByte&0x80 == 0 {
		data, err := d.readFrameRest(firstByte, cursor, 7)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: ModeSShort, Data: data}, nil
	}
	data, err := d.readFrameRest(firstByte, cursor, 14)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: ModeSLong, Data: data}, nil
}

func (d *Demodulator) readFrameRest(firstByte byte, cursor *Cursor, n int) ([]byte, error) {
	data := make([]byte, n)
	data[0] = firstByte
	for i := 1; i < n; i++ {
		b, err := d.readByte(cursor)
		if err != nil {
			return nil, err
		}
		data[i] = b
	}
	return data, nil
}

func (d *Demodulator) readByte(cursor *Cursor) (byte, error) {
	if len(cursor.remaining()) < 2*8 {
		return 0, errNotEnoughSamples
	}
	var b byte
	for i := 0; i < 8; i++ {
		b <<= 1
		bit, err := d.readBit(cursor)
		if err != nil {
			d.numErrors++
			if d.numErrors > d.maxErrors {
				return 0, errInvalidFrame
			}
			// accept the raw (unchecked) bit value despite the failed check
		}
		if bit {
			b |= 1
		}
	}
	return b, nil
}

// readBit decodes one 2-sample bit cell, returning the raw comparison
// result and an error if the configured Quality's cross-check against
// neighbouring samples fails (the bit value is still returned on error so
// the caller can accept it as a soft error).
func (d *Demodulator) readBit(cursor *Cursor) (bool, error) {
	a := cursor.Samples[cursor.Position-2]
	b := cursor.Samples[cursor.Position-1]
	c := cursor.Samples[cursor.Position]
	e := cursor.Samples[cursor.Position+1]
	cursor.advance(2)

	bitPrev := a > b
	bit := c > e

	switch d.quality {
	case NoChecks:
		return bit, nil
	case HalfBit:
		if bit && bitPrev && b > c {
			return bit, errInvalidFrame
		}
		if !bit && !bitPrev && b < c {
			return bit, errInvalidFrame
		}
		return bit, nil
	case OneBit:
		switch {
		case bit && bitPrev && c > b:
			return true, nil
		case bit && !bitPrev && e < b:
			return true, nil
		case !bit && bitPrev && e > b:
			return false, nil
		case !bit && !bitPrev && c < b:
			return false, nil
		default:
			return bit, errInvalidFrame
		}
	case TwoBits:
		switch {
		case bit && bitPrev && c > b && e < a:
			return true, nil
		case bit && !bitPrev && c > a && e < b:
			return true, nil
		case !bit && bitPrev && c < a && e > b:
			return false, nil
		case !bit && !bitPrev && c < b && e > a:
			return false, nil
		default:
			return bit, errInvalidFrame
		}
	}
	return bit, nil
}

// isPreamble checks the 16-sample pattern: high samples at 0, 2, 7, 9, low
// everywhere else, every high sample strictly exceeding the adjacent low.
func isPreamble(samples []uint16) bool {
	var low, high uint16
	high = 0xFFFF
	for i := 0; i < preambleSamples; i++ {
		switch i {
		case 0, 2, 7, 9:
			high = samples[i]
		default:
			low = samples[i]
		}
		if high <= low {
			return false
		}
	}
	return true
}

func findPreamble(cursor *Cursor) bool {
	for {
		remaining := cursor.remaining()
		if len(remaining) < preambleSamples {
			return false
		}
		if isPreamble(remaining) {
			cursor.advance(preambleSamples)
			return true
		}
		cursor.advance(1)
	}
}
