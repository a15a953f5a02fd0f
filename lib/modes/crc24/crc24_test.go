package crc24

import "testing"

func TestChecksumOverSelfTrailerIsZero(t *testing.T) {
	// A pure-parity DF11 frame: CRC of the full 7 bytes (body + trailer) is
	// zero when uncorrupted, since the trailer is exactly the CRC of the body.
	body := []byte{0x5d, 0x4c, 0xa2, 0x1f, 0x00, 0x00}
	trailer := Checksum(body)
	frame := append(append([]byte{}, body...),
		byte(trailer>>16), byte(trailer>>8), byte(trailer))
	if got := Checksum(frame); got != 0 {
		t.Fatalf("expected zero CRC over self-trailered frame, got %#06x", got)
	}
}

func TestRemainderMatchesWhenUncorrupted(t *testing.T) {
	body := []byte{0x8d, 0x48, 0x40, 0xd6, 0x20, 0x2c, 0xc3, 0x71, 0xc3, 0x2c, 0xe0, 0x57}
	trailer := Checksum(body)
	frame := append(append([]byte{}, body...),
		byte(trailer>>16), byte(trailer>>8), byte(trailer))
	if got := Remainder(frame); got != 0 {
		t.Fatalf("expected zero remainder, got %#06x", got)
	}
}

func TestRemainderDetectsSingleBitFlip(t *testing.T) {
	body := []byte{0x8d, 0x48, 0x40, 0xd6, 0x20, 0x2c, 0xc3, 0x71, 0xc3, 0x2c, 0xe0, 0x57}
	trailer := Checksum(body)
	frame := append(append([]byte{}, body...),
		byte(trailer>>16), byte(trailer>>8), byte(trailer))
	frame[0] ^= 0x01
	if got := Remainder(frame); got == 0 {
		t.Fatalf("expected nonzero remainder after corrupting a bit")
	}
}

func TestDigestIncrementalMatchesOneShot(t *testing.T) {
	buf := []byte{0x90, 0x00, 0x12, 0x34, 0x56, 0x78, 0x9a}
	var d Digest
	_, _ = d.Write(buf[:3])
	_, _ = d.Write(buf[3:])
	if got, want := d.Sum24(), Checksum(buf); got != want {
		t.Fatalf("incremental digest %#06x != one-shot %#06x", got, want)
	}
}

func TestReset(t *testing.T) {
	var d Digest
	_, _ = d.Write([]byte{0xff, 0xff, 0xff})
	d.Reset()
	if d.Sum24() != 0 {
		t.Fatalf("expected zero digest after reset")
	}
}
