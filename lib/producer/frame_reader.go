package producer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/plane-watch/pw-ingest/lib/rtlsdr/demod"
	"github.com/plane-watch/pw-ingest/lib/rtlsdr/iqqueue"
	"github.com/plane-watch/pw-ingest/lib/rtlsdr/rtltcp"
	"github.com/plane-watch/pw-ingest/lib/tracker"
	"github.com/plane-watch/pw-ingest/lib/tracker/beast"
	"github.com/plane-watch/pw-ingest/lib/tracker/mode_s"
	"github.com/plane-watch/pw-ingest/lib/tracker/sbs1"
)

// readAvr decodes one AVR-format (`*8D...;` / `@<mlat>8D...;`) line per
// record from r until EOF.
func (p *Producer) readAvr(ctx context.Context, r io.Reader, out chan<- *tracker.FrameEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		if p.done(ctx) {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		f, err := mode_s.DecodeString(line, time.Now())
		if err != nil {
			if !errors.Is(err, mode_s.ErrNoOp) {
				p.log.Debug().Err(err).Str("line", line).Msg("producer: avr decode failed")
			}
			continue
		}
		if p.counterAvr != nil {
			p.counterAvr.Inc()
		}
		p.emit(out, f)
	}
	if err := scanner.Err(); err != nil {
		p.log.Error().Err(err).Msg("producer: avr stream read error")
	}
}

// beast packet-type bytes, mirrored from package beast (unexported there).
const (
	beastEscape        = 0x1A
	beastTypeModeAC     = 0x31
	beastTypeModeSShort = 0x32
	beastTypeModeSLong  = 0x33
)

var errBeastResync = errors.New("producer: beast resync")

// readOneBeastPacket resyncs to the next escape+type header and reads
// exactly one de-stuffed packet's worth of raw (still-stuffed) bytes,
// counting a doubled escape pair as a single destuffed payload byte.
func readOneBeastPacket(br *bufio.Reader) ([]byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == beastEscape {
			break
		}
	}
	typeByte, err := br.ReadByte()
	if err != nil {
		return nil, err
	}

	var want int
	switch typeByte {
	case beastTypeModeAC:
		want = 2
	case beastTypeModeSShort:
		want = 7
	case beastTypeModeSLong:
		want = 14
	default:
		return nil, errBeastResync
	}
	need := 7 + want

	raw := []byte{beastEscape, typeByte}
	got := 0
	for got < need {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
		if b == beastEscape {
			nb, err := br.ReadByte()
			if err != nil {
				return nil, err
			}
			raw = append(raw, nb)
		}
		got++
	}
	return raw, nil
}

// readBeast decodes a continuous BEAST byte stream, resyncing past garbage
// (a preamble glitch, a dropped byte) rather than aborting the connection.
func (p *Producer) readBeast(ctx context.Context, r io.Reader, out chan<- *tracker.FrameEvent) {
	br := bufio.NewReaderSize(r, 4096)
	for {
		if p.done(ctx) {
			return
		}
		raw, err := readOneBeastPacket(br)
		if err != nil {
			if errors.Is(err, errBeastResync) {
				continue
			}
			if err != io.EOF {
				p.log.Error().Err(err).Msg("producer: beast stream read error")
			}
			return
		}

		f, err := beast.NewFrame(raw, false)
		if err != nil {
			p.log.Debug().Err(err).Msg("producer: beast frame rejected")
			continue
		}
		if err := f.Decode(); err != nil {
			p.log.Debug().Err(err).Msg("producer: beast decode failed")
			continue
		}
		if p.counterBeast != nil {
			p.counterBeast.Inc()
		}
		p.emit(out, f)
	}
}

// readRtlsdr streams IQ samples from the configured device through an
// iqqueue and the demodulator, emitting one FrameEvent per demodulated Mode
// S reply. Unlike the text/binary readers this owns its own buffer queue:
// the device publishes into a Sender in a background goroutine while this
// goroutine consumes a Receiver off the matching Subscriber.
func (p *Producer) readRtlsdr(ctx context.Context, out chan<- *tracker.FrameEvent) {
	device := p.rtlsdrDevice
	if device == nil {
		if p.host == "" {
			p.log.Error().Msg("producer: rtlsdr producer configured without a device or rtl_tcp address")
			return
		}
		addr := net.JoinHostPort(p.host, p.port)
		client, err := rtltcp.Connect(ctx, addr)
		if err != nil {
			p.log.Error().Err(err).Str("addr", addr).Msg("producer: could not connect to rtl_tcp server")
			return
		}
		defer client.Close()
		device = client
	}

	sender, subscriber := iqqueue.New(p.rtlsdrQueueDepth())
	receiver := subscriber.Receiver()
	subscriber.Close()
	defer receiver.Close()

	go func() {
		if err := device.Stream(ctx, sender, p.rtlsdrBufferSize()); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("producer: rtlsdr stream ended")
		}
	}()

	demodulator := demod.New(demod.OneBit, 2)
	var pending []uint16

	for {
		if p.done(ctx) {
			return
		}
		buf, lagged, ok, err := receiver.Next(ctx)
		if !ok || err != nil {
			if err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("producer: rtlsdr queue read failed")
			}
			return
		}
		if lagged > 0 {
			p.log.Warn().Int("lagged", lagged).Msg("producer: rtlsdr consumer fell behind")
		}

		pending = append(pending, demod.MagnitudeOfSamplesInPlace(buf.Filled())...)
		cursor := &demod.Cursor{Samples: pending}
		for {
			frame, ok := demodulator.Next(cursor)
			if !ok {
				break
			}
			f := mode_s.NewFrameFromBytes(frame.Data, time.Now())
			if err := f.Decode(); err != nil {
				p.log.Debug().Err(err).Msg("producer: rtlsdr frame decode failed")
				continue
			}
			if p.counterBeast != nil {
				p.counterBeast.Inc()
			}
			p.emit(out, f)
		}
		pending = append([]uint16{}, cursor.Samples[cursor.Position:]...)
	}
}

func (p *Producer) rtlsdrBufferSize() int {
	if p.rtlsdrBufSize > 0 {
		return p.rtlsdrBufSize
	}
	return 256 * 1024
}

func (p *Producer) rtlsdrQueueDepth() int {
	if p.rtlsdrQueueSize > 0 {
		return p.rtlsdrQueueSize
	}
	return 16
}

// readSbs1 decodes SBS1 text records, one per line, skipping blank
// heartbeat lines.
func (p *Producer) readSbs1(ctx context.Context, r io.Reader, out chan<- *tracker.FrameEvent) {
	reader := sbs1.NewReader(bufio.NewScanner(r))
	for {
		if p.done(ctx) {
			return
		}
		f, err := reader.Next()
		if err != nil {
			if err != io.EOF {
				p.log.Error().Err(err).Msg("producer: sbs1 stream read error")
			}
			return
		}
		if p.counterSbs1 != nil {
			p.counterSbs1.Inc()
		}
		p.emit(out, f)
	}
}
