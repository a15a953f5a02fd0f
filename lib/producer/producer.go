// Package producer implements tracker.Producer for the three wire formats
// the pipeline accepts directly (AVR text, BEAST binary, SBS1 text), each
// reachable either by dialing out to a remote feed, listening for one to
// connect, or replaying a captured file. Construction follows the
// functional-options idiom used throughout this module.
package producer

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/rtlsdr"
	"github.com/plane-watch/pw-ingest/lib/tracker"
)

// Type selects the wire format a Producer decodes.
type Type int

const (
	Avr Type = iota
	Beast
	Sbs1
	Rtlsdr
)

func (t Type) String() string {
	switch t {
	case Avr:
		return "avr"
	case Beast:
		return "beast"
	case Sbs1:
		return "sbs1"
	case Rtlsdr:
		return "rtlsdr"
	default:
		return "unknown"
	}
}

// Producer reads one wire format from a network peer or file and emits
// tracker.FrameEvents.
type Producer struct {
	log zerolog.Logger

	sourceTag string
	kind      Type

	host, port string
	isListener bool
	isFetcher  bool

	files      []string
	beastDelay bool

	hasRef         bool
	refLat, refLon float64

	keepAliveRepeater bool

	rtlsdrDevice    rtlsdr.Device
	rtlsdrBufSize   int
	rtlsdrQueueSize int

	counterAvr, counterBeast, counterSbs1 prometheus.Counter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Producer at construction time.
type Option func(*Producer)

// WithSourceTag attaches a tag included on every FrameEvent produced,
// identifying which configured source it came from.
func WithSourceTag(tag string) Option {
	return func(p *Producer) { p.sourceTag = tag }
}

// WithType selects the wire format to decode.
func WithType(t Type) Option {
	return func(p *Producer) { p.kind = t }
}

// WithPrometheusCounters wires per-format frame counters, incremented once
// per successfully decoded frame.
func WithPrometheusCounters(avr, beast, sbs1 prometheus.Counter) Option {
	return func(p *Producer) {
		p.counterAvr, p.counterBeast, p.counterSbs1 = avr, beast, sbs1
	}
}

// WithReferenceLatLon supplies the surface/airborne CPR local-decode
// reference position, required to resolve an aircraft's first position fix
// before an even/odd global pair has been seen.
func WithReferenceLatLon(lat, lon float64) Option {
	return func(p *Producer) { p.hasRef, p.refLat, p.refLon = true, lat, lon }
}

// WithListener makes the Producer accept a single inbound TCP connection on
// host:port rather than dialing out.
func WithListener(host, port string) Option {
	return func(p *Producer) { p.host, p.port, p.isListener = host, port, true }
}

// WithFetcher makes the Producer dial host:port, reconnecting with backoff
// if the connection drops.
func WithFetcher(host, port string) Option {
	return func(p *Producer) { p.host, p.port, p.isFetcher = host, port, true }
}

// WithKeepAliveRepeater marks the Producer as a slow ADS-C-style feed
// (updates every ~30 minutes). The flag is only recorded: no reader acts on
// it, and nothing refreshes tracker state between updates.
func WithKeepAliveRepeater() Option {
	return func(p *Producer) { p.keepAliveRepeater = true }
}

// WithBeastDelay records a pacing flag for a file-replay Producer. No reader
// acts on it: replay always runs as fast as possible, without following the
// MLAT timestamp deltas between BEAST packets.
func WithBeastDelay(delay bool) Option {
	return func(p *Producer) { p.beastDelay = delay }
}

// WithFiles makes the Producer replay the named files instead of reading
// from the network.
func WithFiles(files []string) Option {
	return func(p *Producer) { p.files = append([]string{}, files...) }
}

// WithRtlsdrDevice makes the Producer demodulate IQ samples read from device
// instead of decoding a text/binary wire format.
func WithRtlsdrDevice(device rtlsdr.Device) Option {
	return func(p *Producer) { p.rtlsdrDevice = device }
}

// WithRtlsdrBufferSize overrides the default IQ buffer size (bytes) used
// when streaming from an rtlsdr.Device.
func WithRtlsdrBufferSize(bytes int) Option {
	return func(p *Producer) { p.rtlsdrBufSize = bytes }
}

// WithRtlsdrQueueDepth overrides the default number of in-flight IQ buffers
// kept by the iqqueue feeding the demodulator.
func WithRtlsdrQueueDepth(depth int) Option {
	return func(p *Producer) { p.rtlsdrQueueSize = depth }
}

// New builds a Producer from opts.
func New(opts ...Option) *Producer {
	p := &Producer{stopCh: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	p.log = log.With().Str("source", p.sourceTag).Str("type", p.kind.String()).Logger()
	return p
}

// String identifies the producer for logging, matching the tracker.Producer
// contract.
func (p *Producer) String() string {
	switch {
	case p.kind == Rtlsdr:
		return fmt.Sprintf("rtlsdr producer [%s]", p.sourceTag)
	case len(p.files) > 0:
		return fmt.Sprintf("%s file producer [%s] (%v)", p.kind, p.sourceTag, p.files)
	case p.isListener:
		return fmt.Sprintf("%s listen producer [%s] (%s:%s)", p.kind, p.sourceTag, p.host, p.port)
	default:
		return fmt.Sprintf("%s fetch producer [%s] (%s:%s)", p.kind, p.sourceTag, p.host, p.port)
	}
}

// Stop requests a graceful shutdown. Safe to call multiple times.
func (p *Producer) Stop() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	return nil
}

// Start begins emitting FrameEvents to out. Blocks until ctx is cancelled,
// Stop is called, or (for file sources) the files are exhausted.
func (p *Producer) Start(ctx context.Context, out chan<- *tracker.FrameEvent) error {
	if p.kind == Rtlsdr {
		p.readRtlsdr(ctx, out)
		return nil
	}
	if len(p.files) > 0 {
		return p.startFiles(ctx, out)
	}
	return p.startNetwork(ctx, out)
}

func (p *Producer) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Producer) startNetwork(ctx context.Context, out chan<- *tracker.FrameEvent) error {
	addr := net.JoinHostPort(p.host, p.port)

	if p.isListener {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("producer: listen %s: %w", addr, err)
		}
		go func() {
			<-p.stopCh
			_ = ln.Close()
		}()
		for !p.done(ctx) {
			conn, err := ln.Accept()
			if err != nil {
				if p.done(ctx) {
					return nil
				}
				p.log.Error().Err(err).Msg("producer: accept failed")
				continue
			}
			p.handleConn(ctx, conn, out)
		}
		return nil
	}

	backoff := time.Second
	for !p.done(ctx) {
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			p.log.Error().Err(err).Dur("backoff", backoff).Msg("producer: dial failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			case <-p.stopCh:
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		p.handleConn(ctx, conn, out)
	}
	return nil
}

func (p *Producer) handleConn(ctx context.Context, conn net.Conn, out chan<- *tracker.FrameEvent) {
	defer conn.Close()
	go func() {
		<-p.stopCh
		_ = conn.Close()
	}()

	switch p.kind {
	case Avr:
		p.readAvr(ctx, conn, out)
	case Beast:
		p.readBeast(ctx, conn, out)
	case Sbs1:
		p.readSbs1(ctx, conn, out)
	}
}

func (p *Producer) startFiles(ctx context.Context, out chan<- *tracker.FrameEvent) error {
	for _, path := range p.files {
		if p.done(ctx) {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("producer: open %s: %w", path, err)
		}
		switch p.kind {
		case Avr:
			p.readAvr(ctx, f, out)
		case Beast:
			p.readBeast(ctx, f, out)
		case Sbs1:
			p.readSbs1(ctx, f, out)
		}
		f.Close()
	}
	return nil
}

func (p *Producer) emit(out chan<- *tracker.FrameEvent, frame tracker.Frame) {
	fe := tracker.NewFrameEvent(frame, p.sourceTag, time.Now())
	if p.hasRef {
		fe.WithReference(p.refLat, p.refLon)
	}
	select {
	case out <- fe:
	case <-p.stopCh:
	}
}
