// Package beastsrc is a standalone BEAST TCP ingest listener: it accepts
// connections, frames the byte stream with the same escape/type state
// machine as lib/producer's BEAST path, and pushes each packet straight into
// a tracker.Tracker via PushBeast rather than going through a
// tracker.Producer/FrameEvent channel. It exists for deployments that want a
// dedicated receiver listener (one per physical antenna feed, tagged with
// its own source id) sitting directly in front of the tracker.
package beastsrc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/tracker"
)

const (
	escape        = 0x1A
	typeModeAC     = 0x31
	typeModeSShort = 0x32
	typeModeSLong  = 0x33
)

var errResync = errors.New("beastsrc: resync")

// Listener accepts BEAST TCP connections and pushes decoded packets to a
// tracker.Tracker under sourceTag.
type Listener struct {
	log       zerolog.Logger
	tracker   *tracker.Tracker
	sourceTag string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Listener that pushes packets to t under sourceTag.
func New(t *tracker.Tracker, sourceTag string) *Listener {
	return &Listener{
		tracker:   t,
		sourceTag: sourceTag,
		log:       log.With().Str("source", sourceTag).Str("component", "beastsrc").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled or Stop is called.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		select {
		case <-ctx.Done():
		case <-l.stopCh:
		}
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.done(ctx) {
				return nil
			}
			return err
		}
		go l.handleConn(ctx, conn)
	}
}

// Stop requests a graceful shutdown. Safe to call multiple times.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Listener) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		select {
		case <-ctx.Done():
		case <-l.stopCh:
		}
		_ = conn.Close()
	}()

	receivedAt := time.Now
	br := bufio.NewReaderSize(conn, 4096)
	for {
		if l.done(ctx) {
			return
		}
		packet, err := readPacket(br)
		if err != nil {
			if errors.Is(err, errResync) {
				continue
			}
			if err != io.EOF {
				l.log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("beastsrc: read error")
			}
			return
		}
		if err := l.tracker.PushBeast(l.sourceTag, receivedAt(), packet); err != nil {
			l.log.Debug().Err(err).Msg("beastsrc: packet rejected")
		}
	}
}

// readPacket resyncs to the next escape+type header and reads one
// de-stuffed packet's worth of raw (still escape-stuffed) bytes, treating a
// doubled escape pair as a single destuffed payload byte.
func readPacket(br *bufio.Reader) ([]byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == escape {
			break
		}
	}
	typeByte, err := br.ReadByte()
	if err != nil {
		return nil, err
	}

	var bodyLen int
	switch typeByte {
	case typeModeAC:
		bodyLen = 2
	case typeModeSShort:
		bodyLen = 7
	case typeModeSLong:
		bodyLen = 14
	default:
		return nil, errResync
	}
	need := 7 + bodyLen // 6-byte MLAT timestamp + 1-byte signal level + body

	raw := []byte{escape, typeByte}
	got := 0
	for got < need {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
		if b == escape {
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
