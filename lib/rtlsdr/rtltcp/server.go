package rtltcp

import (
	"bufio"
	"context"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/rtlsdr"
	"github.com/plane-watch/pw-ingest/lib/rtlsdr/iqqueue"
)

// Server exposes a local rtlsdr.Device over the rtl_tcp wire protocol,
// accepting any number of concurrent clients, each getting its own
// iqqueue.Receiver off a shared Subscriber so every client sees the same
// IQ stream.
type Server struct {
	device     rtlsdr.Device
	subscriber *iqqueue.Subscriber
	dongleInfo DongleInfo
}

// NewServer wraps device for serving over rtl_tcp. subscriber is shared with
// whatever is already consuming device's Stream locally (e.g. the
// demodulator), so the tuner is only ever read once regardless of how many
// rtl_tcp clients attach.
func NewServer(device rtlsdr.Device, subscriber *iqqueue.Subscriber, tunerType TunerType) *Server {
	return &Server{
		device:     device,
		subscriber: subscriber,
		dongleInfo: DongleInfo{TunerType: tunerType, TunerGains: uint32(len(device.SupportedGains()))},
	}
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()
	log.Info().Str("client", addr).Msg("rtltcp: client connected")

	if _, err := conn.Write(EncodeHeader(s.dongleInfo)); err != nil {
		log.Error().Err(err).Str("client", addr).Msg("rtltcp: writing header")
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.readCommands(connCtx, conn, addr)

	receiver := s.subscriber.Receiver()
	defer receiver.Close()

	writer := bufio.NewWriterSize(conn, readBufferSize)
	for {
		buf, lagged, ok, err := receiver.Next(connCtx)
		if !ok || err != nil {
			log.Info().Str("client", addr).Msg("rtltcp: client stream ended")
			return
		}
		if lagged > 0 {
			log.Warn().Str("client", addr).Int("lagged", lagged).Msg("rtltcp: client fell behind")
		}
		if _, err := writer.Write(buf.Filled()); err != nil {
			log.Error().Err(err).Str("client", addr).Msg("rtltcp: writing samples")
			return
		}
		if err := writer.Flush(); err != nil {
			log.Error().Err(err).Str("client", addr).Msg("rtltcp: flushing samples")
			return
		}
	}
}

func (s *Server) readCommands(ctx context.Context, conn net.Conn, addr string) {
	reader := bufio.NewReaderSize(conn, CommandLength*32)
	buf := make([]byte, CommandLength)
	for {
		if _, err := ioReadFull(reader, buf); err != nil {
			return
		}
		cmd, err := DecodeCommand(buf)
		if err != nil {
			log.Warn().Err(err).Str("client", addr).Msg("rtltcp: invalid command")
			continue
		}
		if err := s.apply(ctx, cmd); err != nil {
			log.Error().Err(err).Str("client", addr).Msg("rtltcp: applying command")
		}
	}
}

// apply dispatches a decoded client command to the wrapped Device, mirroring
// rtl_tcp's own command-application switch.
func (s *Server) apply(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CmdSetCenterFrequency:
		return s.device.SetCenterFrequency(ctx, cmd.UInt32)
	case CmdSetSampleRate:
		return s.device.SetSampleRate(ctx, cmd.UInt32)
	case CmdSetTunerGainMode:
		if !cmd.Bool {
			return s.device.SetTunerGain(ctx, rtlsdr.AutoGain)
		}
		return nil // manual mode takes effect on the next SetTunerGain/ByIndex command
	case CmdSetTunerGain:
		return s.device.SetTunerGain(ctx, rtlsdr.ManualGain(cmd.Int32))
	case CmdSetFrequencyCorrection:
		return s.device.SetFrequencyCorrection(ctx, int(cmd.Int32))
	case CmdSetTunerIFGain:
		return s.device.SetTunerIFGain(ctx, int(cmd.Stage), int32(cmd.Gain))
	case CmdSetAGCMode:
		return s.device.SetAGCMode(ctx, cmd.Bool)
	case CmdSetOffsetTuning:
		return s.device.SetOffsetTuning(ctx, cmd.Bool)
	case CmdSetTunerGainByIndex:
		return s.device.SetTunerGain(ctx, rtlsdr.ManualGainIndex(int(cmd.UInt32)))
	case CmdSetBiasTee:
		return s.device.SetBiasTee(ctx, cmd.Bool)
	case CmdSetTestMode, CmdSetDirectSampling, CmdSetRTLXtal, CmdSetTunerXtal:
		// not exposed by rtlsdr.Device; accepted and ignored like upstream
		// rtl_tcp does for unsupported tuners.
		return nil
	}
	return nil
}
