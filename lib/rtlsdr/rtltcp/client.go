package rtltcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/plane-watch/pw-ingest/lib/rtlsdr"
	"github.com/plane-watch/pw-ingest/lib/rtlsdr/iqqueue"
)

const readBufferSize = 0x2000

// Client connects to an rtl_tcp server and satisfies rtlsdr.Device, so a
// remote tuner can be used anywhere a local one is accepted.
type Client struct {
	conn       net.Conn
	reader     *bufio.Reader
	writeMu    sync.Mutex
	dongleInfo DongleInfo

	mu         sync.Mutex
	centerFreq uint32
	sampleRate uint32
	gain       int32
}

// Connect dials an rtl_tcp server and reads its header.
func Connect(ctx context.Context, address string) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rtltcp: dial: %w", err)
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)
	header := make([]byte, HeaderLength)
	if _, err := ioReadFull(reader, header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtltcp: reading header: %w", err)
	}
	info, err := DecodeHeader(header)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{conn: conn, reader: reader, dongleInfo: info}, nil
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DongleInfo returns the tuner info reported by the server at connect time.
func (c *Client) DongleInfo() DongleInfo { return c.dongleInfo }

func (c *Client) sendCommand(cmd Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(EncodeCommand(cmd))
	return err
}

func (c *Client) CenterFrequency() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.centerFreq
}

func (c *Client) SetCenterFrequency(ctx context.Context, hz uint32) error {
	if err := c.sendCommand(Command{Kind: CmdSetCenterFrequency, UInt32: hz}); err != nil {
		return err
	}
	c.mu.Lock()
	c.centerFreq = hz
	c.mu.Unlock()
	return nil
}

func (c *Client) SampleRate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

func (c *Client) SetSampleRate(ctx context.Context, hz uint32) error {
	if err := c.sendCommand(Command{Kind: CmdSetSampleRate, UInt32: hz}); err != nil {
		return err
	}
	c.mu.Lock()
	c.sampleRate = hz
	c.mu.Unlock()
	return nil
}

// SupportedGains is not carried by the rtl_tcp wire protocol beyond a gain
// count in the header; the actual values aren't enumerated over the wire,
// so this reports none and callers should use ManualGainIndex sparingly.
func (c *Client) SupportedGains() []int32 { return nil }

func (c *Client) TunerGain() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

func (c *Client) SetTunerGain(ctx context.Context, gain rtlsdr.Gain) error {
	switch {
	case gain.Mode == rtlsdr.GainModeAuto:
		return c.sendCommand(Command{Kind: CmdSetTunerGainMode, Bool: false})
	case gain.Index >= 0:
		if err := c.sendCommand(Command{Kind: CmdSetTunerGainMode, Bool: true}); err != nil {
			return err
		}
		return c.sendCommand(Command{Kind: CmdSetTunerGainByIndex, UInt32: uint32(gain.Index)})
	default:
		if err := c.sendCommand(Command{Kind: CmdSetTunerGainMode, Bool: true}); err != nil {
			return err
		}
		c.mu.Lock()
		c.gain = gain.Value
		c.mu.Unlock()
		return c.sendCommand(Command{Kind: CmdSetTunerGain, Int32: gain.Value})
	}
}

func (c *Client) SetTunerIFGain(ctx context.Context, stage int, gain int32) error {
	return c.sendCommand(Command{Kind: CmdSetTunerIFGain, Stage: int16(stage), Gain: int16(gain)})
}

// SetTunerBandwidth has no rtl_tcp opcode upstream; the protocol predates
// bandwidth control, so this is a no-op returning nil.
func (c *Client) SetTunerBandwidth(ctx context.Context, hz uint32) error { return nil }

func (c *Client) SetAGCMode(ctx context.Context, enable bool) error {
	return c.sendCommand(Command{Kind: CmdSetAGCMode, Bool: enable})
}

func (c *Client) SetFrequencyCorrection(ctx context.Context, ppm int) error {
	return c.sendCommand(Command{Kind: CmdSetFrequencyCorrection, Int32: int32(ppm)})
}

func (c *Client) SetOffsetTuning(ctx context.Context, enable bool) error {
	return c.sendCommand(Command{Kind: CmdSetOffsetTuning, Bool: enable})
}

func (c *Client) SetBiasTee(ctx context.Context, enable bool) error {
	return c.sendCommand(Command{Kind: CmdSetBiasTee, Bool: enable})
}

// Stream reads raw bytes off the connection and publishes them into sender
// until the connection closes or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, sender *iqqueue.Sender, bufferSize int) error {
	var pushed *iqqueue.Buffer
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		buf, ok := sender.SwapBuffers(pushed, bufferSize, true)
		if !ok {
			sender.Close()
			return nil
		}
		n, err := ioReadFull(c.reader, buf.Bytes())
		if err != nil {
			errCh <- err
			sender.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("rtltcp: reading samples: %w", err)
			}
		}
		buf.SetFilled(n)
		pushed = buf
	}
}

func (c *Client) Close() error { return c.conn.Close() }

var _ rtlsdr.Device = (*Client)(nil)
