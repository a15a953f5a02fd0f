// Package rtlsdr drives an RTL-SDR tuner, publishing raw IQ samples
// into an iqqueue for consumption by the demodulator, and serializing the
// slow libusb control operations (set frequency, set gain, ...) through a
// single control-thread goroutine shared by every open device, the way the
// underlying C driver needs them serialized across USB transfers.
package rtlsdr

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/plane-watch/pw-ingest/lib/rtlsdr/iqqueue"
)

// TunerGainMode selects automatic or manual tuner gain control.
type TunerGainMode int

const (
	GainModeAuto TunerGainMode = iota
	GainModeManual
)

// Gain selects a tuner gain either by nearest supported value, by index into
// the device's supported-gains list, or automatically.
type Gain struct {
	Mode  TunerGainMode
	Value int32 // tenths of a dB, used when Mode is GainModeManual and Index < 0
	Index int   // index into SupportedGains, used when >= 0
}

// AutoGain requests the tuner's automatic gain control.
var AutoGain = Gain{Mode: GainModeAuto, Index: -1}

// ManualGain requests the closest supported gain to value (tenths of a dB).
func ManualGain(value int32) Gain { return Gain{Mode: GainModeManual, Value: value, Index: -1} }

// ManualGainIndex selects a supported gain by index.
func ManualGainIndex(index int) Gain { return Gain{Mode: GainModeManual, Index: index} }

// Device is the control surface a tuner (real hardware or a fake used in
// tests, or an rtltcp.Client) must satisfy.
type Device interface {
	CenterFrequency() uint32
	SetCenterFrequency(ctx context.Context, hz uint32) error

	SampleRate() uint32
	SetSampleRate(ctx context.Context, hz uint32) error

	SupportedGains() []int32
	TunerGain() int32
	SetTunerGain(ctx context.Context, gain Gain) error

	SetTunerIFGain(ctx context.Context, stage int, gain int32) error
	SetTunerBandwidth(ctx context.Context, hz uint32) error
	SetAGCMode(ctx context.Context, enable bool) error
	SetFrequencyCorrection(ctx context.Context, ppm int) error
	SetOffsetTuning(ctx context.Context, enable bool) error
	SetBiasTee(ctx context.Context, enable bool) error

	// Stream publishes raw IQ samples into sender until ctx is
	// cancelled or a read error occurs.
	Stream(ctx context.Context, sender *iqqueue.Sender, bufferSize int) error

	Close() error
}

// command is the control-thread request sum type, mirroring the teacher's
// single shared control queue: every slow libusb call for every open device
// is serialized through one goroutine so overlapping set_center_freq calls
// from different devices never race on the USB bus.
type command struct {
	run  func() error
	done chan error
}

var (
	controlOnce  sync.Once
	controlQueue chan command
)

const controlQueueSize = 128

func controlSender() chan command {
	controlOnce.Do(func() {
		controlQueue = make(chan command, controlQueueSize)
		go controlThread(controlQueue)
	})
	return controlQueue
}

func controlThread(queue chan command) {
	for cmd := range queue {
		cmd.done <- cmd.run()
	}
	log.Warn().Msg("rtlsdr: control thread terminating")
}

// doControl submits run to the shared control thread and waits for it to
// finish or ctx to be cancelled.
func doControl(ctx context.Context, run func() error) error {
	cmd := command{run: run, done: make(chan error, 1)}
	select {
	case controlSender() <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nearestSupportedGain picks the supported gain value closest to target.
func nearestSupportedGain(supported []int32, target int32) (int32, error) {
	if len(supported) == 0 {
		return 0, fmt.Errorf("rtlsdr: no supported gain values reported")
	}
	best := supported[0]
	bestDiff := abs32(best - target)
	for _, g := range supported[1:] {
		if d := abs32(g - target); d < bestDiff {
			best, bestDiff = g, d
		}
	}
	return best, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// resolveGain turns a by-index or by-value manual Gain request into a
// concrete supported gain value.
func resolveGain(supported []int32, gain Gain) (int32, error) {
	if gain.Index >= 0 {
		if gain.Index >= len(supported) {
			return 0, fmt.Errorf("rtlsdr: gain index %d out of range (have %d)", gain.Index, len(supported))
		}
		return supported[gain.Index], nil
	}
	return nearestSupportedGain(supported, gain.Value)
}
