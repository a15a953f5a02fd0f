package rtlsdr

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/plane-watch/pw-ingest/lib/rtlsdr/iqqueue"
)

// FakeDevice is a software-only Device that never touches hardware,
// generating synthetic IQ noise on Stream. It exists so the producer and
// demodulator pipeline can be exercised and tested without an attached
// RTL-SDR dongle.
type FakeDevice struct {
	mu sync.Mutex

	centerFreq uint32
	sampleRate uint32
	gains      []int32
	gain       int32
	ifGains    map[int]int32
	bandwidth  uint32
	agc        bool
	ppm        int
	offsetTune bool
	biasTee    bool

	rng *rand.Rand
}

// NewFakeDevice builds a FakeDevice reporting the given supported gain list
// (tenths of a dB), matching the shape librtlsdr reports for a real tuner.
func NewFakeDevice(supportedGains []int32) *FakeDevice {
	gains := make([]int32, len(supportedGains))
	copy(gains, supportedGains)
	return &FakeDevice{
		gains:      gains,
		sampleRate: demodSampleRate,
		ifGains:    make(map[int]int32),
		rng:        rand.New(rand.NewSource(1)),
	}
}

const demodSampleRate = 2_000_000

func (f *FakeDevice) CenterFrequency() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.centerFreq
}

func (f *FakeDevice) SetCenterFrequency(ctx context.Context, hz uint32) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.centerFreq = hz
		return nil
	})
}

func (f *FakeDevice) SampleRate() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleRate
}

func (f *FakeDevice) SetSampleRate(ctx context.Context, hz uint32) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sampleRate = hz
		return nil
	})
}

func (f *FakeDevice) SupportedGains() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int32, len(f.gains))
	copy(out, f.gains)
	return out
}

func (f *FakeDevice) TunerGain() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

func (f *FakeDevice) SetTunerGain(ctx context.Context, gain Gain) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if gain.Mode == GainModeAuto {
			f.gain = 0
			return nil
		}
		resolved, err := resolveGain(f.gains, gain)
		if err != nil {
			return err
		}
		f.gain = resolved
		return nil
	})
}

func (f *FakeDevice) SetTunerIFGain(ctx context.Context, stage int, gain int32) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.ifGains[stage] = gain
		return nil
	})
}

func (f *FakeDevice) SetTunerBandwidth(ctx context.Context, hz uint32) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.bandwidth = hz
		return nil
	})
}

func (f *FakeDevice) SetAGCMode(ctx context.Context, enable bool) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.agc = enable
		return nil
	})
}

func (f *FakeDevice) SetFrequencyCorrection(ctx context.Context, ppm int) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.ppm = ppm
		return nil
	})
}

func (f *FakeDevice) SetOffsetTuning(ctx context.Context, enable bool) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.offsetTune = enable
		return nil
	})
}

func (f *FakeDevice) SetBiasTee(ctx context.Context, enable bool) error {
	return doControl(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.biasTee = enable
		return nil
	})
}

// Stream fills buffers with uniformly random bytes (centered on 128, like an
// idle tuner's noise floor) until ctx is cancelled.
func (f *FakeDevice) Stream(ctx context.Context, sender *iqqueue.Sender, bufferSize int) error {
	var pushed *iqqueue.Buffer
	ticker := time.NewTicker(time.Second / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sender.Close()
			return ctx.Err()
		case <-ticker.C:
		}

		buf, ok := sender.SwapBuffers(pushed, bufferSize, false)
		if !ok {
			sender.Close()
			return nil
		}
		f.fillNoise(buf.Bytes())
		buf.SetFilled(bufferSize)
		pushed = buf
	}
}

func (f *FakeDevice) fillNoise(data []byte) {
	f.mu.Lock()
	rng := f.rng
	f.mu.Unlock()
	for i := range data {
		data[i] = byte(128 + rng.Intn(8) - 4)
	}
}

func (f *FakeDevice) Close() error { return nil }
