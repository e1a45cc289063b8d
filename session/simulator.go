package session

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"
	"time"

	"github.com/ftl/tagstrainer/detector"
)

type SimulatorConfig struct {
	// Amplitude of the simulated pulses.
	Amplitude float64
	// Noise is the standard deviation of the gaussian noise on I and Q.
	Noise float64
	// Interval between two pulses of the same target.
	Interval time.Duration
	// BlockSize is the number of I/Q samples per block.
	BlockSize int
	// Throttle the output to the configured sample rate.
	Throttle bool
	Seed     int64
}

// Simulator synthesizes a noisy I/Q stream that contains pulses of every target.
type Simulator struct {
	config SimulatorConfig

	targetsLock sync.Mutex
	targets     []detector.PulseTarget
}

func NewSimulator(config SimulatorConfig) *Simulator {
	return &Simulator{config: config}
}

func (s *Simulator) Name() string {
	return "simulator"
}

func (s *Simulator) SetTargets(targets []detector.PulseTarget) {
	s.targetsLock.Lock()
	defer s.targetsLock.Unlock()
	s.targets = append([]detector.PulseTarget{}, targets...)
}

type simulatedTone struct {
	rotation complex128
	phasor   complex128
	start    int64
	length   int64
}

func (s *Simulator) Run(ctx context.Context, config detector.SdrConfig, sink Sink) error {
	if err := config.Validate(); err != nil {
		return err
	}
	s.targetsLock.Lock()
	targets := s.targets
	s.targetsLock.Unlock()

	sampleRate := float64(config.SampRate)
	interval := int64(s.config.Interval.Seconds() * sampleRate)
	if interval < 1 {
		interval = int64(sampleRate)
	}
	tones := make([]simulatedTone, len(targets))
	for i, target := range targets {
		w := 2 * math.Pi * config.Offset(target.Freq) / sampleRate
		tones[i] = simulatedTone{
			rotation: cmplx.Exp(complex(0, w)),
			phasor:   complex(s.config.Amplitude, 0),
			start:    int64(i) * interval / int64(len(targets)+1),
			length:   int64(float64(target.Duration) * sampleRate),
		}
	}

	random := rand.New(rand.NewSource(s.config.Seed))
	block := make([]float32, 2*s.config.BlockSize)
	blockDuration := max(time.Duration(float64(s.config.BlockSize)/sampleRate*float64(time.Second)), time.Microsecond)
	var ticker *time.Ticker
	if s.config.Throttle {
		ticker = time.NewTicker(blockDuration)
		defer ticker.Stop()
	}

	var n int64
	for {
		for k := range s.config.BlockSize {
			sample := complex(random.NormFloat64()*s.config.Noise, random.NormFloat64()*s.config.Noise)
			for j := range tones {
				tone := &tones[j]
				tone.phasor *= tone.rotation
				if n >= tone.start && (n-tone.start)%interval < tone.length {
					sample += tone.phasor
				}
			}
			block[2*k] = float32(real(sample))
			block[2*k+1] = float32(imag(sample))
			n++
		}
		for j := range tones {
			tone := &tones[j]
			tone.phasor = tone.phasor / complex(cmplx.Abs(tone.phasor), 0) * complex(s.config.Amplitude, 0)
		}

		sink.F32(block)

		if ticker == nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
