// Package detector finds the pulses of a set of tags in a stream of I/Q samples.
package detector

import (
	"fmt"
	"time"

	"github.com/ftl/tagstrainer/dsp"
	"github.com/ftl/tagstrainer/scope"
	"github.com/ftl/tagstrainer/trace"
)

// FrameLength is the number of I/Q samples that result in one magnitude value per target.
const FrameLength = dsp.DefaultFrameLength

const (
	TraceMagnitudes = "magnitudes"
	TraceEdges      = "edges"
	TracePulses     = "pulses"

	DetectorStream scope.StreamID = "detector"
	SpectrumStream scope.StreamID = "spectrum"

	spectralFrameInterval = 64
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

var WallClock = ClockFunc(time.Now)

// Detectors runs one pulse detector for every target within the receiver's bandwidth.
// A Detectors instance is not safe for concurrent use, it must be owned by one goroutine.
type Detectors struct {
	config  SdrConfig
	targets []PulseTarget
	rate    float32

	bank       *dsp.GoertzelBank
	detectors  []*dsp.PulseDetector[float32]
	magnitudes []float32
	frames     uint64

	clock  Clock
	scope  scope.Scope
	tracer trace.Tracer

	capture  bool
	frame    []float32
	fft      *dsp.FFT[float32]
	spectrum []float32
}

// New returns detectors for the given targets. Targets outside of the receiver's bandwidth are dropped,
// the remaining targets are numbered in their original order.
func New(config SdrConfig, targets []PulseTarget) *Detectors {
	rate := float32(config.SampRate) / float32(FrameLength)

	result := &Detectors{
		config: config,
		rate:   rate,
		clock:  WallClock,
		scope:  scope.NewNullScope(),
	}

	frequencies := make([]float64, 0, len(targets))
	for _, target := range targets {
		if !config.Contains(target.Freq) {
			continue
		}
		result.targets = append(result.targets, target)
		frequencies = append(frequencies, config.Offset(target.Freq))
		result.detectors = append(result.detectors, dsp.NewPulseDetector(dsp.PulseConfig[float32]{
			Duration:         int64(target.Duration * rate),
			DurationVariance: int64(target.DurationVariance * rate),
			Threshold:        target.Threshold,
			EdgeLength:       max(1, int(target.EdgeLength)),
			PeakLookahead:    max(1, int(target.PeakLookahead)),
		}))
	}

	result.bank = dsp.NewGoertzelBank(float64(config.SampRate), frequencies, FrameLength, dsp.BlackmanHarris)
	result.magnitudes = make([]float32, len(frequencies))

	return result
}

func (d *Detectors) SetClock(clock Clock) {
	d.clock = clock
}

func (d *Detectors) SetScope(s scope.Scope) {
	if s == nil {
		s = scope.NewNullScope()
	}
	d.scope = s
}

func (d *Detectors) SetTracer(tracer trace.Tracer) {
	d.tracer = tracer
}

// Config returns the receiver configuration.
func (d *Detectors) Config() SdrConfig {
	return d.config
}

// Targets returns the targets within the receiver's bandwidth, indexed by target id.
func (d *Detectors) Targets() []PulseTarget {
	return d.targets
}

// SampleRate returns the rate of the magnitude values that feed the pulse detectors.
func (d *Detectors) SampleRate() float32 {
	return d.rate
}

// Frames returns the number of processed frames.
func (d *Detectors) Frames() uint64 {
	return d.frames
}

// Next processes interleaved unsigned 8-bit I/Q samples.
func (d *Detectors) Next(samples []byte) []Pulse {
	return process(d, samples, func(v byte) float32 { return u8LUT[v] })
}

// NextF32 processes interleaved float I/Q samples.
func (d *Detectors) NextF32(samples []float32) []Pulse {
	return process(d, samples, func(v float32) float32 { return v })
}

func process[S byte | float32](d *Detectors, samples []S, convert func(S) float32) []Pulse {
	var pulses []Pulse

	frameLength := d.bank.FrameLength()
	samples = samples[:len(samples)&^1]
	for len(samples) > 0 {
		if d.bank.Position() == 0 {
			d.startFrame()
		}

		n := 2 * min(len(samples)/2, frameLength-d.bank.Position())
		for k := 0; k < n; k += 2 {
			i, q := convert(samples[k]), convert(samples[k+1])
			if d.capture {
				d.frame = append(d.frame, i, q)
			}
			d.bank.InputIQ(i, q)
		}
		samples = samples[n:]

		if d.bank.Position() == frameLength {
			pulses = d.detect(pulses)
		}
	}

	return pulses
}

// u8LUT maps unsigned 8-bit samples to [-1, 1].
var u8LUT = func() (lut [256]float32) {
	for i := range lut {
		lut[i] = (float32(i) - 127.5) / 127.5
	}
	return lut
}()

func (d *Detectors) startFrame() {
	d.capture = d.frames%spectralFrameInterval == 0 && d.scope.Active()
	if d.capture {
		d.frame = d.frame[:0]
	}
}

func (d *Detectors) detect(pulses []Pulse) []Pulse {
	d.magnitudes = d.bank.Output(d.magnitudes)
	d.frames++

	var now time.Time
	for i, magnitude := range d.magnitudes {
		pulse, ok := d.detectors[i].Input(magnitude)
		if !ok {
			continue
		}
		if now.IsZero() {
			now = d.clock.Now()
		}
		target := d.targets[i]
		pulses = append(pulses, Pulse{
			TargetID:       i,
			Freq:           target.Freq,
			Duration:       float32(pulse.Duration) / d.rate,
			SignalStrength: pulse.MaxSignalStrength,
			Gain:           target.Gain,
			Timestamp:      TimestampOf(now),
		})
	}

	if d.tracer != nil {
		d.traceFrame(pulses)
	}
	if d.scope.Active() {
		d.showFrame()
	}

	return pulses
}

func (d *Detectors) traceFrame(pulses []Pulse) {
	for i, magnitude := range d.magnitudes {
		d.tracer.Trace(TraceMagnitudes, "%d;%d;%f\n", d.frames, i, magnitude)
		d.tracer.Trace(TraceEdges, "%d;%d;%f\n", d.frames, i, d.detectors[i].Edge())
	}
	for _, pulse := range pulses {
		d.tracer.Trace(TracePulses, "%d;%d;%f;%f\n", d.frames, pulse.TargetID, pulse.Duration, pulse.SignalStrength)
	}
}

func (d *Detectors) showFrame() {
	now := d.clock.Now()

	timeFrame := &scope.TimeFrame{
		Frame:  scope.Frame{Stream: DetectorStream, Timestamp: now},
		Values: make(map[scope.ChannelID]float64, 2*len(d.magnitudes)),
	}
	for i, magnitude := range d.magnitudes {
		timeFrame.Values[scope.ChannelID(fmt.Sprintf("magnitude/%d", i))] = float64(magnitude)
		timeFrame.Values[scope.ChannelID(fmt.Sprintf("edge/%d", i))] = float64(d.detectors[i].Edge())
	}
	d.scope.ShowTimeFrame(timeFrame)

	if !d.capture || len(d.frame) != 2*FrameLength {
		return
	}
	if d.fft == nil {
		d.fft = dsp.NewFFT[float32]()
		d.spectrum = make([]float32, FrameLength)
	}
	d.fft.IQToSpectrum(d.spectrum, d.frame, dsp.MagnitudeIndB[float32])

	halfBandwidth := float64(d.config.SampRate) / 2
	spectralFrame := &scope.SpectralFrame{
		Frame:            scope.Frame{Stream: SpectrumStream, Timestamp: now},
		FromFrequency:    float64(d.config.CenterFreq) - halfBandwidth,
		ToFrequency:      float64(d.config.CenterFreq) + halfBandwidth,
		Values:           make([]float64, len(d.spectrum)),
		FrequencyMarkers: make(map[scope.MarkerID]float64, len(d.targets)),
		MagnitudeMarkers: make(map[scope.MarkerID]float64, len(d.targets)),
	}
	for i, value := range d.spectrum {
		spectralFrame.Values[i] = float64(value)
	}
	for i, target := range d.targets {
		marker := scope.MarkerID(fmt.Sprintf("target/%d", i))
		spectralFrame.FrequencyMarkers[marker] = float64(target.Freq)
		spectralFrame.MagnitudeMarkers[marker] = float64(d.magnitudes[i])
	}
	d.scope.ShowSpectralFrame(spectralFrame)
}
