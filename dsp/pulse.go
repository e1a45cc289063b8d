package dsp

import "iter"

// PulseConfig describes the pulses a PulseDetector looks for. Durations are counted in samples.
type PulseConfig[T Float] struct {
	Duration         int64
	DurationVariance int64
	Threshold        T
	EdgeLength       int
	PeakLookahead    int
}

// SamplePulse is a pulse detected in a stream of samples.
type SamplePulse[T Float] struct {
	// Duration in samples.
	Duration int64
	// MaxSignalStrength is the stronger one of the two edges.
	MaxSignalStrength T
	// ElapsedSamples since the previously emitted pulse.
	ElapsedSamples int64
}

// PulseDetector pairs a rising edge with a matching falling edge and emits a pulse if the
// number of samples between both edges matches the configured duration.
type PulseDetector[T Float] struct {
	config PulseConfig[T]

	count          int64
	elapsedSamples int64
	edgeStart      T

	edgeFilter   *EdgeFilter[T]
	peakDetector *PeakDetector[T]
}

func NewPulseDetector[T Float](config PulseConfig[T]) *PulseDetector[T] {
	return &PulseDetector[T]{
		config:       config,
		edgeFilter:   NewEdgeFilter[T](config.EdgeLength),
		peakDetector: NewPeakDetector(config.Threshold, config.PeakLookahead),
	}
}

func (d *PulseDetector[T]) Config() PulseConfig[T] {
	return d.config
}

// Edge returns the current output of the edge filter.
func (d *PulseDetector[T]) Edge() T {
	return d.edgeFilter.Output()
}

// Input processes the next sample and returns a pulse if one ended with this sample.
func (d *PulseDetector[T]) Input(sample T) (SamplePulse[T], bool) {
	d.elapsedSamples++

	d.edgeFilter.Input(sample)
	peak, isPeak := d.peakDetector.Input(d.edgeFilter.Output())

	if d.count == 0 {
		if isPeak && peak > 0 {
			d.count = 1
			d.edgeStart = peak
		}
		return SamplePulse[T]{}, false
	}

	d.count++
	if !isPeak {
		return SamplePulse[T]{}, false
	}

	switch {
	case peak < 0 && d.matchesEdgeStart(peak):
		duration := d.count - 1
		d.count = 0

		if abs(duration-d.config.Duration) > d.config.DurationVariance {
			return SamplePulse[T]{}, false
		}

		result := SamplePulse[T]{
			Duration:          duration,
			MaxSignalStrength: max(d.edgeStart, abs(peak)),
			ElapsedSamples:    d.elapsedSamples,
		}
		d.elapsedSamples = 0
		return result, true
	case peak > d.edgeStart:
		d.count = 1
		d.edgeStart = peak
	}

	return SamplePulse[T]{}, false
}

// the falling edge must be within 50% of the rising edge
func (d *PulseDetector[T]) matchesEdgeStart(peak T) bool {
	return abs(d.edgeStart+peak) < d.edgeStart*0.5
}

// Pulses yields the pulses found in the given sequence of samples.
func (d *PulseDetector[T]) Pulses(samples iter.Seq[T]) iter.Seq[SamplePulse[T]] {
	return func(yield func(SamplePulse[T]) bool) {
		for sample := range samples {
			pulse, ok := d.Input(sample)
			if ok && !yield(pulse) {
				return
			}
		}
	}
}
