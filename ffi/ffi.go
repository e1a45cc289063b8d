// Package ffi keeps detectors for foreign callers. Callers refer to a detector by an opaque handle,
// the types mirror the C layout of the exported library.
package ffi

import (
	"sync"

	"github.com/ftl/tagstrainer/detector"
)

// SdrConfig mirrors the C struct SdrConfig.
type SdrConfig struct {
	SampRate   uint64
	CenterFreq uint64
	AutoGain   bool
	VgaGain    uint32
	LnaGain    uint32
}

func (c SdrConfig) Detector() detector.SdrConfig {
	return detector.SdrConfig{
		SampRate:   c.SampRate,
		CenterFreq: c.CenterFreq,
		AutoGain:   c.AutoGain,
		LnaGain:    c.LnaGain,
		VgaGain:    c.VgaGain,
	}
}

// PulseTarget mirrors the C struct PulseTarget.
type PulseTarget struct {
	Freq             float32
	Duration         float32
	DurationVariance float32
	Threshold        float32
	EdgeLength       int64
	PeakLookahead    int64
	Gain             float32
}

func (t PulseTarget) Detector() detector.PulseTarget {
	return detector.PulseTarget{
		Freq:             t.Freq,
		Duration:         t.Duration,
		DurationVariance: t.DurationVariance,
		Threshold:        t.Threshold,
		EdgeLength:       t.EdgeLength,
		PeakLookahead:    t.PeakLookahead,
		Gain:             t.Gain,
	}
}

// Pulse mirrors the C struct Pulse.
type Pulse struct {
	Freq           float32
	SignalStrength float32
	Gain           float32
	Seconds        uint64
	Nanos          uint32
}

func PulseOf(pulse detector.Pulse) Pulse {
	return Pulse{
		Freq:           pulse.Freq,
		SignalStrength: pulse.SignalStrength,
		Gain:           pulse.Gain,
		Seconds:        pulse.Timestamp.Seconds,
		Nanos:          pulse.Timestamp.Nanos,
	}
}

// Handle refers to a detector in a registry. The zero handle is never valid.
type Handle uint64

type entry struct {
	lock      sync.Mutex
	detectors *detector.Detectors
}

// Registry owns the detectors that were handed out to foreign callers.
type Registry struct {
	lock    sync.Mutex
	last    Handle
	entries map[Handle]*entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Handle]*entry),
	}
}

// Init creates a new detector for the given configuration. Targets outside of the receiver's bandwidth are ignored.
func (r *Registry) Init(config SdrConfig, targets []PulseTarget) Handle {
	detectorTargets := make([]detector.PulseTarget, len(targets))
	for i, target := range targets {
		detectorTargets[i] = target.Detector()
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.last++
	r.entries[r.last] = &entry{
		detectors: detector.New(config.Detector(), detectorTargets),
	}
	return r.last
}

// Pulses feeds the interleaved float I/Q samples into the detector and returns the detected pulses.
// Unknown handles and empty sample buffers yield no pulses.
func (r *Registry) Pulses(handle Handle, samples []float32) []Pulse {
	if len(samples) == 0 {
		return nil
	}
	e := r.lookup(handle)
	if e == nil {
		return nil
	}

	e.lock.Lock()
	pulses := e.detectors.NextF32(samples)
	e.lock.Unlock()

	if len(pulses) == 0 {
		return nil
	}
	result := make([]Pulse, len(pulses))
	for i, pulse := range pulses {
		result[i] = PulseOf(pulse)
	}
	return result
}

// Free releases the detector. Unknown handles are ignored.
func (r *Registry) Free(handle Handle) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.entries, handle)
}

func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(handle Handle) *entry {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.entries[handle]
}
