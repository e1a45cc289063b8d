// Command capi builds the pulse detector as C library:
//
//	go build -buildmode=c-shared -o libtagstrainer.so ./capi
package main

/*
#include <stdbool.h>
#include <stdint.h>
#include <stdlib.h>

typedef struct {
    uint64_t samp_rate;
    uint64_t center_freq;
    bool auto_gain;
    uint32_t vga_gain;
    uint32_t lna_gain;
} SdrConfig;

typedef struct {
    float freq;
    float duration;
    float duration_variance;
    float threshold;
    int64_t edge_length;
    int64_t peak_lookahead;
    float gain;
} PulseTarget;

typedef struct {
    SdrConfig sdr_config;
    PulseTarget* pulse_targets;
    uint32_t num_targets;
} DetectorConfig;

typedef struct {
    float freq;
    float signal_strength;
    float gain;
    uint64_t seconds;
    uint32_t nanos;
} Pulse;

typedef struct {
    Pulse* data;
    uint32_t length;
} PulseList;
*/
import "C"

import (
	"unsafe"

	"github.com/ftl/tagstrainer/ffi"
)

var registry = ffi.NewRegistry()

// init_detector returns a handle to a new detector, 0 if the configuration is missing.
//
//export init_detector
func init_detector(config *C.DetectorConfig) C.uint64_t {
	if config == nil {
		return 0
	}

	sdrConfig := ffi.SdrConfig{
		SampRate:   uint64(config.sdr_config.samp_rate),
		CenterFreq: uint64(config.sdr_config.center_freq),
		AutoGain:   bool(config.sdr_config.auto_gain),
		VgaGain:    uint32(config.sdr_config.vga_gain),
		LnaGain:    uint32(config.sdr_config.lna_gain),
	}
	var targets []ffi.PulseTarget
	if config.pulse_targets != nil && config.num_targets > 0 {
		raw := unsafe.Slice(config.pulse_targets, int(config.num_targets))
		targets = make([]ffi.PulseTarget, len(raw))
		for i, target := range raw {
			targets[i] = ffi.PulseTarget{
				Freq:             float32(target.freq),
				Duration:         float32(target.duration),
				DurationVariance: float32(target.duration_variance),
				Threshold:        float32(target.threshold),
				EdgeLength:       int64(target.edge_length),
				PeakLookahead:    int64(target.peak_lookahead),
				Gain:             float32(target.gain),
			}
		}
	}

	return C.uint64_t(registry.Init(sdrConfig, targets))
}

//export free_detector
func free_detector(detector C.uint64_t) {
	registry.Free(ffi.Handle(detector))
}

// get_pulses returns the pulses detected in the interleaved float I/Q samples. The list must be released with free_pulses.
//
//export get_pulses
func get_pulses(detector C.uint64_t, samples *C.float, length C.uint32_t) C.PulseList {
	if samples == nil || length == 0 {
		return C.PulseList{}
	}

	input := unsafe.Slice((*float32)(unsafe.Pointer(samples)), int(length))
	pulses := registry.Pulses(ffi.Handle(detector), input)
	if len(pulses) == 0 {
		return C.PulseList{}
	}

	data := (*C.Pulse)(C.malloc(C.size_t(len(pulses)) * C.size_t(unsafe.Sizeof(C.Pulse{}))))
	output := unsafe.Slice(data, len(pulses))
	for i, pulse := range pulses {
		output[i] = C.Pulse{
			freq:            C.float(pulse.Freq),
			signal_strength: C.float(pulse.SignalStrength),
			gain:            C.float(pulse.Gain),
			seconds:         C.uint64_t(pulse.Seconds),
			nanos:           C.uint32_t(pulse.Nanos),
		}
	}

	return C.PulseList{data: data, length: C.uint32_t(len(pulses))}
}

//export free_pulses
func free_pulses(list C.PulseList) {
	if list.data != nil {
		C.free(unsafe.Pointer(list.data))
	}
}

func main() {}
