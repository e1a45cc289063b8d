package detector

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SdrConfig describes how the receiver is tuned.
type SdrConfig struct {
	SampRate       uint64  `json:"samp_rate" mapstructure:"samp_rate"`
	CenterFreq     uint64  `json:"center_freq" mapstructure:"center_freq"`
	AutoGain       bool    `json:"auto_gain" mapstructure:"auto_gain"`
	LnaGain        uint32  `json:"lna_gain" mapstructure:"lna_gain"`
	VgaGain        uint32  `json:"vga_gain" mapstructure:"vga_gain"`
	AmpEnable      bool    `json:"amp_enable" mapstructure:"amp_enable"`
	AntennaEnable  bool    `json:"antenna_enable" mapstructure:"antenna_enable"`
	BasebandFilter *uint32 `json:"baseband_filter" mapstructure:"baseband_filter"`
}

// ErrNoSampleRate is returned for a receiver configuration without sample rate.
var ErrNoSampleRate = errors.New("samp_rate must be greater than 0")

func (c SdrConfig) Validate() error {
	if c.SampRate == 0 {
		return ErrNoSampleRate
	}
	return nil
}

// Offset returns the frequency offset of the given frequency relative to the center frequency.
func (c SdrConfig) Offset(freq float32) float64 {
	return float64(freq) - float64(c.CenterFreq)
}

// Contains indicates if the given frequency lies within the receiver's bandwidth.
func (c SdrConfig) Contains(freq float32) bool {
	return math.Abs(c.Offset(freq)) < float64(c.SampRate)/2
}

// PulseTarget describes a tag to look for.
type PulseTarget struct {
	// Freq is the frequency of the tag in Hz.
	Freq float32 `json:"freq" mapstructure:"freq"`
	// Duration of the pulse in seconds.
	Duration float32 `json:"duration" mapstructure:"duration"`
	// DurationVariance is the maximum deviation of the pulse duration in seconds.
	DurationVariance float32 `json:"duration_variance" mapstructure:"duration_variance"`
	// Threshold is the minimum edge strength of a pulse.
	Threshold float32 `json:"threshold" mapstructure:"threshold"`
	// EdgeLength is the number of frames used for edge detection.
	EdgeLength int64 `json:"edge_length" mapstructure:"edge_length"`
	// PeakLookahead is the number of frames used to reject false peaks.
	PeakLookahead int64 `json:"peak_lookahead" mapstructure:"peak_lookahead"`
	// Gain is passed through to the pulses of this target.
	Gain float32 `json:"gain" mapstructure:"gain"`
}

func (t PulseTarget) Validate() error {
	var errs []error
	if t.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must not be negative, got %v", t.Duration))
	}
	if t.DurationVariance < 0 {
		errs = append(errs, fmt.Errorf("duration_variance must not be negative, got %v", t.DurationVariance))
	}
	if t.EdgeLength < 1 {
		errs = append(errs, fmt.Errorf("edge_length must be at least 1, got %d", t.EdgeLength))
	}
	if t.PeakLookahead < 1 {
		errs = append(errs, fmt.Errorf("peak_lookahead must be at least 1, got %d", t.PeakLookahead))
	}
	return errors.Join(errs...)
}

// Timestamp is a point in time since the UNIX epoch.
type Timestamp struct {
	Seconds uint64 `json:"seconds"`
	Nanos   uint32 `json:"nanos"`
}

func TimestampOf(t time.Time) Timestamp {
	if t.Before(time.Unix(0, 0)) {
		return Timestamp{}
	}
	return Timestamp{
		Seconds: uint64(t.Unix()),
		Nanos:   uint32(t.Nanosecond()),
	}
}

func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Nanos))
}

func (t Timestamp) Millis() uint64 {
	return t.Seconds*1000 + uint64(t.Nanos)/1_000_000
}

// Pulse is a detected pulse of one of the targets.
type Pulse struct {
	// TargetID is the index of the target in the list of targets within the receiver's bandwidth.
	TargetID int `json:"target_id"`
	// Freq of the target in Hz.
	Freq float32 `json:"freq"`
	// Duration of the pulse in seconds.
	Duration float32 `json:"duration"`
	// SignalStrength is the stronger one of the rising and the falling edge.
	SignalStrength float32 `json:"signal_strength"`
	// Gain of the target.
	Gain float32 `json:"gain"`
	// Timestamp of the frame in which the pulse was detected.
	Timestamp Timestamp `json:"timestamp"`
}

// StrengthDB returns the signal strength in dB.
func (p Pulse) StrengthDB() float64 {
	return 20 * math.Log10(float64(p.SignalStrength))
}
