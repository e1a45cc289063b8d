// Package scope provides a visualisation of the inner workings of the tag detectors in form of
// spectral and time domain plots.
package scope

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type StreamID string
type ChannelID string
type MarkerID string

type Frame struct {
	Stream    StreamID
	Timestamp time.Time
}

type TimeFrame struct {
	Frame
	Values map[ChannelID]float64
}

type SpectralFrame struct {
	Frame
	FromFrequency    float64
	ToFrequency      float64
	Values           []float64
	FrequencyMarkers map[MarkerID]float64
	MagnitudeMarkers map[MarkerID]float64
}

// Scope receives frames for visualisation. Producers should check Active before they spend
// any effort on building frames.
type Scope interface {
	Active() bool
	ShowTimeFrame(*TimeFrame)
	ShowSpectralFrame(*SpectralFrame)
}

type NullScope struct{}

func NewNullScope() *NullScope {
	return &NullScope{}
}

func (s *NullScope) Active() bool                     { return false }
func (s *NullScope) ShowTimeFrame(*TimeFrame)         {}
func (s *NullScope) ShowSpectralFrame(*SpectralFrame) {}

const (
	timeFrameKey     = "time_frame"
	spectralFrameKey = "spectral_frame"
)

func encodeTimeFrame(timeFrame *TimeFrame) (*structpb.Struct, error) {
	values := make(map[string]any, len(timeFrame.Values))
	for channel, value := range timeFrame.Values {
		values[string(channel)] = value
	}

	return structpb.NewStruct(map[string]any{
		timeFrameKey: map[string]any{
			"stream":    string(timeFrame.Stream),
			"timestamp": timeFrame.Timestamp.Format(time.RFC3339Nano),
			"values":    values,
		},
	})
}

func encodeSpectralFrame(spectralFrame *SpectralFrame) (*structpb.Struct, error) {
	values := make([]any, len(spectralFrame.Values))
	for i, value := range spectralFrame.Values {
		values[i] = value
	}
	frequencyMarkers := make(map[string]any, len(spectralFrame.FrequencyMarkers))
	for marker, value := range spectralFrame.FrequencyMarkers {
		frequencyMarkers[string(marker)] = value
	}
	magnitudeMarkers := make(map[string]any, len(spectralFrame.MagnitudeMarkers))
	for marker, value := range spectralFrame.MagnitudeMarkers {
		magnitudeMarkers[string(marker)] = value
	}

	return structpb.NewStruct(map[string]any{
		spectralFrameKey: map[string]any{
			"stream":            string(spectralFrame.Stream),
			"timestamp":         spectralFrame.Timestamp.Format(time.RFC3339Nano),
			"from_frequency":    spectralFrame.FromFrequency,
			"to_frequency":      spectralFrame.ToFrequency,
			"values":            values,
			"frequency_markers": frequencyMarkers,
			"magnitude_markers": magnitudeMarkers,
		},
	})
}

// decodeFrame returns either a *TimeFrame or a *SpectralFrame.
func decodeFrame(frame *structpb.Struct) (any, error) {
	if raw, ok := frame.GetFields()[timeFrameKey]; ok {
		fields := raw.GetStructValue()
		if fields == nil {
			return nil, fmt.Errorf("invalid time frame")
		}
		result := &TimeFrame{
			Frame:  decodeFrameHeader(fields),
			Values: make(map[ChannelID]float64),
		}
		for channel, value := range fields.GetFields()["values"].GetStructValue().GetFields() {
			result.Values[ChannelID(channel)] = value.GetNumberValue()
		}
		return result, nil
	}

	if raw, ok := frame.GetFields()[spectralFrameKey]; ok {
		fields := raw.GetStructValue()
		if fields == nil {
			return nil, fmt.Errorf("invalid spectral frame")
		}
		values := fields.GetFields()["values"].GetListValue().GetValues()
		result := &SpectralFrame{
			Frame:            decodeFrameHeader(fields),
			FromFrequency:    fields.GetFields()["from_frequency"].GetNumberValue(),
			ToFrequency:      fields.GetFields()["to_frequency"].GetNumberValue(),
			Values:           make([]float64, len(values)),
			FrequencyMarkers: make(map[MarkerID]float64),
			MagnitudeMarkers: make(map[MarkerID]float64),
		}
		for i, value := range values {
			result.Values[i] = value.GetNumberValue()
		}
		for marker, value := range fields.GetFields()["frequency_markers"].GetStructValue().GetFields() {
			result.FrequencyMarkers[MarkerID(marker)] = value.GetNumberValue()
		}
		for marker, value := range fields.GetFields()["magnitude_markers"].GetStructValue().GetFields() {
			result.MagnitudeMarkers[MarkerID(marker)] = value.GetNumberValue()
		}
		return result, nil
	}

	return nil, fmt.Errorf("unknown frame type")
}

func decodeFrameHeader(fields *structpb.Struct) Frame {
	timestamp, _ := time.Parse(time.RFC3339Nano, fields.GetFields()["timestamp"].GetStringValue())
	return Frame{
		Stream:    StreamID(fields.GetFields()["stream"].GetStringValue()),
		Timestamp: timestamp,
	}
}
