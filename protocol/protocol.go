// Package protocol implements the messages exchanged between a pulse server and its clients.
// Every message is a JSON document preceded by its length as unsigned 32-bit little endian integer.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ftl/tagstrainer/detector"
)

var (
	ErrUnknownMessage  = errors.New("unknown message")
	ErrMessageTooLarge = errors.New("message too large")
)

const (
	pulseTargetsTag = "PulseTargets"
	sdrConfigTag    = "SdrConfig"
	startTag        = "Start"
	stopTag         = "Stop"
	pulseTag        = "Pulse"
)

// UpMessage is sent from a client to the server.
type UpMessage interface {
	upMessage()
}

// PulseTargets replaces the targets of the detectors.
type PulseTargets []detector.PulseTarget

// SdrConfigUpdate replaces the configuration of the receiver.
type SdrConfigUpdate struct {
	Config detector.SdrConfig
}

// Start streaming samples into the detectors.
type Start struct{}

// Stop streaming.
type Stop struct{}

func (PulseTargets) upMessage()    {}
func (SdrConfigUpdate) upMessage() {}
func (Start) upMessage()           {}
func (Stop) upMessage()            {}

// DownMessage is sent from the server to its clients.
type DownMessage interface {
	downMessage()
}

// PulseMessage carries a detected pulse.
type PulseMessage struct {
	Pulse detector.Pulse
}

func (PulseMessage) downMessage() {}

func MarshalUp(msg UpMessage) ([]byte, error) {
	switch msg := msg.(type) {
	case PulseTargets:
		targets := []detector.PulseTarget(msg)
		if targets == nil {
			targets = []detector.PulseTarget{}
		}
		return json.Marshal(map[string]any{pulseTargetsTag: targets})
	case SdrConfigUpdate:
		return json.Marshal(map[string]any{sdrConfigTag: msg.Config})
	case Start:
		return json.Marshal(startTag)
	case Stop:
		return json.Marshal(stopTag)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func UnmarshalUp(data []byte) (UpMessage, error) {
	tag, content, err := splitTag(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case startTag:
		if content != nil {
			return nil, fmt.Errorf("%w: %s with content", ErrUnknownMessage, tag)
		}
		return Start{}, nil
	case stopTag:
		if content != nil {
			return nil, fmt.Errorf("%w: %s with content", ErrUnknownMessage, tag)
		}
		return Stop{}, nil
	case pulseTargetsTag:
		var targets []detector.PulseTarget
		if err := json.Unmarshal(content, &targets); err != nil {
			return nil, fmt.Errorf("invalid pulse targets: %w", err)
		}
		return PulseTargets(targets), nil
	case sdrConfigTag:
		var config detector.SdrConfig
		if err := json.Unmarshal(content, &config); err != nil {
			return nil, fmt.Errorf("invalid sdr config: %w", err)
		}
		return SdrConfigUpdate{Config: config}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, tag)
	}
}

func MarshalDown(msg DownMessage) ([]byte, error) {
	switch msg := msg.(type) {
	case PulseMessage:
		return json.Marshal(map[string]any{pulseTag: msg.Pulse})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func UnmarshalDown(data []byte) (DownMessage, error) {
	tag, content, err := splitTag(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case pulseTag:
		var pulse detector.Pulse
		if err := json.Unmarshal(content, &pulse); err != nil {
			return nil, fmt.Errorf("invalid pulse: %w", err)
		}
		return PulseMessage{Pulse: pulse}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, tag)
	}
}

// splitTag returns the variant name and the content of an externally tagged value.
// Variants without content are plain strings, their content is nil.
func splitTag(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
		}
		return tag, nil, nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if len(tagged) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrUnknownMessage, len(tagged))
	}
	var tag string
	var content json.RawMessage
	for tag, content = range tagged {
	}
	return tag, content, nil
}
