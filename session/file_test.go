package session

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/tagstrainer/detector"
)

type recordingSink struct {
	u8  []byte
	f32 []float32

	limit  int
	cancel context.CancelFunc
}

func (s *recordingSink) U8(samples []byte) {
	s.u8 = append(s.u8, samples...)
	s.checkLimit(len(s.u8))
}

func (s *recordingSink) F32(samples []float32) {
	s.f32 = append(s.f32, samples...)
	s.checkLimit(len(s.f32))
}

func (s *recordingSink) checkLimit(n int) {
	if s.limit > 0 && n >= s.limit && s.cancel != nil {
		s.cancel()
	}
}

// simulateIQ returns half a second of simulated I/Q samples with five pulses of the test target.
func simulateIQ(t *testing.T) []float32 {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simulator := NewSimulator(SimulatorConfig{Amplitude: 0.5, Noise: 0.01, Interval: 100 * time.Millisecond, BlockSize: 1024, Seed: 2})
	simulator.SetTargets(testTargets())
	sink := &recordingSink{limit: int(testSdrConfig.SampRate), cancel: cancel}
	require.NoError(t, simulator.Run(ctx, testSdrConfig, sink))

	return sink.f32[:sink.limit]
}

func writeU8File(t *testing.T, samples []float32) string {
	t.Helper()
	raw := make([]byte, len(samples))
	for i, v := range samples {
		raw[i] = byte(max(0, min(255, math.Round(127.5+127.5*float64(v)))))
	}
	filename := filepath.Join(t.TempDir(), "capture.u8")
	require.NoError(t, os.WriteFile(filename, raw, 0644))
	return filename
}

func writeF32File(t *testing.T, samples []float32) string {
	t.Helper()
	raw := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	filename := filepath.Join(t.TempDir(), "capture.f32")
	require.NoError(t, os.WriteFile(filename, raw, 0644))
	return filename
}

func detectPulses(t *testing.T, driver Driver) []detector.Pulse {
	t.Helper()
	var pulses []detector.Pulse
	err := Detect(context.Background(), driver, detector.New(testSdrConfig, testTargets()), func(pulse detector.Pulse) {
		pulses = append(pulses, pulse)
	})
	require.NoError(t, err)
	return pulses
}

func TestFileReplay_Formats(t *testing.T) {
	samples := simulateIQ(t)

	tt := []struct {
		desc     string
		format   SampleFormat
		filename string
	}{
		{desc: "u8", format: FormatU8, filename: writeU8File(t, samples)},
		{desc: "f32", format: FormatF32, filename: writeF32File(t, samples)},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			replay := NewFileReplay(FileConfig{Path: tc.filename, Format: tc.format, BlockSize: 1000})

			pulses := detectPulses(t, replay)

			assert.Len(t, pulses, 5)
			for _, pulse := range pulses {
				assert.InDelta(t, 0.02, pulse.Duration, 0.005)
			}
		})
	}
}

func TestFileReplay_F32IsLittleEndian(t *testing.T) {
	filename := writeF32File(t, []float32{0.5, -0.25, 1, -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{}

	err := NewFileReplay(FileConfig{Path: filename, Format: FormatF32}).Run(ctx, testSdrConfig, sink)

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1, -1}, sink.f32)
}

func TestFileReplay_Loop(t *testing.T) {
	filename := writeU8File(t, []float32{0, 0.5, -0.5, 1})
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{limit: 12, cancel: cancel}

	err := NewFileReplay(FileConfig{Path: filename, Format: FormatU8, Loop: true}).Run(ctx, testSdrConfig, sink)

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(sink.u8), 12)
	assert.Equal(t, sink.u8[:4], sink.u8[4:8])
	assert.Equal(t, sink.u8[:4], sink.u8[8:12])
}

func TestFileReplay_Errors(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty.u8")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	tt := []struct {
		desc   string
		config FileConfig
	}{
		{desc: "missing file", config: FileConfig{Path: filepath.Join(t.TempDir(), "missing"), Format: FormatU8}},
		{desc: "unknown format", config: FileConfig{Path: empty, Format: "s16"}},
		{desc: "loop over empty file", config: FileConfig{Path: empty, Format: FormatU8, Loop: true}},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			err := NewFileReplay(tc.config).Run(context.Background(), testSdrConfig, &recordingSink{})
			assert.Error(t, err)
		})
	}
}

func TestFileReplay_EndsSession(t *testing.T) {
	replay := NewFileReplay(FileConfig{Path: writeU8File(t, simulateIQ(t)), Format: FormatU8})
	session := New(replay, testSdrConfig, testTargets(), nil)
	defer session.Close()

	session.Start()

	assert.Eventually(t, func() bool {
		return !session.Status().Streaming
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(5), session.Status().Pulses)
}
