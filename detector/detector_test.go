package detector

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/tagstrainer/scope"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

const (
	testSampleRate = 102400
	testCenterFreq = 1_000_000
)

var testConfig = SdrConfig{
	SampRate:   testSampleRate,
	CenterFreq: testCenterFreq,
}

func testTarget(freq float32) PulseTarget {
	return PulseTarget{
		Freq:             freq,
		Duration:         0.05,
		DurationVariance: 0.02,
		Threshold:        0.1,
		EdgeLength:       3,
		PeakLookahead:    1,
		Gain:             20,
	}
}

// synthesizeU8 returns u8 I/Q samples with a complex tone at the given offset during every pulse.
func synthesizeU8(offset float64, pulseStarts []float64, pulseLength float64, amplitude float64, seconds float64) []byte {
	n := int(seconds * testSampleRate)
	result := make([]byte, 2*n)
	for k := range n {
		t := float64(k) / testSampleRate
		var i, q float64
		for _, start := range pulseStarts {
			if t >= start && t < start+pulseLength {
				phase := 2 * math.Pi * offset * t
				i, q = amplitude*math.Cos(phase), amplitude*math.Sin(phase)
				break
			}
		}
		result[2*k] = byte(math.Round(127.5 + 127.5*i))
		result[2*k+1] = byte(math.Round(127.5 + 127.5*q))
	}
	return result
}

var testPulseStarts = []float64{0.203, 0.703, 1.203, 1.703, 2.203}

func newTestDetectors(targets ...PulseTarget) (*Detectors, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 500_000_000, time.UTC)}
	result := New(testConfig, targets)
	result.SetClock(clock)
	return result, clock
}

func TestDetectors_FindsPulses(t *testing.T) {
	detectors, clock := newTestDetectors(testTarget(testCenterFreq + 10e3))
	samples := synthesizeU8(10e3, testPulseStarts, 0.05, 0.5, 3)

	pulses := detectors.Next(samples)

	require.Len(t, pulses, len(testPulseStarts))
	for _, pulse := range pulses {
		assert.Equal(t, 0, pulse.TargetID)
		assert.Equal(t, float32(testCenterFreq+10e3), pulse.Freq)
		assert.InDelta(t, 0.05, pulse.Duration, 0.02)
		assert.InDelta(t, 0.5, pulse.SignalStrength, 0.1)
		assert.Equal(t, float32(20), pulse.Gain)
		assert.Equal(t, TimestampOf(clock.now), pulse.Timestamp)
	}
	assert.Equal(t, uint64(len(samples)/2/FrameLength), detectors.Frames())
}

func TestDetectors_FrameBoundaryInvariance(t *testing.T) {
	samples := synthesizeU8(10e3, testPulseStarts, 0.05, 0.5, 3)

	whole, _ := newTestDetectors(testTarget(testCenterFreq + 10e3))
	expected := whole.Next(samples)
	require.NotEmpty(t, expected)

	random := rand.New(rand.NewSource(11))
	for _, maxChunk := range []int{2, 100, 2048, 5000} {
		chunked, _ := newTestDetectors(testTarget(testCenterFreq + 10e3))
		var actual []Pulse
		rest := samples
		for len(rest) > 0 {
			n := min(len(rest), 2*random.Intn(maxChunk/2+1))
			actual = append(actual, chunked.Next(rest[:n])...)
			rest = rest[n:]
		}
		assert.Equal(t, expected, actual, "max chunk %d", maxChunk)
	}
}

func TestDetectors_F32MatchesU8(t *testing.T) {
	samples := synthesizeU8(-20e3, testPulseStarts, 0.05, 0.5, 3)
	floats := make([]float32, len(samples))
	for i, v := range samples {
		floats[i] = (float32(v) - 127.5) / 127.5
	}

	u8Detectors, _ := newTestDetectors(testTarget(testCenterFreq - 20e3))
	f32Detectors, _ := newTestDetectors(testTarget(testCenterFreq - 20e3))

	expected := u8Detectors.Next(samples)
	actual := f32Detectors.NextF32(floats)

	require.Len(t, expected, len(testPulseStarts))
	assert.Equal(t, expected, actual)
}

func TestDetectors_TargetFiltering(t *testing.T) {
	targets := []PulseTarget{
		testTarget(testCenterFreq + 10e3),
		testTarget(testCenterFreq + 60e3),
		testTarget(testCenterFreq + testSampleRate/2),
		testTarget(testCenterFreq - 20e3),
	}
	detectors, _ := newTestDetectors(targets...)

	require.Len(t, detectors.Targets(), 2)
	assert.Equal(t, float32(testCenterFreq+10e3), detectors.Targets()[0].Freq)
	assert.Equal(t, float32(testCenterFreq-20e3), detectors.Targets()[1].Freq)

	pulses := detectors.Next(synthesizeU8(-20e3, testPulseStarts, 0.05, 0.5, 3))
	require.NotEmpty(t, pulses)
	for _, pulse := range pulses {
		assert.Equal(t, 1, pulse.TargetID)
		assert.Equal(t, float32(testCenterFreq-20e3), pulse.Freq)
	}
}

func TestDetectors_WrongDurationIsIgnored(t *testing.T) {
	detectors, _ := newTestDetectors(testTarget(testCenterFreq + 10e3))

	pulses := detectors.Next(synthesizeU8(10e3, testPulseStarts[:2], 0.2, 0.5, 1.5))

	assert.Empty(t, pulses)
}

func TestDetectors_EmptyAndOddBuffers(t *testing.T) {
	detectors, _ := newTestDetectors(testTarget(testCenterFreq + 10e3))

	assert.Nil(t, detectors.Next(nil))
	assert.Nil(t, detectors.Next([]byte{}))
	assert.Nil(t, detectors.NextF32(nil))
	assert.Nil(t, detectors.Next([]byte{200}))
	assert.Equal(t, 0, detectors.bank.Position())

	assert.Nil(t, detectors.Next([]byte{1, 2, 3}))
	assert.Equal(t, 1, detectors.bank.Position())
}

func TestDetectors_NoTargets(t *testing.T) {
	detectors, _ := newTestDetectors()

	assert.Empty(t, detectors.Next(synthesizeU8(10e3, testPulseStarts, 0.05, 0.5, 1)))
	assert.Equal(t, float32(100), detectors.SampleRate())
}

func TestU8Conversion(t *testing.T) {
	assert.Equal(t, float32(-1), u8LUT[0])
	assert.Equal(t, float32(1), u8LUT[255])
	assert.InDelta(t, -0.5/127.5, u8LUT[127], 1e-7)
	assert.InDelta(t, 0.5/127.5, u8LUT[128], 1e-7)
}

func TestDurationInFrames(t *testing.T) {
	detectors := New(SdrConfig{SampRate: 2_400_000, CenterFreq: 150_000_000}, []PulseTarget{{
		Freq:             150_100_000,
		Duration:         0.02,
		DurationVariance: 0.005,
		EdgeLength:       10,
		PeakLookahead:    5,
	}})

	require.Len(t, detectors.detectors, 1)
	config := detectors.detectors[0].Config()
	assert.Equal(t, int64(46), config.Duration)
	assert.Equal(t, int64(11), config.DurationVariance)
	assert.Equal(t, 10, config.EdgeLength)
	assert.Equal(t, 5, config.PeakLookahead)
}

type recordingScope struct {
	timeFrames     []*scope.TimeFrame
	spectralFrames []*scope.SpectralFrame
}

func (s *recordingScope) Active() bool { return true }

func (s *recordingScope) ShowTimeFrame(frame *scope.TimeFrame) {
	s.timeFrames = append(s.timeFrames, frame)
}

func (s *recordingScope) ShowSpectralFrame(frame *scope.SpectralFrame) {
	s.spectralFrames = append(s.spectralFrames, frame)
}

func TestDetectors_ShowsFramesOnScope(t *testing.T) {
	detectors, _ := newTestDetectors(testTarget(testCenterFreq + 10e3))
	s := &recordingScope{}
	detectors.SetScope(s)

	detectors.Next(synthesizeU8(10e3, []float64{0}, 1, 0.5, float64(2*spectralFrameInterval*FrameLength)/testSampleRate))

	assert.Len(t, s.timeFrames, 2*spectralFrameInterval)
	assert.Contains(t, s.timeFrames[0].Values, scope.ChannelID("magnitude/0"))
	assert.Contains(t, s.timeFrames[0].Values, scope.ChannelID("edge/0"))

	require.Len(t, s.spectralFrames, 2)
	frame := s.spectralFrames[0]
	assert.Equal(t, SpectrumStream, frame.Stream)
	assert.Len(t, frame.Values, FrameLength)
	assert.Equal(t, float64(testCenterFreq-testSampleRate/2), frame.FromFrequency)
	assert.Equal(t, float64(testCenterFreq+10e3), frame.FrequencyMarkers["target/0"])

	peak := 0
	for i, v := range frame.Values {
		if v > frame.Values[peak] {
			peak = i
		}
	}
	assert.Equal(t, FrameLength/2+100, peak, "10kHz is bin 100")
}

func TestSdrConfig_Validate(t *testing.T) {
	assert.NoError(t, SdrConfig{SampRate: 1_024_000}.Validate())
	assert.ErrorIs(t, SdrConfig{CenterFreq: 150_000_000}.Validate(), ErrNoSampleRate)
}
