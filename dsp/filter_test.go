package dsp

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeFilter_StepResponse(t *testing.T) {
	tt := []struct {
		desc   string
		length int
		offset float32
		value  float32
	}{
		{desc: "step from zero", length: 4, offset: 0, value: 2},
		{desc: "step on top of a noise floor", length: 5, offset: 3, value: 0.5},
		{desc: "falling step", length: 3, offset: 1, value: -0.75},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			filter := NewEdgeFilter[float32](tc.length)
			settle := 2 * tc.length
			step := settle + 3*tc.length

			outputs := make([]float32, 0, step+3*tc.length)
			for i := range cap(outputs) {
				sample := tc.offset
				if i >= step {
					sample += tc.value
				}
				filter.Input(sample)
				outputs = append(outputs, filter.Output())
			}

			for i := settle; i < step; i++ {
				assert.InDelta(t, 0, outputs[i], 1e-5, "before step %d", i)
			}
			for i := step; i < step+tc.length-1; i++ {
				assert.Less(t, abs(outputs[i]), abs(outputs[i+1]), "rising %d", i)
			}
			assert.InDelta(t, tc.value, outputs[step+tc.length-1], 1e-5)
			for i := step + 2*tc.length - 1; i < len(outputs); i++ {
				assert.InDelta(t, 0, outputs[i], 1e-5, "after step %d", i)
			}
		})
	}
}

func collectPeaks(detector *PeakDetector[float32], samples []float32) []float32 {
	var result []float32
	for _, sample := range samples {
		if peak, ok := detector.Input(sample); ok {
			result = append(result, peak)
		}
	}
	return result
}

func TestPeakDetector_FlatSignalHasNoPeaks(t *testing.T) {
	random := rand.New(rand.NewSource(3))
	zeros := make([]float32, 10000)
	belowThreshold := make([]float32, 10000)
	for i := range belowThreshold {
		belowThreshold[i] = (random.Float32()*2 - 1) * 0.099
	}

	for _, lookahead := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("lookahead_%d", lookahead), func(t *testing.T) {
			assert.Empty(t, collectPeaks(NewPeakDetector[float32](0.1, lookahead), zeros))
			assert.Empty(t, collectPeaks(NewPeakDetector[float32](0.1, lookahead), belowThreshold))
		})
	}
}

func TestPeakDetector_Peaks(t *testing.T) {
	tt := []struct {
		desc      string
		threshold float32
		lookahead int
		samples   []float32
		expected  []float32
	}{
		{
			desc:      "triangle",
			threshold: 0.5,
			lookahead: 1,
			samples:   []float32{0, 1, 2, 3, 2, 1, 0, -1, -2, -3, -2, -1, 0, 0},
			expected:  []float32{3, -3},
		},
		{
			desc:      "plateau counts as still rising",
			threshold: 0.5,
			lookahead: 1,
			samples:   []float32{0, 1, 2, 2, 1, 0, 0},
			expected:  []float32{2},
		},
		{
			desc:      "short look-ahead accepts the first hump",
			threshold: 0.5,
			lookahead: 1,
			samples:   []float32{2, 1.5, 1.4, 3, 1, 0, 0, 0, 0, 0},
			expected:  []float32{2},
		},
		{
			desc:      "long look-ahead rejects the first hump",
			threshold: 0.5,
			lookahead: 3,
			samples:   []float32{2, 1.5, 1.4, 3, 1, 0, 0, 0, 0, 0},
			expected:  []float32{3},
		},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			actual := collectPeaks(NewPeakDetector(tc.threshold, tc.lookahead), tc.samples)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

var squarePulse = []float32{0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0}

func squarePulseConfig(duration, variance int64) PulseConfig[float32] {
	return PulseConfig[float32]{
		Duration:         duration,
		DurationVariance: variance,
		Threshold:        0.1,
		EdgeLength:       3,
		PeakLookahead:    1,
	}
}

func TestPulseDetector_SquarePulse(t *testing.T) {
	detector := NewPulseDetector(squarePulseConfig(4, 1))

	pulses := slices.Collect(detector.Pulses(slices.Values(squarePulse)))

	require.Len(t, pulses, 1)
	assert.Equal(t, int64(4), pulses[0].Duration)
	assert.InDelta(t, 1.0, pulses[0].MaxSignalStrength, 1e-6)
	assert.Equal(t, int64(len(squarePulse)), pulses[0].ElapsedSamples)
}

func TestPulseDetector_DurationVariance(t *testing.T) {
	tt := []struct {
		duration int64
		variance int64
		expected bool
	}{
		{duration: 4, variance: 0, expected: true},
		{duration: 3, variance: 1, expected: true},
		{duration: 5, variance: 1, expected: true},
		{duration: 2, variance: 2, expected: true},
		{duration: 2, variance: 1, expected: false},
		{duration: 6, variance: 1, expected: false},
		{duration: 5, variance: 0, expected: false},
	}
	for _, tc := range tt {
		t.Run(fmt.Sprintf("%d_%d", tc.duration, tc.variance), func(t *testing.T) {
			detector := NewPulseDetector(squarePulseConfig(tc.duration, tc.variance))

			pulses := slices.Collect(detector.Pulses(slices.Values(squarePulse)))

			if tc.expected {
				assert.Len(t, pulses, 1)
			} else {
				assert.Empty(t, pulses)
			}
			assert.Equal(t, int64(0), detector.count, "detector must be idle")
		})
	}
}

func TestPulseDetector_ElapsedSamplesSurviveRejectedPulses(t *testing.T) {
	detector := NewPulseDetector(squarePulseConfig(4, 1))
	widePulse := []float32{0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0}

	samples := slices.Concat(squarePulse, widePulse, squarePulse)
	pulses := slices.Collect(detector.Pulses(slices.Values(samples)))

	require.Len(t, pulses, 2)
	assert.Equal(t, int64(4), pulses[1].Duration)
	assert.Equal(t, int64(len(widePulse)+len(squarePulse)), pulses[1].ElapsedSamples)
}

func TestPulseDetector_FlatSignal(t *testing.T) {
	detector := NewPulseDetector(squarePulseConfig(4, 1))
	for range 10000 {
		_, ok := detector.Input(0.05)
		require.False(t, ok)
	}
}

func TestWindowLUT_IsNormalized(t *testing.T) {
	tt := []struct {
		desc string
		fn   WindowFunction
	}{
		{"rectangular", Rectangular},
		{"triangular", Triangular},
		{"blackman-harris", BlackmanHarris},
		{"blackman-nuttall", BlackmanNuttall},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			lut := WindowLUT[float64](tc.fn, DefaultFrameLength)
			require.Len(t, lut, DefaultFrameLength)

			var sum float64
			for _, v := range lut {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			assert.InDelta(t, lut[1], lut[len(lut)-2], 1e-9, "symmetric")
		})
	}
}

func TestBlackmanHarris_Edges(t *testing.T) {
	assert.InDelta(t, 0.00006, BlackmanHarris(0, 1024), 1e-9)
	assert.InDelta(t, 0.00006, BlackmanHarris(1023, 1024), 1e-9)
}

func complexTone(frequency, amplitude, sampleRate float64, n int) (float32, float32) {
	phase := 2 * math.Pi * frequency * float64(n) / sampleRate
	return float32(amplitude * math.Cos(phase)), float32(amplitude * math.Sin(phase))
}

func TestGoertzelBank_ToneResponse(t *testing.T) {
	const sampleRate = 1024000.0
	targets := []float64{100e3, -100e3, 50e3, 0}
	bank := NewGoertzelBank(sampleRate, targets, DefaultFrameLength, BlackmanHarris)
	require.Equal(t, 4, bank.Len())
	require.Equal(t, DefaultFrameLength, bank.FrameLength())

	for n := range DefaultFrameLength {
		bank.InputIQ(complexTone(100e3, 0.8, sampleRate, n))
	}
	require.Equal(t, DefaultFrameLength, bank.Position())
	magnitudes := bank.Output(nil)

	assert.InDelta(t, 0.8, magnitudes[0], 1e-3)
	assert.Less(t, magnitudes[1], float32(1e-3), "mirrored frequency")
	assert.Less(t, magnitudes[2], float32(1e-3))
	assert.Less(t, magnitudes[3], float32(1e-3))
	assert.Equal(t, 0, bank.Position())
}

func TestGoertzelBank_OutputClearsState(t *testing.T) {
	const sampleRate = 1024000.0
	bank := NewGoertzelBank(sampleRate, []float64{-20e3}, DefaultFrameLength, BlackmanHarris)

	for n := range DefaultFrameLength {
		bank.InputIQ(complexTone(-20e3, 0.5, sampleRate, n))
	}
	magnitudes := bank.Output(nil)
	assert.InDelta(t, 0.5, magnitudes[0], 1e-3)

	for range DefaultFrameLength {
		bank.InputIQ(0, 0)
	}
	reused := bank.Output(magnitudes)
	assert.Equal(t, float32(0), reused[0])
	assert.Same(t, &magnitudes[0], &reused[0])
}
