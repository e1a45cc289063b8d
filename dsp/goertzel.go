package dsp

import (
	"math"
	"math/cmplx"
)

// DefaultFrameLength is the number of samples that contribute to one output frame of a GoertzelBank.
const DefaultFrameLength = 1024

// GoertzelBank estimates the magnitude of a complex signal at a set of target frequencies.
// It runs one Goertzel resonator per target frequency on a windowed frame of samples.
// Exactly FrameLength() calls of Input must happen between two calls of Output.
// See also:
// * https://www.embedded.com/the-goertzel-algorithm/
type GoertzelBank struct {
	targets   []float64
	coeffs    []float64
	rotations []complex128
	prev      [][2]complex128
	window    []float64
	i         int
}

// NewGoertzelBank returns a filter bank for the given frequencies (in Hz, relative to the center of the signal).
func NewGoertzelBank(sampleRate float64, frequencies []float64, frameLength int, window WindowFunction) *GoertzelBank {
	result := &GoertzelBank{
		targets:   make([]float64, len(frequencies)),
		coeffs:    make([]float64, len(frequencies)),
		rotations: make([]complex128, len(frequencies)),
		prev:      make([][2]complex128, len(frequencies)),
		window:    WindowLUT[float64](window, frameLength),
	}
	for i, f := range frequencies {
		target := 2 * math.Pi * f / sampleRate
		result.targets[i] = target
		result.coeffs[i] = 2 * math.Cos(target)
		result.rotations[i] = cmplx.Exp(complex(0, -target))
	}
	return result
}

// FrameLength returns the number of samples per frame.
func (g *GoertzelBank) FrameLength() int {
	return len(g.window)
}

// Len returns the number of target frequencies.
func (g *GoertzelBank) Len() int {
	return len(g.targets)
}

// Position returns the number of samples that were added to the current frame.
func (g *GoertzelBank) Position() int {
	return g.i
}

// Input adds the next complex sample to the current frame.
func (g *GoertzelBank) Input(re, im float32) {
	sample := complex(float64(re), float64(im)) * complex(g.window[g.i], 0)

	for k, coeff := range g.coeffs {
		prev := &g.prev[k]
		value := sample + complex(coeff, 0)*prev[1] - prev[0]
		prev[0] = prev[1]
		prev[1] = value
	}

	g.i++
}

// InputIQ adds the next I/Q sample to the current frame. Output evaluates the mirrored bin of
// its input, swapping I and Q compensates so that a tone at +f shows up in the bin of +f.
func (g *GoertzelBank) InputIQ(i, q float32) {
	g.Input(q, i)
}

// Output writes the magnitude of each target frequency into dst, resizing it if necessary,
// and clears the filter for the next frame.
func (g *GoertzelBank) Output(dst []float32) []float32 {
	if len(dst) != len(g.targets) {
		dst = make([]float32, len(g.targets))
	}

	g.i = 0
	for k := range g.prev {
		q1, q2 := g.prev[k][1], g.prev[k][0]
		g.prev[k] = [2]complex128{}

		dst[k] = float32(cmplx.Abs(q2 - g.rotations[k]*q1))
	}

	return dst
}
