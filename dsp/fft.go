package dsp

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// FFT transforms frames of interleaved I/Q samples into a spectrum ordered from the lowest to the highest frequency.
type FFT[T Number] struct {
	samples []complex128
}

func NewFFT[T Number]() *FFT[T] {
	return &FFT[T]{}
}

func (f *FFT[T]) IQToSpectrum(spectrum []T, iqSamples []T, projection func(complex128, int) T) {
	f.setSamplesFromIQ(iqSamples)

	fftResult := fft.FFT(f.samples)
	blockSize := len(fftResult)
	if len(spectrum) != blockSize {
		panic(fmt.Sprintf("the spectrum slice must have the same length as the FFT's result: %d", blockSize))
	}

	for i, value := range fftResult {
		k := binToSpectrumIndex(i, blockSize)
		spectrum[k] = projection(value, blockSize)
	}
}

func binToSpectrumIndex(bin int, blockSize int) int {
	centerBin := blockSize / 2
	return (bin + centerBin) % blockSize
}

// SpectrumIndexToFrequency returns the frequency offset in Hz of the given spectrum index.
func SpectrumIndexToFrequency(index int, blockSize int, sampleRate float64) float64 {
	binSize := sampleRate / float64(blockSize)
	return float64(index-blockSize/2) * binSize
}

func (f *FFT[T]) setSamplesFromIQ(iqSamples []T) {
	blockSize := len(iqSamples) / 2
	if len(f.samples) != blockSize {
		f.samples = make([]complex128, blockSize)
	}
	for i := range f.samples {
		iSample := float64(iqSamples[i*2])
		qSample := float64(iqSamples[i*2+1])
		f.samples[i] = complex(iSample, qSample)
	}
}

func PSD[T Number](fftValue complex128, blockSize int) T {
	return T(math.Pow(real(fftValue), 2) + math.Pow(imag(fftValue), 2))
}

// Magnitude is normalized to the block size, a complex tone of amplitude A results in A.
func Magnitude[T Number](fftValue complex128, blockSize int) T {
	return T(math.Sqrt(float64(PSD[float64](fftValue, blockSize))) / float64(blockSize))
}

func MagnitudeIndB[T Number](fftValue complex128, blockSize int) T {
	return T(20.0 * math.Log10(float64(Magnitude[float64](fftValue, blockSize))))
}
