package dsp

import "math"

// WindowFunction returns the weight of sample i in a window of the given size.
type WindowFunction func(i int, size int) float64

// WindowLUT generates a lookup table of the given window function, normalized so that its values sum up to 1.
func WindowLUT[T Float](fn WindowFunction, size int) []T {
	var sum float64
	for i := range size {
		sum += fn(i, size)
	}
	norm := 1 / sum

	result := make([]T, size)
	for i := range result {
		result[i] = T(fn(i, size) * norm)
	}
	return result
}

func Rectangular(int, int) float64 {
	return 1
}

func Triangular(i int, size int) float64 {
	n := float64(i)
	s := float64(size)
	return 1 - math.Abs((n-(s-1)/2)/(s/2))
}

func BlackmanHarris(i int, size int) float64 {
	return GenericBlackman(i, size, 0.35875, 0.48829, 0.14128, 0.01168)
}

func BlackmanNuttall(i int, size int) float64 {
	return GenericBlackman(i, size, 0.3635819, 0.4891775, 0.1365995, 0.0106411)
}

// GenericBlackman is the four term Blackman window with the given coefficients.
func GenericBlackman(i int, size int, a0, a1, a2, a3 float64) float64 {
	n := float64(i)
	m := float64(size - 1)

	return a0 - a1*math.Cos(2*math.Pi*n/m) + a2*math.Cos(4*math.Pi*n/m) - a3*math.Cos(6*math.Pi*n/m)
}
