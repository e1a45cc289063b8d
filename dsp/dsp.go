// Package dsp provides generic streaming building blocks for the pulse detection.
package dsp

import (
	"iter"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

type Float interface {
	constraints.Float
}

func abs[T Number](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// Window is a fixed-capacity FIFO. Every push evicts the oldest value.
type Window[T any] struct {
	values []T
	next   int
}

// NewWindow returns a window seeded with the given values. Its capacity is len(initial).
func NewWindow[T any](initial []T) *Window[T] {
	values := make([]T, len(initial))
	copy(values, initial)
	return &Window[T]{
		values: values,
	}
}

// NewZeroWindow returns a window of the given capacity filled with zero values.
func NewZeroWindow[T any](capacity int) *Window[T] {
	return &Window[T]{
		values: make([]T, capacity),
	}
}

// Len returns the capacity of the window.
func (w *Window[T]) Len() int {
	return len(w.values)
}

// Push appends the given value and returns the value that fell off the front.
func (w *Window[T]) Push(value T) T {
	evicted := w.values[w.next]
	w.values[w.next] = value
	w.next++
	if w.next == len(w.values) {
		w.next = 0
	}
	return evicted
}

// All yields the current content, oldest first.
func (w *Window[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		n := len(w.values)
		for i := range n {
			if !yield(w.values[(w.next+i)%n]) {
				return
			}
		}
	}
}

// Values returns a copy of the current content, oldest first.
func (w *Window[T]) Values() []T {
	result := make([]T, 0, len(w.values))
	for v := range w.All() {
		result = append(result, v)
	}
	return result
}

// MovingMean keeps the mean over the values of a window, updated incrementally.
// Repeated updates accumulate floating point drift over very long runs.
type MovingMean[T Float] struct {
	window *Window[T]
	n      T
	mean   T
}

// NewMovingMean returns a moving mean seeded with the given values.
func NewMovingMean[T Float](initial []T) *MovingMean[T] {
	var sum T
	for _, v := range initial {
		sum += v
	}
	n := T(len(initial))
	return &MovingMean[T]{
		window: NewWindow(initial),
		n:      n,
		mean:   sum / n,
	}
}

// NewZeroMovingMean returns a moving mean over n zero values.
func NewZeroMovingMean[T Float](n int) *MovingMean[T] {
	return &MovingMean[T]{
		window: NewZeroWindow[T](n),
		n:      T(n),
	}
}

// Push a new value into the window and get the new mean back.
func (m *MovingMean[T]) Push(value T) T {
	evicted := m.window.Push(value)
	m.mean += (value - evicted) / m.n
	return m.mean
}

// Mean returns the current mean value.
func (m *MovingMean[T]) Mean() T {
	return m.mean
}

// All yields the values of the underlying window, oldest first.
func (m *MovingMean[T]) All() iter.Seq[T] {
	return m.window.All()
}
