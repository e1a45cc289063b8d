package dsp

// EdgeFilter responds to changes of the signal level. It subtracts the mean of the
// L samples before a point from the mean of the L samples after it, which cancels
// out a constant or slowly drifting noise floor.
type EdgeFilter[T Float] struct {
	delay *Window[T]
	pre   *MovingMean[T]
	post  *MovingMean[T]
}

// NewEdgeFilter returns an edge filter over windows of the given length.
func NewEdgeFilter[T Float](length int) *EdgeFilter[T] {
	return &EdgeFilter[T]{
		delay: NewZeroWindow[T](length),
		pre:   NewZeroMovingMean[T](length),
		post:  NewZeroMovingMean[T](length),
	}
}

func (f *EdgeFilter[T]) Input(sample T) {
	delayed := f.delay.Push(sample)
	f.pre.Push(delayed)
	f.post.Push(sample)
}

func (f *EdgeFilter[T]) Output() T {
	return f.post.Mean() - f.pre.Mean()
}
