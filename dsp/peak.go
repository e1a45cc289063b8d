package dsp

type direction int

const (
	rising direction = iota
	falling
)

// PeakDetector finds local maxima and minima that exceed a threshold. It evaluates every value
// with a lag of the look-ahead length and rejects peaks that are about to be superseded by a
// bigger value inside the look-ahead window.
type PeakDetector[T Float] struct {
	threshold T
	lookahead *Window[T]
	direction direction
	prev      T
}

// NewPeakDetector returns a peak detector with the given threshold and look-ahead length.
func NewPeakDetector[T Float](threshold T, lookahead int) *PeakDetector[T] {
	return &PeakDetector[T]{
		threshold: threshold,
		lookahead: NewZeroWindow[T](lookahead),
		direction: rising,
	}
}

// Input processes the next sample and returns a peak value if one was found.
func (d *PeakDetector[T]) Input(sample T) (T, bool) {
	value := d.lookahead.Push(sample)
	prev := d.prev
	d.prev = value

	if abs(value) < d.threshold {
		if value < prev {
			d.direction = falling
		} else {
			d.direction = rising
		}
		return 0, false
	}

	increasing := value > prev
	switch {
	case d.direction == rising && !increasing:
		if d.anyAhead(func(v T) bool { return v > prev }) {
			return 0, false
		}
		d.direction = falling
		return prev, true
	case d.direction == falling && increasing:
		if d.anyAhead(func(v T) bool { return v < prev }) {
			return 0, false
		}
		d.direction = rising
		return prev, true
	default:
		return 0, false
	}
}

func (d *PeakDetector[T]) anyAhead(f func(T) bool) bool {
	for v := range d.lookahead.All() {
		if f(v) {
			return true
		}
	}
	return false
}
