package export

import (
	"context"
	"errors"
	"sync"

	"github.com/ftl/tagstrainer/detector"
)

// ErrExportEnded is returned when pulses are queued after the exporter has stopped.
var ErrExportEnded = errors.New("pulse export ended")

// Queue feeds pulses into an exporter that runs in its own goroutine.
type Queue struct {
	pulses    chan detector.Pulse
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func NewQueue(exporter Exporter, size int) *Queue {
	result := &Queue{
		pulses: make(chan detector.Pulse, size),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(result.done)
		result.err = exporter.Write(context.Background(), result.pulses)
	}()

	return result
}

// Offer queues the pulse without blocking. It returns false if the pulse was dropped.
func (q *Queue) Offer(pulse detector.Pulse) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.pulses <- pulse:
		return true
	default:
		return false
	}
}

// Put waits until the pulse is queued. If the exporter has stopped, Put returns its error.
func (q *Queue) Put(pulse detector.Pulse) error {
	select {
	case <-q.done:
		return q.exportError()
	default:
	}
	select {
	case q.pulses <- pulse:
		return nil
	case <-q.done:
		return q.exportError()
	}
}

// Close waits until the exporter has written all queued pulses. Offer and Put must not be called after Close.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.pulses)
	})
	<-q.done
	return q.err
}

func (q *Queue) exportError() error {
	if q.err != nil {
		return q.err
	}
	return ErrExportEnded
}
