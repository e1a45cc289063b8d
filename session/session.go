// Package session manages the stream of samples from a receiver into the tag detectors.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/protocol"
	"github.com/ftl/tagstrainer/scope"
	"github.com/ftl/tagstrainer/trace"
)

const DefaultRetryInterval = 1 * time.Second

var ErrUnknownMode = errors.New("unknown mode")

// Sink receives blocks of interleaved I/Q samples from a driver.
type Sink interface {
	U8(samples []byte)
	F32(samples []float32)
}

// Driver streams samples from a receiver into a sink until the context is done or the
// receiver fails. A driver that returns nil has no more samples to offer.
type Driver interface {
	Name() string
	Run(ctx context.Context, config detector.SdrConfig, sink Sink) error
}

// TargetedDriver is implemented by drivers that need to know the current targets.
type TargetedDriver interface {
	Driver
	SetTargets(targets []detector.PulseTarget)
}

// PulseHandler is called for every detected pulse from within the stream goroutine. It must not block.
type PulseHandler func(detector.Pulse)

type Status struct {
	Mode          string                 `json:"mode"`
	Streaming     bool                   `json:"streaming"`
	SdrConfig     detector.SdrConfig     `json:"sdr_config"`
	PulseTargets  []detector.PulseTarget `json:"pulse_targets"`
	ActiveTargets int                    `json:"active_targets"`
	Pulses        uint64                 `json:"pulses"`
	Restarts      uint64                 `json:"restarts"`
	LastError     string                 `json:"last_error,omitempty"`
}

type Session struct {
	driver  Driver
	handler PulseHandler

	op        chan func()
	close     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	// owned by the run loop
	config        detector.SdrConfig
	targets       []detector.PulseTarget
	stream        *stream
	clock         detector.Clock
	scope         scope.Scope
	tracer        trace.Tracer
	retryInterval time.Duration

	pulses    atomic.Uint64
	restarts  atomic.Uint64
	statsLock sync.Mutex
	lastError error
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *stream) running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func New(driver Driver, config detector.SdrConfig, targets []detector.PulseTarget, handler PulseHandler) *Session {
	if handler == nil {
		handler = func(detector.Pulse) {}
	}
	result := &Session{
		driver:  driver,
		handler: handler,

		op:     make(chan func()),
		close:  make(chan struct{}),
		closed: make(chan struct{}),

		config:        config,
		targets:       targets,
		clock:         detector.WallClock,
		scope:         scope.NewNullScope(),
		retryInterval: DefaultRetryInterval,
	}

	go result.run()

	return result
}

func (s *Session) run() {
	defer close(s.closed)
	for {
		select {
		case op := <-s.op:
			op()
		case <-s.close:
			s.stopStream()
			if s.tracer != nil {
				s.tracer.Stop()
			}
			return
		}
	}
}

// Close stops streaming and terminates the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.close)
	})
	<-s.closed
}

// do runs f in the session's run loop and waits until f is done.
func (s *Session) do(f func()) {
	done := make(chan struct{})
	select {
	case s.op <- func() { f(); close(done) }:
		<-done
	case <-s.closed:
	}
}

func (s *Session) SetClock(clock detector.Clock) {
	s.do(func() {
		s.clock = clock
	})
}

func (s *Session) SetScope(sc scope.Scope) {
	s.do(func() {
		s.scope = sc
	})
}

func (s *Session) SetTracer(tracer trace.Tracer) {
	s.do(func() {
		if s.tracer != nil {
			s.tracer.Stop()
		}
		s.tracer = tracer
		if s.tracer != nil {
			s.tracer.Start()
		}
	})
}

func (s *Session) SetRetryInterval(interval time.Duration) {
	s.do(func() {
		s.retryInterval = interval
	})
}

// SetTargets replaces the pulse targets. A running stream is restarted with the new targets.
func (s *Session) SetTargets(targets []detector.PulseTarget) {
	s.do(func() {
		s.targets = targets
		log.Printf("new pulse targets: %d", len(targets))
		s.restartStream()
	})
}

// SetSdrConfig replaces the receiver configuration. A running stream is restarted with the new configuration.
// An invalid configuration is rejected and reported as the last error.
func (s *Session) SetSdrConfig(config detector.SdrConfig) {
	if err := config.Validate(); err != nil {
		log.Printf("invalid sdr config rejected: %v", err)
		s.setLastError(err)
		return
	}
	s.do(func() {
		s.config = config
		log.Printf("new sdr config: %d Hz @ %d samples/s", config.CenterFreq, config.SampRate)
		s.restartStream()
	})
}

// Start streaming. Starting a running stream has no effect.
func (s *Session) Start() {
	s.do(func() {
		if s.stream != nil && s.stream.running() {
			return
		}
		s.startStream()
	})
}

// Stop streaming and wait until the driver has released the receiver.
func (s *Session) Stop() {
	s.do(s.stopStream)
}

// Handle applies a message from a client.
func (s *Session) Handle(msg protocol.UpMessage) {
	switch msg := msg.(type) {
	case protocol.PulseTargets:
		s.SetTargets(msg)
	case protocol.SdrConfigUpdate:
		s.SetSdrConfig(msg.Config)
	case protocol.Start:
		s.Start()
	case protocol.Stop:
		s.Stop()
	default:
		log.Printf("unhandled message %T", msg)
	}
}

func (s *Session) Status() Status {
	var result Status
	s.do(func() {
		result = Status{
			Mode:         s.driver.Name(),
			Streaming:    s.stream != nil && s.stream.running(),
			SdrConfig:    s.config,
			PulseTargets: append([]detector.PulseTarget{}, s.targets...),
		}
		for _, target := range s.targets {
			if s.config.Contains(target.Freq) {
				result.ActiveTargets++
			}
		}
	})
	result.Pulses = s.pulses.Load()
	result.Restarts = s.restarts.Load()
	s.statsLock.Lock()
	if s.lastError != nil {
		result.LastError = s.lastError.Error()
	}
	s.statsLock.Unlock()
	return result
}

func (s *Session) restartStream() {
	if s.stream == nil || !s.stream.running() {
		return
	}
	s.stopStream()
	s.startStream()
}

func (s *Session) startStream() {
	ctx, cancel := context.WithCancel(context.Background())
	st := &stream{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.stream = st

	config := s.config
	targets := append([]detector.PulseTarget{}, s.targets...)
	clock, sc, tracer := s.clock, s.scope, s.tracer
	retryInterval := s.retryInterval
	newDetectors := func() *detector.Detectors {
		result := detector.New(config, targets)
		result.SetClock(clock)
		result.SetScope(sc)
		if tracer != nil {
			result.SetTracer(tracer)
		}
		return result
	}

	go func() {
		defer close(st.done)
		defer cancel()
		for {
			detectors := newDetectors()
			if targeted, ok := s.driver.(TargetedDriver); ok {
				targeted.SetTargets(detectors.Targets())
			}
			log.Printf("starting %s stream with %d targets", s.driver.Name(), len(detectors.Targets()))

			err := s.driver.Run(ctx, config, &detectorSink{detectors: detectors, handler: s.handlePulse})
			if ctx.Err() != nil {
				log.Printf("%s stream stopped", s.driver.Name())
				return
			}
			if err == nil {
				log.Printf("%s stream ended", s.driver.Name())
				return
			}

			log.Printf("%s stream failed, retrying in %v: %v", s.driver.Name(), retryInterval, err)
			s.setLastError(err)
			s.restarts.Add(1)

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryInterval):
			}
		}
	}()
}

func (s *Session) stopStream() {
	if s.stream == nil {
		return
	}
	s.stream.cancel()
	<-s.stream.done
	s.stream = nil
}

func (s *Session) handlePulse(pulse detector.Pulse) {
	s.pulses.Add(1)
	s.handler(pulse)
}

func (s *Session) setLastError(err error) {
	s.statsLock.Lock()
	defer s.statsLock.Unlock()
	s.lastError = err
}

type detectorSink struct {
	detectors *detector.Detectors
	handler   PulseHandler
}

func (s *detectorSink) U8(samples []byte) {
	for _, pulse := range s.detectors.Next(samples) {
		s.handler(pulse)
	}
}

func (s *detectorSink) F32(samples []float32) {
	for _, pulse := range s.detectors.NextF32(samples) {
		s.handler(pulse)
	}
}

// Detect runs the driver once and feeds its samples into the given detectors.
func Detect(ctx context.Context, driver Driver, detectors *detector.Detectors, handler PulseHandler) error {
	if targeted, ok := driver.(TargetedDriver); ok {
		targeted.SetTargets(detectors.Targets())
	}
	return driver.Run(ctx, detectors.Config(), &detectorSink{detectors: detectors, handler: handler})
}
