// Package audio streams stereo I/Q samples from a PulseAudio source, e.g. the output of a soundcard SDR.
package audio

import (
	"context"
	"fmt"
	"log"

	"github.com/jfreymuth/pulse"

	"github.com/ftl/tagstrainer/config"
	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/session"
)

const (
	DefaultBlockSize  = 4096
	defaultBufferSize = 64
)

type Driver struct {
	source    string
	blockSize int
}

// New returns a driver that records from the PulseAudio source with the given ID, or from the default source.
// The left channel carries I, the right channel carries Q.
func New(source string, blockSize int) *Driver {
	if blockSize < 1 {
		blockSize = DefaultBlockSize
	}
	return &Driver{
		source:    source,
		blockSize: blockSize,
	}
}

func (d *Driver) Name() string {
	return "pulseaudio"
}

func (d *Driver) Run(ctx context.Context, sdrConfig detector.SdrConfig, sink session.Sink) error {
	client, err := pulse.NewClient(pulse.ClientApplicationName(config.AppName))
	if err != nil {
		return fmt.Errorf("cannot connect to PulseAudio: %w", err)
	}
	defer client.Close()

	var source *pulse.Source
	if d.source == "" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(d.source)
	}
	if err != nil {
		return fmt.Errorf("cannot find PulseAudio source %q: %w", d.source, err)
	}
	if uint64(source.SampleRate()) != sdrConfig.SampRate {
		log.Printf("PulseAudio source %s runs at %d Hz, resampling to %d Hz", source.ID(), source.SampleRate(), sdrConfig.SampRate)
	}

	blocks := newBlockWriter(d.blockSize, defaultBufferSize)
	stream, err := client.NewRecord(
		pulse.Float32Writer(blocks.Write),
		pulse.RecordStereo,
		pulse.RecordSource(source),
		pulse.RecordSampleRate(int(sdrConfig.SampRate)),
		pulse.RecordBufferFragmentSize(uint32(2*d.blockSize)),
	)
	if err != nil {
		return fmt.Errorf("cannot record from PulseAudio: %w", err)
	}
	defer stream.Close()
	if stream.Channels() != 2 {
		return fmt.Errorf("PulseAudio source %s delivers %d channels, need 2", source.ID(), stream.Channels())
	}

	stream.Start()
	defer stream.Stop()
	log.Printf("recording I/Q from PulseAudio source %s", source.ID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case block := <-blocks.out:
			sink.F32(block)
		}
	}
}

// blockWriter collects interleaved samples into fixed size blocks. Blocks are dropped when nobody picks them up.
type blockWriter struct {
	block   []float32
	out     chan []float32
	dropped int
}

func newBlockWriter(blockSize int, bufferSize int) *blockWriter {
	return &blockWriter{
		block: make([]float32, 0, 2*blockSize),
		out:   make(chan []float32, bufferSize),
	}
}

func (w *blockWriter) Write(buf []float32) (int, error) {
	result := len(buf)
	for len(buf) > 0 {
		n := min(len(buf), cap(w.block)-len(w.block))
		w.block = append(w.block, buf[:n]...)
		buf = buf[n:]
		if len(w.block) < cap(w.block) {
			continue
		}

		select {
		case w.out <- w.block:
		default:
			w.dropped++
			if w.dropped%100 == 1 {
				log.Printf("PulseAudio I/Q data skipped, %d blocks dropped", w.dropped)
			}
		}
		w.block = make([]float32, 0, cap(w.block))
	}
	return result, nil
}
