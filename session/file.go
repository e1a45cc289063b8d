package session

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/ftl/tagstrainer/detector"
)

const defaultFileBlockSize = 16384

type SampleFormat string

const (
	FormatU8  SampleFormat = "u8"
	FormatF32 SampleFormat = "f32"
)

type FileConfig struct {
	Path   string
	Format SampleFormat
	// Loop restarts at the beginning of the file.
	Loop bool
	// Realtime replays the file at the configured sample rate.
	Realtime bool
	// BlockSize is the number of I/Q samples per block.
	BlockSize int
}

// FileReplay reads raw interleaved I/Q samples from a file: unsigned 8-bit or little endian 32-bit float.
type FileReplay struct {
	config FileConfig
}

func NewFileReplay(config FileConfig) *FileReplay {
	if config.BlockSize < 1 {
		config.BlockSize = defaultFileBlockSize
	}
	return &FileReplay{config: config}
}

func (f *FileReplay) Name() string {
	return "file"
}

func (f *FileReplay) Run(ctx context.Context, config detector.SdrConfig, sink Sink) error {
	file, err := os.Open(f.config.Path)
	if err != nil {
		return fmt.Errorf("cannot open I/Q file: %w", err)
	}
	defer file.Close()

	var sampleSize int
	switch f.config.Format {
	case FormatU8:
		sampleSize = 1
	case FormatF32:
		sampleSize = 4
	default:
		return fmt.Errorf("unknown sample format %q", f.config.Format)
	}

	var ticker *time.Ticker
	if f.config.Realtime && config.SampRate > 0 {
		ticker = time.NewTicker(time.Duration(float64(f.config.BlockSize) / float64(config.SampRate) * float64(time.Second)))
		defer ticker.Stop()
	}

	reader := bufio.NewReader(file)
	buffer := make([]byte, 2*f.config.BlockSize*sampleSize)
	floats := make([]float32, 2*f.config.BlockSize)
	var passBytes int
	for {
		n, err := io.ReadFull(reader, buffer)
		passBytes += n
		if n > 0 {
			switch f.config.Format {
			case FormatU8:
				sink.U8(buffer[:n])
			case FormatF32:
				sink.F32(decodeF32(floats, buffer[:n]))
			}
		}

		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if !f.config.Loop {
				return nil
			}
			if passBytes == 0 {
				return fmt.Errorf("cannot loop over the empty file %s", f.config.Path)
			}
			passBytes = 0
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("cannot rewind I/Q file: %w", err)
			}
			reader.Reset(file)
		case err != nil:
			return fmt.Errorf("cannot read I/Q file: %w", err)
		}

		if ticker == nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func decodeF32(dst []float32, raw []byte) []float32 {
	n := len(raw) / 4
	for i := range n {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return dst[:n]
}
