package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"

	"github.com/ftl/tagstrainer/detector"
)

var csvHeader = []string{
	"TargetID",
	"Freq",
	"Duration",
	"SignalStrength",
	"StrengthDB",
	"Gain",
	"TimestampUnixMilli",
}

// CSV writes one line per pulse and flushes after every line.
type CSV struct {
	Header bool

	w *csv.Writer
}

func NewCSV(w io.Writer) *CSV {
	return &CSV{
		Header: true,
		w:      csv.NewWriter(w),
	}
}

func (c *CSV) Write(ctx context.Context, pulses <-chan detector.Pulse) error {
	if c.Header {
		if err := c.writeLine(csvHeader); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pulse, ok := <-pulses:
			if !ok {
				return nil
			}
			if err := c.writeLine(FormatPulse(pulse)); err != nil {
				log.Printf("error while writing CSV line: %v", err)
			}
		}
	}
}

func (c *CSV) writeLine(line []string) error {
	if err := c.w.Write(line); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// FormatPulse returns the CSV fields of the given pulse.
func FormatPulse(pulse detector.Pulse) []string {
	return []string{
		fmt.Sprintf("%d", pulse.TargetID),
		fmt.Sprintf("%.0f", pulse.Freq),
		fmt.Sprintf("%f", pulse.Duration),
		fmt.Sprintf("%f", pulse.SignalStrength),
		fmt.Sprintf("%.1f", pulse.StrengthDB()),
		fmt.Sprintf("%f", pulse.Gain),
		fmt.Sprintf("%d", pulse.Timestamp.Millis()),
	}
}
