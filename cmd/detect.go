package cmd

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftl/tagstrainer/config"
	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/export"
	"github.com/ftl/tagstrainer/scope"
	"github.com/ftl/tagstrainer/session"
)

var detectFlags = struct {
	format string
	start  string
	export bool
}{}

var detectCmd = &cobra.Command{
	Use:   "detect <iq file>",
	Short: "detect pulses in a recorded I/Q file",
	Long: `Detect pulses in a file of raw interleaved I/Q samples, recorded with the sample rate and center frequency of the configuration.
The pulses are written as CSV to stdout, or to the configured export with --export.`,
	Args: cobra.ExactArgs(1),
	Run:  runWithCtx(runDetect),
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVar(&detectFlags.format, "format", "u8", "u8 | f32")
	detectCmd.Flags().StringVar(&detectFlags.start, "start", "", "the time of the first sample in RFC3339 format, default: the modification time of the file minus its duration")
	detectCmd.Flags().BoolVar(&detectFlags.export, "export", false, "write the pulses to the configured export instead of stdout")
}

func runDetect(ctx context.Context, sc scope.Scope, cmd *cobra.Command, args []string) {
	settings := loadSettings()
	filename := args[0]
	format := session.SampleFormat(detectFlags.format)
	if format != session.FormatU8 && format != session.FormatF32 {
		log.Fatalf("unknown sample format %q", detectFlags.format)
	}

	exportSettings := config.ExportSettings{Type: config.ExportCSV, File: "-"}
	if detectFlags.export {
		exportSettings = settings.Export
	}
	exporter, closer, err := export.Open(exportSettings)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	start, err := recordingStart(filename, format, settings.SdrConfig.SampRate)
	if err != nil {
		log.Fatal(err)
	}

	queue := export.NewQueue(exporter, exportBufferSize)

	replay := session.NewFileReplay(session.FileConfig{Path: filename, Format: format})
	detectors := detector.New(settings.SdrConfig, settings.PulseTargets)
	detectors.SetClock(&sampleClock{start: start, detectors: detectors})
	detectors.SetScope(sc)
	if tracer := createTracer(); tracer != nil {
		tracer.Start()
		defer tracer.Stop()
		detectors.SetTracer(tracer)
	}

	detectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err = session.Detect(detectCtx, replay, detectors, func(pulse detector.Pulse) {
		if err := queue.Put(pulse); err != nil {
			cancel()
		}
	})
	if exportErr := queue.Close(); exportErr != nil {
		log.Fatal(exportErr)
	}
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("processed %d frames of %s", detectors.Frames(), filename)
}

// recordingStart estimates the time of the first sample from the modification time and the size of the file.
func recordingStart(filename string, format session.SampleFormat, sampleRate uint64) (time.Time, error) {
	if detectFlags.start != "" {
		return time.Parse(time.RFC3339, detectFlags.start)
	}
	info, err := os.Stat(filename)
	if err != nil {
		return time.Time{}, err
	}
	sampleSize := int64(2)
	if format == session.FormatF32 {
		sampleSize = 8
	}
	samples := info.Size() / sampleSize
	duration := time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
	return info.ModTime().Add(-duration), nil
}

// sampleClock derives the time from the number of processed frames.
type sampleClock struct {
	start     time.Time
	detectors *detector.Detectors
}

func (c *sampleClock) Now() time.Time {
	elapsed := float64(c.detectors.Frames()) / float64(c.detectors.SampleRate())
	return c.start.Add(time.Duration(elapsed * float64(time.Second)))
}
