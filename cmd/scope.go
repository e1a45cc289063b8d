package cmd

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ftl/tagstrainer/scope"
)

var scopeFlags = struct {
	spectrum bool
}{}

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "print the scope frames of a running instance",
	Run:   runWithCtx(runScope),
}

func init() {
	rootCmd.AddCommand(scopeCmd)

	scopeCmd.Flags().BoolVar(&scopeFlags.spectrum, "spectrum", false, "print the spectral frames instead of the time frames")
}

func runScope(ctx context.Context, _ scope.Scope, cmd *cobra.Command, args []string) {
	client := scope.NewClient(rootFlags.scopeAddress)
	if err := client.Open(); err != nil {
		log.Fatalf("cannot connect to scope server: %v", err)
	}
	defer client.Close()

	timeFrames, spectralFrames, err := client.GetFrames(ctx)
	if err != nil {
		log.Fatalf("cannot get frames: %v", err)
	}

	for timeFrames != nil || spectralFrames != nil {
		select {
		case frame, ok := <-timeFrames:
			if !ok {
				timeFrames = nil
				continue
			}
			if !scopeFlags.spectrum {
				fmt.Println(formatTimeFrame(frame))
			}
		case frame, ok := <-spectralFrames:
			if !ok {
				spectralFrames = nil
				continue
			}
			if scopeFlags.spectrum {
				fmt.Println(formatSpectralFrame(frame))
			}
		}
	}
}

func formatTimeFrame(frame *scope.TimeFrame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", frame.Timestamp.Format("15:04:05.000"), frame.Stream)
	for _, channel := range slices.Sorted(maps.Keys(frame.Values)) {
		fmt.Fprintf(&b, " %s=%.4f", channel, frame.Values[channel])
	}
	return b.String()
}

func formatSpectralFrame(frame *scope.SpectralFrame) string {
	var peak int
	for i, value := range frame.Values {
		if value > frame.Values[peak] {
			peak = i
		}
	}
	var peakFrequency float64
	if len(frame.Values) > 0 {
		peakFrequency = frame.FromFrequency + float64(peak)*(frame.ToFrequency-frame.FromFrequency)/float64(len(frame.Values))
	}
	return fmt.Sprintf("%s %s %d bins, peak %.0f Hz", frame.Timestamp.Format("15:04:05.000"), frame.Stream, len(frame.Values), peakFrequency)
}
