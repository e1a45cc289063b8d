package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftl/tagstrainer/cli"
	"github.com/ftl/tagstrainer/protocol"
	"github.com/ftl/tagstrainer/scope"
	"github.com/ftl/tagstrainer/server"
)

var listenFlags = struct {
	host      string
	start     bool
	configure bool
}{}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "print the pulses of a pulse server",
	Run:   runWithCtx(runListen),
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenFlags.host, "host", "localhost:9000", "the pulse server host and port")
	listenCmd.Flags().BoolVar(&listenFlags.start, "start", false, "start streaming on the pulse server")
	listenCmd.Flags().BoolVar(&listenFlags.configure, "configure", false, "send the receiver configuration and the pulse targets of the configuration to the pulse server")
}

func runListen(ctx context.Context, _ scope.Scope, cmd *cobra.Command, args []string) {
	var initial []protocol.UpMessage
	if listenFlags.configure {
		settings := loadSettings()
		initial = append(initial,
			protocol.SdrConfigUpdate{Config: settings.SdrConfig},
			protocol.PulseTargets(settings.PulseTargets),
		)
	}
	if listenFlags.start {
		initial = append(initial, protocol.Start{})
	}

	client := server.NewClient(listenFlags.host, initial...)
	go client.Run(ctx)

	fmt.Println("time;target;frequency;duration;strength;gain")
	for msg := range client.Messages() {
		switch msg := msg.(type) {
		case protocol.PulseMessage:
			pulse := msg.Pulse
			fmt.Printf("%s;%d;%s;%.1f ms;%.1f dB;%.0f\n",
				pulse.Timestamp.Time().UTC().Format(time.RFC3339Nano),
				pulse.TargetID,
				cli.FormatFrequency(float64(pulse.Freq)),
				pulse.Duration*1000,
				pulse.StrengthDB(),
				pulse.Gain,
			)
		}
	}
}
