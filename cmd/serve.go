package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftl/tagstrainer/audio"
	"github.com/ftl/tagstrainer/config"
	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/export"
	"github.com/ftl/tagstrainer/rtl"
	"github.com/ftl/tagstrainer/scope"
	"github.com/ftl/tagstrainer/server"
	"github.com/ftl/tagstrainer/session"
	"github.com/ftl/tagstrainer/tci"
)

const exportBufferSize = 1000

var serveFlags = struct {
	mode      string
	addr      string
	httpAddr  string
	autostart bool
	traceTCI  bool
}{}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "detect pulses and serve them to clients",
	Run:   runWithCtx(runServe),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.mode, "mode", "", "overrides the mode of the configuration: simulator | file | rtltcp | tci | pulseaudio")
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "overrides the listening address of the pulse protocol")
	serveCmd.Flags().StringVar(&serveFlags.httpAddr, "http", "", "overrides the listening address of the web API")
	serveCmd.Flags().BoolVar(&serveFlags.autostart, "autostart", false, "start streaming without waiting for a client")
	serveCmd.Flags().BoolVar(&serveFlags.traceTCI, "trace_tci", false, "trace the TCI communication on the console")
}

func runServe(ctx context.Context, sc scope.Scope, cmd *cobra.Command, args []string) {
	settings := loadSettings()
	if serveFlags.mode != "" {
		settings.Mode = serveFlags.mode
	}
	if serveFlags.addr != "" {
		settings.Addr = serveFlags.addr
	}
	if serveFlags.httpAddr != "" {
		settings.HTTPAddr = serveFlags.httpAddr
	}
	if serveFlags.autostart {
		settings.Autostart = true
	}

	driver, err := newDriver(settings, true)
	if err != nil {
		log.Fatal(err)
	}

	hub := server.NewHub(server.DefaultQueueSize, server.DefaultRecentPulses)
	defer hub.Close()

	handler := hub.Publish
	if settings.Export.Type != config.ExportNone {
		exporter, closer, err := export.Open(settings.Export)
		if err != nil {
			log.Fatal(err)
		}
		defer closer.Close()

		queue := export.NewQueue(exporter, exportBufferSize)
		defer func() {
			if err := queue.Close(); err != nil {
				log.Printf("pulse export failed: %v", err)
			}
		}()

		handler = func(pulse detector.Pulse) {
			hub.Publish(pulse)
			if !queue.Offer(pulse) {
				log.Printf("pulse export congested, pulse dropped")
			}
		}
	}

	s := session.New(driver, settings.SdrConfig, settings.PulseTargets, handler)
	defer s.Close()
	s.SetScope(sc)
	if tracer := createTracer(); tracer != nil {
		s.SetTracer(tracer)
	}

	tcpServer, err := server.NewTCPServer(settings.Addr, hub, s)
	if err != nil {
		log.Fatalf("cannot start pulse server: %v", err)
	}
	defer tcpServer.Stop()
	fmt.Printf("pulse server listening on %s\n", tcpServer.Addr())

	if settings.HTTPAddr != "" {
		webServer, err := server.NewWebServer(settings.HTTPAddr, hub, s)
		if err != nil {
			log.Fatalf("cannot start web server: %v", err)
		}
		defer webServer.Stop()
		fmt.Printf("web API listening on http://%s/api/status\n", webServer.Addr())
	}

	if settings.Autostart {
		s.Start()
	}

	<-ctx.Done()
}

// newDriver returns the driver for the configured mode. Live drivers pace the file replay and the simulator.
func newDriver(settings *config.Settings, live bool) (session.Driver, error) {
	switch settings.Mode {
	case config.ModeSimulator:
		return session.NewSimulator(session.SimulatorConfig{
			Amplitude: settings.Simulator.Amplitude,
			Noise:     settings.Simulator.Noise,
			Interval:  settings.Simulator.Interval,
			BlockSize: settings.Simulator.BlockSize,
			Throttle:  live,
			Seed:      time.Now().UnixNano(),
		}), nil
	case config.ModeFile:
		return session.NewFileReplay(session.FileConfig{
			Path:     settings.File.Path,
			Format:   session.SampleFormat(settings.File.Format),
			Loop:     live && settings.File.Loop,
			Realtime: live && settings.File.Realtime,
		}), nil
	case config.ModeRTLTCP:
		return rtl.New(settings.RTLTCP.Address, rtl.DefaultBlockSize), nil
	case config.ModeTCI:
		driver, err := tci.New(settings.TCI.Host, settings.TCI.TRX, serveFlags.traceTCI)
		if err != nil {
			return nil, err
		}
		return driver, nil
	case config.ModePulseAudio:
		return audio.New(settings.PulseAudio.Source, audio.DefaultBlockSize), nil
	default:
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownMode, settings.Mode)
	}
}
