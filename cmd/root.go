package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ftl/tagstrainer/config"
	"github.com/ftl/tagstrainer/scope"
	"github.com/ftl/tagstrainer/trace"
)

var (
	version   string = "develop"
	gitCommit string = "-"
	buildTime string = "-"
)

var rootFlags = struct {
	pprof        bool
	debug        bool
	scope        bool
	scopeAddress string
	configFile   string

	traceContext     string
	traceDestination string
}{}

var rootCmd = &cobra.Command{
	Use:   "tagstrainer",
	Short: "TagStrainer - detect the pulses of radio tags in an SDR I/Q stream",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootFlags.pprof, "pprof", false, "enable pprof")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.scope, "scope", false, "enable the scope server for insights into the inner workings")
	rootCmd.PersistentFlags().StringVar(&rootFlags.scopeAddress, "scope-address", ":35369", "listening address and port of the scope server")
	rootCmd.PersistentFlags().StringVar(&rootFlags.configFile, "config", "", "the configuration file, default: ./tagstrainer.yaml or tagstrainer.yaml in the user's config directory")
	rootCmd.PersistentFlags().StringVar(&rootFlags.traceContext, "trace", "", "magnitudes | edges | pulses")
	rootCmd.PersistentFlags().StringVar(&rootFlags.traceDestination, "trace_to", "", "file:<filename> | udp:<host:port>")

	rootCmd.PersistentFlags().MarkHidden("pprof")
	rootCmd.PersistentFlags().MarkHidden("scope")
	rootCmd.PersistentFlags().MarkHidden("trace")
	rootCmd.PersistentFlags().MarkHidden("trace_to")
}

func runWithCtx(f func(ctx context.Context, scope scope.Scope, cmd *cobra.Command, args []string)) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if !rootFlags.debug {
			log.SetOutput(&nopWriter{})
		}

		log.Printf("TagStrainer Version %s", formatVersion())

		if rootFlags.pprof {
			go func() {
				log.Printf("starting pprof on http://localhost:6060/debug/pprof")
				log.Println(http.ListenAndServe("localhost:6060", nil))
			}()
		}

		var scopeServer *scope.ScopeServer
		var s scope.Scope = scope.NewNullScope()
		if rootFlags.scope {
			scopeServer = scope.NewScopeServer(rootFlags.scopeAddress)
			err := scopeServer.Start()
			if err != nil {
				log.Fatalf("cannot start scope server: %v", err)
			}
			s = scopeServer
		}

		ctx, cancel := context.WithCancel(context.Background())
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		go handleCancelation(signals, cancel)

		f(ctx, s, cmd, args)

		if scopeServer != nil {
			scopeServer.Stop()
		}
	}
}

func formatVersion() string {
	if gitCommit == "-" && buildTime == "-" {
		return version
	}
	return fmt.Sprintf("%s_%s_%s", version, gitCommit, buildTime)
}

func handleCancelation(signals <-chan os.Signal, cancel context.CancelFunc) {
	count := 0
	for range signals {
		count++
		if count == 1 {
			cancel()
		} else {
			log.Fatal("hard shutdown")
		}
	}
}

func loadSettings() *config.Settings {
	settings, err := config.Load(rootFlags.configFile)
	if err != nil {
		log.Fatalf("cannot load configuration: %v", err)
	}
	return settings
}

func createTracer() trace.Tracer {
	if rootFlags.traceDestination == "" {
		return nil
	}
	tracer, err := trace.New(rootFlags.traceContext, rootFlags.traceDestination)
	if err != nil {
		log.Fatalf("cannot create tracer: %v", err)
	}
	log.Printf("tracing %s to %s", rootFlags.traceContext, rootFlags.traceDestination)
	return tracer
}

type nopWriter struct{}

func (w *nopWriter) Write(p []byte) (n int, err error) { return len(p), nil }
