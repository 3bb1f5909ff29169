package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "grove - a computed-container reconciliation runtime",
	Long: `grove runs a tree of Computed Containers whose children are
authoritatively recomputed on a schedule rather than created directly by
users: periodic triggers fire reconciliation runs, a global throttle bounds
how many run concurrently, and an orphan strategy retires stale children.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"grove version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to grove.yaml tunables file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(gcCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// serveMetricsHTTP starts the metrics/health HTTP server. extra lets the
// caller register additional routes (e.g. the health-report cache) onto
// the same mux without this function needing to know about them.
func serveMetricsHTTP(addr string, extra map[string]http.HandlerFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	for path, handler := range extra {
		mux.HandleFunc(path, handler)
	}

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()
}
