package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/grove/pkg/config"
	"github.com/cuemby/grove/pkg/container"
	"github.com/cuemby/grove/pkg/cron"
	"github.com/cuemby/grove/pkg/health"
	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the grove runtime: cron ticker, metrics server, orphan reaper",
	Long: `serve starts the process-wide machinery a host platform wires a
tree of Computed Containers into: the minute-aligned cron driver, the
Prometheus metrics endpoint and health checks.

The containers themselves — and the computeChildren logic that populates
them — are registered by the embedding host; serve boots an empty registry
ready for the host to populate via its own integration code.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready, /live, /health/report endpoints")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	tunables, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry := container.NewRegistry()

	// HEALTH_REPORT_CACHE_MIN drives the health-report cache, not the
	// metrics collector: the collector polls on its own short, fixed
	// interval so /metrics stays fresh regardless of how coarse the
	// operator configured health reporting to be.
	reportInterval := health.ClampHealthReportInterval(tunables.HealthReportCacheM)
	healthReport := health.NewReportCache(reportInterval, func() any {
		return registry.HealthReport()
	})

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	serveMetricsHTTP(metricsAddr, map[string]http.HandlerFunc{
		"/health/report": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(healthReport.Get(time.Now()))
		},
	})
	metrics.RegisterComponent("cron", true, "running")
	metrics.RegisterComponent("metrics_server", true, "listening on "+metricsAddr)

	collector := metrics.NewCollector(registry, 0)
	collector.Start()
	defer collector.Stop()

	c := cron.New(registry)
	c.Start()
	defer c.Stop()

	log.Logger.Info().
		Str("metrics_addr", metricsAddr).
		Int("throttle_limit", tunables.ThrottleLimit).
		Int("backup_log_count", tunables.BackupLogCount).
		Dur("health_report_interval", reportInterval).
		Msg("grove runtime started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Logger.Info().Msg("shutting down")
	return nil
}
