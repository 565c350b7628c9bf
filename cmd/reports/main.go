// Package main is the entry point for the dataverse-reports binary. It walks
// a Dataverse installation's tree over the native API, flattens the nested
// metadata into tabular dataverse, dataset, and user reports, writes them as
// CSV and Excel files, and optionally emails the workbooks to administrators
// or institutional contacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataverse-reports/dataverse-reports/internal/config"
	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
	"github.com/dataverse-reports/dataverse-reports/internal/db"
	"github.com/dataverse-reports/dataverse-reports/internal/db/repositories"
	"github.com/dataverse-reports/dataverse-reports/internal/email"
	"github.com/dataverse-reports/dataverse-reports/internal/output"
	"github.com/dataverse-reports/dataverse-reports/internal/reports"
	"github.com/dataverse-reports/dataverse-reports/internal/safego"
	"github.com/dataverse-reports/dataverse-reports/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to the configuration file (default: search standard locations)")
		kindFlag   = flag.String("reports", "all", "report kind to generate: dataverse, dataset, user, or all")
		groupFlag  = flag.String("group", "all", "delivery grouping: all (one combined mailing) or institutions (one per account)")
		outputDir  = flag.String("output", "", "directory for the generated Excel workbooks (required)")
		sendEmail  = flag.Bool("email", false, "email the finished workbooks")
	)
	flag.Parse()

	kind, err := reports.ParseKind(*kindFlag)
	if err != nil {
		return err
	}
	grouping, err := reports.ParseGrouping(*groupFlag)
	if err != nil {
		return err
	}
	if *outputDir == "" {
		return fmt.Errorf("-output is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *sendEmail && !cfg.Notifications.Enabled {
		return fmt.Errorf("-email requires notifications.enabled in the configuration")
	}

	closer, err := telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	client := dataverse.NewClient(cfg.Dataverse.Host, cfg.Dataverse.APIKey, cfg.Dataverse.RequestTimeout)
	slog.Info("checking Dataverse API connectivity", "host", cfg.Dataverse.Host)
	if err := client.TestConnection(ctx); err != nil {
		return fmt.Errorf("dataverse API is unreachable: %w", err)
	}

	slog.Info("connecting to Dataverse database",
		"host", cfg.Database.Host, "database", cfg.Database.Name)
	database, err := db.Connect(cfg.Database.GetDSN(),
		cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("database is unreachable: %w", err)
	}
	defer database.Close()

	directory, err := reports.LoadUserDirectory(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to load user directory: %w", err)
	}

	downloads := repositories.NewDownloadRepository(database)
	includeMetrics := cfg.Reports.IncludeDatasetMetrics

	var mailer reports.Mailer
	if cfg.Notifications.Enabled {
		mailer = email.NewMailer(&cfg.Notifications, hostName(cfg.Dataverse.Host))
	}

	assembler := reports.NewAssembler(
		reports.NewDataverseReports(client, directory),
		reports.NewDatasetReports(client, downloads, includeMetrics),
		reports.NewUserReports(client, directory),
		output.NewWriter(),
		mailer,
		cfg.Accounts,
		cfg.Reports.WorkDir,
		includeMetrics,
	)

	start := time.Now()
	if err := assembler.Run(ctx, kind, grouping, *outputDir, *sendEmail); err != nil {
		return err
	}
	slog.Info("report run finished", "duration", time.Since(start).Round(time.Second).String())
	return nil
}

// startMetricsServer exposes Prometheus metrics on a side-channel port for
// the duration of the run.
func startMetricsServer(port int) {
	metricsAddr := fmt.Sprintf(":%d", port)
	safego.Go(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
		srv := &http.Server{
			Addr:         metricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	})
}

// hostName extracts the bare hostname for email subjects, falling back to
// the raw configured value.
func hostName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
