package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/yairfalse/valvo/config"
	"github.com/yairfalse/valvo/internal/queue"
	"github.com/yairfalse/valvo/telemetry"
)

var (
	daemonMetricsAddr  string
	daemonOTELEndpoint string
	daemonEnvironment  string
)

// daemonCmd runs the continuous enforcement loop
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the continuous enforcement daemon",
	Long: `Run Valvo in daemon mode: long-poll the compliance event queue and
feed every message through the enforcement pipeline.

Successfully handled messages are deleted from the queue; failures are
left for redelivery, which is safe because recording and remediation are
idempotent.

Features:
- SQS long-polling consumer
- Prometheus metrics on /metrics
- OTLP trace and metric export
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  valvo daemon                          # Run with config defaults
  valvo daemon --metrics :9090          # Custom metrics address
  valvo daemon --otel localhost:4317    # Custom OTLP endpoint`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics", ":2112", "Metrics HTTP server address")
	daemonCmd.Flags().StringVar(&daemonOTELEndpoint, "otel", "", "OTLP gRPC endpoint")
	daemonCmd.Flags().StringVar(&daemonEnvironment, "environment", "governance", "Deployment environment label")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.QueueURL == "" {
		return fmt.Errorf("queue_url is required for daemon mode")
	}

	ctx := context.Background()

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "valvo",
		ServiceVersion: version,
		Environment:    daemonEnvironment,
		OTELEndpoint:   daemonOTELEndpoint,
		Insecure:       daemonOTELEndpoint == "",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	logger := telemetry.NewLogger("valvo")

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	consumer := queue.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.QueueURL, p, logger)

	logger.Info().
		Str("queue_url", cfg.QueueURL).
		Str("metrics_addr", daemonMetricsAddr).
		Msg("valvo daemon starting")

	var g run.Group

	// Signal handler
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	// Queue consumer
	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	g.Add(func() error {
		return consumer.Run(consumerCtx)
	}, func(error) {
		cancelConsumer()
	})

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", handleHealthz)
	srv := &http.Server{
		Addr:              daemonMetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Add(func() error {
		return srv.ListenAndServe()
	}, func(error) {
		srvCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(srvCtx)
	})

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		logger.Info().Msg("valvo daemon stopped")
		return nil
	}
	return err
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
