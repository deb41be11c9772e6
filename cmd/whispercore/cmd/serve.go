package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/bus"
	"github.com/nupi-ai/whispercore/internal/moduleinfo"
	"github.com/nupi-ai/whispercore/internal/server"
	"github.com/nupi-ai/whispercore/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var (
	serveListen   string
	serveMetrics  string
	serveAudioDir string
	serveNATS     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the loaded model over gRPC",
	Long: `Loads the model once and exposes the whispercore.v1.Transcriber service
together with the standard gRPC health service. When a metrics address is
configured, Prometheus metrics are served on /metrics. When a NATS URL is
configured, the same methods answer requests on <nats_subject>.transcribe,
<nats_subject>.file and <nats_subject>.info.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics", "", "Prometheus listen address, empty to disable")
	serveCmd.Flags().StringVar(&serveAudioDir, "audio-dir", "", "directory TranscribeFile may read from")
	serveCmd.Flags().StringVar(&serveNATS, "nats", "", "NATS URL for the request/reply responder, empty to disable")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = serveListen
	}
	if cmd.Flags().Changed("metrics") {
		cfg.MetricsAddr = serveMetrics
	}
	if cmd.Flags().Changed("audio-dir") {
		cfg.AudioDir = serveAudioDir
	}
	if cmd.Flags().Changed("nats") {
		cfg.NATSURL = serveNATS
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	logger.Info("starting server",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"model_path", cfg.ModelPath,
		"language", cfg.Language,
		"gpu_mode", cfg.GPUMode,
		"audio_dir", cfg.AudioDir,
		"nats_url", cfg.NATSURL,
	)

	var opts []whispercore.Option
	var exporter *telemetry.Exporter
	if cfg.MetricsAddr != "" {
		exporter, err = telemetry.NewPrometheusExporter(ctx, moduleinfo.Info.Slug, moduleinfo.Info.Version, logger)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := exporter.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shut down meter provider", "error", err)
			}
		}()
		opts = append(opts, whispercore.WithMeterProvider(exporter.Provider))
	}

	core, err := openCore(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Warn("failed to close model", "error", err)
		}
	}()
	logger.Info("model ready", "model_info", core.ModelInfo(), "using_gpu", core.IsUsingGPU())

	if exporter != nil {
		metricsSrv := startMetricsServer(cfg.MetricsAddr, exporter.Handler, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	svc := server.New(cfg, logger, core)

	if cfg.NATSURL != "" {
		conn, err := bus.Connect(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		responder := bus.NewResponder(ctx, conn, cfg.NATSSubject, svc, logger)
		if err := responder.Start(); err != nil {
			return err
		}
		defer responder.Close()
	}

	if err := serveGRPC(ctx, cfg.ListenAddr, logger, svc); err != nil {
		return err
	}

	if snapshot := core.Stats(); snapshot.TotalTranscriptions > 0 {
		logger.Info("telemetry totals",
			"total_transcriptions", snapshot.TotalTranscriptions,
			"total_failures", snapshot.TotalFailures(),
			"total_samples", snapshot.TotalSamples,
			"total_segments", snapshot.TotalSegments,
			"total_gpu_runs", snapshot.TotalGPURuns,
			"audio_seconds", snapshot.AudioSeconds,
		)
	}
	logger.Info("server stopped")
	return nil
}

func serveGRPC(ctx context.Context, addr string, logger *slog.Logger, svc server.TranscriberServer) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	defer lis.Close()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	server.RegisterTranscriberServer(grpcServer, svc)

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested, stopping gRPC server")
		healthServer.SetServingStatus(server.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
	}()

	logger.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server terminated: %w", err)
	}
	return nil
}

func startMetricsServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
