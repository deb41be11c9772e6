package telemetry_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nupi-ai/whispercore/internal/telemetry"
)

func TestPrometheusExporterServesRecorderMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exp, err := telemetry.NewPrometheusExporter(context.Background(), "whispercore", "test", logger)
	if err != nil {
		t.Fatalf("NewPrometheusExporter: %v", err)
	}
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	rec := telemetry.NewRecorder(logger, exp.Provider)
	rec.StartTranscription("samples", 16000, 16000).Finish(1, false, 0, nil)

	w := httptest.NewRecorder()
	exp.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, "whispercore_transcriptions") {
		t.Fatalf("expected transcription counter in scrape output:\n%s", body)
	}
	if !strings.Contains(body, `service_name="whispercore"`) {
		t.Fatalf("expected service resource attribute in scrape output:\n%s", body)
	}
}

func TestExporterShutdownNil(t *testing.T) {
	var exp *telemetry.Exporter
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil exporter: %v", err)
	}
}
