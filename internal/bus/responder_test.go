package bus_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/bus"
	"github.com/nupi-ai/whispercore/internal/config"
	"github.com/nupi-ai/whispercore/internal/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startNATS(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready within 5 seconds")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func newCore(t *testing.T) *whispercore.WhisperCore {
	t.Helper()
	model := filepath.Join(t.TempDir(), "ggml-medium.bin")
	if err := os.WriteFile(model, []byte("stub"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	core, err := whispercore.New(model, whispercore.WithLogger(discardLogger()), whispercore.WithStubEngine(0))
	if err != nil {
		t.Fatalf("whispercore.New: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })
	return core
}

func startResponder(t *testing.T, prefix string, core server.Transcriber) *nats.Conn {
	t.Helper()
	url := startNATS(t)

	conn, err := bus.Connect(url, discardLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(conn.Close)

	srv := server.New(config.Config{}, discardLogger(), core)
	responder := bus.NewResponder(context.Background(), conn, prefix, srv, discardLogger())
	if err := responder.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(responder.Close)
	return conn
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubjects(t *testing.T) {
	transcribe, file, info := bus.Subjects("asr")
	if transcribe != "asr.transcribe" || file != "asr.file" || info != "asr.info" {
		t.Fatalf("unexpected subjects %q %q %q", transcribe, file, info)
	}
}

func TestResponderTranscribe(t *testing.T) {
	conn := startResponder(t, "whispercore", newCore(t))
	client := bus.NewClient(conn, "whispercore")

	resp, err := client.Transcribe(testContext(t), &server.TranscribeRequest{
		RequestID: "bus-1",
		Samples:   make([]float32, whispercore.SampleRate*6),
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.RequestID != "bus-1" {
		t.Fatalf("unexpected request id %q", resp.RequestID)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(resp.Segments))
	}
	if resp.ModelUsed != "stub:ggml-medium" {
		t.Fatalf("unexpected model %q", resp.ModelUsed)
	}
}

func TestResponderInfo(t *testing.T) {
	core := newCore(t)
	conn := startResponder(t, "asr.edge", core)

	info, err := bus.NewClient(conn, "asr.edge").Info(testContext(t))
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.Initialized || info.ModelInfo != core.ModelInfo() {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestResponderErrors(t *testing.T) {
	conn := startResponder(t, "whispercore", newCore(t))
	client := bus.NewClient(conn, "whispercore")

	_, err := client.Transcribe(testContext(t), &server.TranscribeRequest{})
	var remote *bus.RemoteError
	if !errors.As(err, &remote) || remote.Code != "InvalidArgument" {
		t.Fatalf("expected InvalidArgument remote error, got %v", err)
	}

	_, err = client.TranscribeFile(testContext(t), &server.TranscribeFileRequest{Path: "a.wav"})
	if !errors.As(err, &remote) || remote.Code != "PermissionDenied" {
		t.Fatalf("expected PermissionDenied remote error, got %v", err)
	}

	raw, err := conn.RequestWithContext(testContext(t), "whispercore.transcribe", []byte("{"))
	if err != nil {
		t.Fatalf("raw request: %v", err)
	}
	if len(raw.Data) == 0 {
		t.Fatal("expected an error reply for a malformed body")
	}
}

func TestClientWithoutResponder(t *testing.T) {
	conn, err := bus.Connect(startNATS(t), discardLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	_, err = bus.NewClient(conn, "nobody").Info(testContext(t))
	if !errors.Is(err, nats.ErrNoResponders) {
		t.Fatalf("expected ErrNoResponders, got %v", err)
	}
}

func TestResponderCloseIsIdempotent(t *testing.T) {
	url := startNATS(t)
	conn, err := bus.Connect(url, discardLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	responder := bus.NewResponder(context.Background(), conn, "whispercore",
		server.New(config.Config{}, discardLogger(), newCore(t)), discardLogger())
	if err := responder.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	responder.Close()
	responder.Close()

	_, err = bus.NewClient(conn, "whispercore").Info(testContext(t))
	if !errors.Is(err, nats.ErrNoResponders) {
		t.Fatalf("expected ErrNoResponders after Close, got %v", err)
	}
}
