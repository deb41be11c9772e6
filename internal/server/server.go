package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/audio"
	"github.com/nupi-ai/whispercore/internal/config"
	"github.com/nupi-ai/whispercore/internal/moduleinfo"
)

// Transcriber is the subset of *whispercore.WhisperCore the server needs.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (whispercore.Result, error)
	TranscribeWAV(ctx context.Context, r io.ReadSeeker) (whispercore.Result, error)
	IsInitialized() bool
	ModelInfo() string
	IsUsingGPU() bool
	Configuration() whispercore.Configuration
}

// Server implements TranscriberServer on top of a loaded model.
type Server struct {
	cfg  config.Config
	log  *slog.Logger
	core Transcriber
}

var _ TranscriberServer = (*Server)(nil)

// New returns a new Server instance.
func New(cfg config.Config, logger *slog.Logger, core Transcriber) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if core == nil {
		panic("server: transcriber must not be nil")
	}
	return &Server{
		cfg: cfg,
		log: logger.With(
			"component", "server",
			"language", cfg.Language,
		),
		core: core,
	}
}

// Transcribe decodes the request audio to 16 kHz mono float32 and runs it
// through the model.
func (s *Server) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	requestID := requestIDOrNew(req.RequestID)
	log := s.log.With("request_id", requestID)

	samples, err := requestSamples(req)
	if err != nil {
		log.Warn("rejected transcription request", "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	res, err := s.core.Transcribe(ctx, samples)
	if err != nil {
		log.Error("transcription failed", "error", err)
		return nil, toStatus(err)
	}
	log.Info("transcription served",
		"samples", len(samples),
		"segments", len(res.Segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s.response(requestID, res), nil
}

// TranscribeFile transcribes a wav file under the configured audio directory.
// The file is opened through an os.Root, so symlinks leading out of the
// directory are refused.
func (s *Server) TranscribeFile(ctx context.Context, req *TranscribeFileRequest) (*TranscribeResponse, error) {
	requestID := requestIDOrNew(req.RequestID)
	log := s.log.With("request_id", requestID)

	f, path, err := s.openAudioFile(req.Path)
	if err != nil {
		log.Warn("rejected file request", "path", req.Path, "error", err)
		return nil, err
	}
	defer f.Close()

	start := time.Now()
	res, err := s.core.TranscribeWAV(ctx, f)
	if err != nil {
		log.Error("file transcription failed", "path", path, "error", err)
		return nil, toStatus(err)
	}
	log.Info("file transcription served",
		"path", path,
		"segments", len(res.Segments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s.response(requestID, res), nil
}

// Info reports the model introspection fields.
func (s *Server) Info(ctx context.Context, _ *InfoRequest) (*InfoResponse, error) {
	cfg := s.core.Configuration()
	return &InfoResponse{
		Initialized:    s.core.IsInitialized(),
		ModelInfo:      s.core.ModelInfo(),
		UsingGPU:       s.core.IsUsingGPU(),
		GPUMode:        cfg.GPUMode.String(),
		GPUDevice:      cfg.GPUDevice,
		FlashAttention: cfg.FlashAttention,
		Threads:        cfg.Threads,
		Version:        moduleinfo.Info.Version,
	}, nil
}

func (s *Server) openAudioFile(name string) (*os.File, string, error) {
	dir := strings.TrimSpace(s.cfg.AudioDir)
	if dir == "" {
		return nil, "", status.Error(codes.PermissionDenied, "file transcription disabled: no audio_dir configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", status.Error(codes.InvalidArgument, "path is required")
	}
	if filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return nil, "", status.Error(codes.InvalidArgument, "path must be relative to the audio directory")
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, "", status.Errorf(codes.FailedPrecondition, "open audio directory: %v", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, "", status.Errorf(codes.InvalidArgument, "open %s: %v", name, err)
	}
	return f, filepath.Join(dir, name), nil
}

func (s *Server) response(requestID string, res whispercore.Result) *TranscribeResponse {
	segments := make([]SegmentMessage, len(res.Segments))
	for i, seg := range res.Segments {
		segments[i] = SegmentMessage{
			StartSeconds: seg.StartSeconds(),
			EndSeconds:   seg.EndSeconds(),
			Text:         seg.Text,
			Confidence:   seg.Confidence,
		}
	}
	return &TranscribeResponse{
		RequestID: requestID,
		Text:      res.Text,
		Segments:  segments,
		Language:  res.Language,
		ModelUsed: res.ModelUsed,
		UsedGPU:   res.UsedGPU,
		Metadata:  moduleinfo.TranscriptMetadata(res.ModelUsed, res.Language),
	}
}

func requestSamples(req *TranscribeRequest) ([]float32, error) {
	if len(req.Audio) > 0 && len(req.Samples) > 0 {
		return nil, errors.New("set either audio or samples, not both")
	}
	if req.SampleRate < 0 || req.Channels < 0 {
		return nil, errors.New("sample_rate and channels must be positive")
	}

	samples := req.Samples
	if len(req.Audio) > 0 {
		if len(req.Audio)%2 != 0 {
			return nil, errors.New("pcm16 payload has an odd number of bytes")
		}
		samples = audio.PCM16ToFloat32(req.Audio)
	}

	channels := req.Channels
	if channels == 0 {
		channels = 1
	}
	rate := req.SampleRate
	if rate == 0 {
		rate = audio.TargetRate
	}
	return audio.Resample(audio.Downmix(samples, channels), rate, audio.TargetRate), nil
}

func requestIDOrNew(id string) string {
	if trimmed := strings.TrimSpace(id); trimmed != "" {
		return trimmed
	}
	return uuid.NewString()
}

func toStatus(err error) error {
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch whispercore.CodeOf(err) {
	case whispercore.CodeInvalidAudioData:
		return status.Error(codes.InvalidArgument, err.Error())
	case whispercore.CodeInvalidModelPath, whispercore.CodeContextNotInitialized:
		return status.Error(codes.FailedPrecondition, err.Error())
	case whispercore.CodeModelLoadFailed:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
