package server

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "whispercore.v1.Transcriber"

	methodTranscribe     = "/" + ServiceName + "/Transcribe"
	methodTranscribeFile = "/" + ServiceName + "/TranscribeFile"
	methodInfo           = "/" + ServiceName + "/Info"
)

// TranscribeRequest carries audio as either PCM16LE bytes or float32 samples.
type TranscribeRequest struct {
	RequestID  string    `json:"request_id,omitempty"`
	Audio      []byte    `json:"audio,omitempty"`
	Samples    []float32 `json:"samples,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
}

// TranscribeFileRequest names a wav file relative to the server's audio directory.
type TranscribeFileRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Path      string `json:"path"`
}

type SegmentMessage struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Text         string  `json:"text"`
	Confidence   float32 `json:"confidence"`
}

type TranscribeResponse struct {
	RequestID string            `json:"request_id"`
	Text      string            `json:"text"`
	Segments  []SegmentMessage  `json:"segments"`
	Language  string            `json:"language,omitempty"`
	ModelUsed string            `json:"model_used"`
	UsedGPU   bool              `json:"used_gpu"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type InfoRequest struct{}

type InfoResponse struct {
	Initialized    bool   `json:"initialized"`
	ModelInfo      string `json:"model_info"`
	UsingGPU       bool   `json:"using_gpu"`
	GPUMode        string `json:"gpu_mode"`
	GPUDevice      int    `json:"gpu_device"`
	FlashAttention bool   `json:"flash_attention"`
	Threads        int    `json:"threads"`
	Version        string `json:"version"`
}

// TranscriberServer is the server API for the Transcriber service.
type TranscriberServer interface {
	Transcribe(context.Context, *TranscribeRequest) (*TranscribeResponse, error)
	TranscribeFile(context.Context, *TranscribeFileRequest) (*TranscribeResponse, error)
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
}

// RegisterTranscriberServer attaches srv to a gRPC server.
func RegisterTranscriberServer(s grpc.ServiceRegistrar, srv TranscriberServer) {
	s.RegisterService(&Transcriber_ServiceDesc, srv)
}

// Transcriber_ServiceDesc describes the Transcriber service for grpc.Server.
var Transcriber_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TranscriberServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transcribe", Handler: transcribeHandler},
		{MethodName: "TranscribeFile", Handler: transcribeFileHandler},
		{MethodName: "Info", Handler: infoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "whispercore/v1/transcriber",
}

func transcribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TranscribeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriberServer).Transcribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTranscribe}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriberServer).Transcribe(ctx, req.(*TranscribeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func transcribeFileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TranscribeFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriberServer).TranscribeFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTranscribeFile}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriberServer).TranscribeFile(ctx, req.(*TranscribeFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func infoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TranscriberServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInfo}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TranscriberServer).Info(ctx, req.(*InfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the Transcriber service using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Transcribe(ctx context.Context, in *TranscribeRequest, opts ...grpc.CallOption) (*TranscribeResponse, error) {
	out := new(TranscribeResponse)
	if err := c.cc.Invoke(ctx, methodTranscribe, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TranscribeFile(ctx context.Context, in *TranscribeFileRequest, opts ...grpc.CallOption) (*TranscribeResponse, error) {
	out := new(TranscribeResponse)
	if err := c.cc.Invoke(ctx, methodTranscribeFile, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Info(ctx context.Context, opts ...grpc.CallOption) (*InfoResponse, error) {
	out := new(InfoResponse)
	if err := c.cc.Invoke(ctx, methodInfo, &InfoRequest{}, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
