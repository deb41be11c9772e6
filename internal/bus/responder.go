// Package bus serves the Transcriber service over NATS request/reply.
//
// Requests on "<prefix>.transcribe" and "<prefix>.file" carry the same JSON
// bodies as the gRPC methods; "<prefix>.info" takes an empty body. Responders
// join the queue group QueueGroup so several model instances share the load.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/whispercore/internal/moduleinfo"
	"github.com/nupi-ai/whispercore/internal/server"
)

const (
	QueueGroup = "whispercore"

	// requestTimeout bounds a single bus request, queueing included.
	requestTimeout = 45 * time.Second
)

// Reply is the envelope published in response to every request.
type Reply struct {
	Transcript *server.TranscribeResponse `json:"transcript,omitempty"`
	Info       *server.InfoResponse       `json:"info,omitempty"`
	Error      *RemoteError               `json:"error,omitempty"`
}

// RemoteError carries a failed request's gRPC status code name and message.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("whispercore %s: %s", e.Code, e.Message)
}

// Subjects derives the three request subjects from a prefix.
func Subjects(prefix string) (transcribe, file, info string) {
	return prefix + ".transcribe", prefix + ".file", prefix + ".info"
}

// Connect dials NATS with the client name set to the module user agent.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name(moduleinfo.UserAgent()),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to NATS", "url", conn.ConnectedUrl())
	return conn, nil
}

// Responder answers bus requests by delegating to a TranscriberServer.
type Responder struct {
	conn   *nats.Conn
	srv    server.TranscriberServer
	prefix string
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewResponder returns a Responder. Start must be called to subscribe.
func NewResponder(parent context.Context, conn *nats.Conn, prefix string, srv server.TranscriberServer, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Responder{
		conn:   conn,
		srv:    srv,
		prefix: prefix,
		log:    logger.With("component", "bus", "prefix", prefix),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the request subjects.
func (r *Responder) Start() error {
	transcribe, file, info := Subjects(r.prefix)
	handlers := map[string]nats.MsgHandler{
		transcribe: r.dispatch(r.handleTranscribe),
		file:       r.dispatch(r.handleFile),
		info:       r.dispatch(r.handleInfo),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for subject, handler := range handlers {
		sub, err := r.conn.QueueSubscribe(subject, QueueGroup, handler)
		if err != nil {
			r.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	if err := r.conn.Flush(); err != nil {
		r.unsubscribeLocked()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	r.log.Info("bus responder started", "queue", QueueGroup)
	return nil
}

// Close unsubscribes and waits for in-flight requests.
func (r *Responder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.unsubscribeLocked()
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
	r.log.Info("bus responder stopped")
}

func (r *Responder) unsubscribeLocked() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

type handlerFunc func(ctx context.Context, data []byte) Reply

// dispatch runs each request on its own goroutine so a long transcription
// does not block the subscription's delivery loop.
func (r *Responder) dispatch(fn handlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if msg.Reply == "" {
			r.log.Warn("dropping request without reply subject", "subject", msg.Subject)
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.wg.Add(1)
		r.mu.Unlock()

		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
			defer cancel()

			data, err := json.Marshal(fn(ctx, msg.Data))
			if err != nil {
				r.log.Warn("failed to marshal reply", "subject", msg.Subject, "error", err)
				return
			}
			if err := msg.Respond(data); err != nil {
				r.log.Warn("failed to publish reply", "subject", msg.Subject, "error", err)
			}
		}()
	}
}

func (r *Responder) handleTranscribe(ctx context.Context, data []byte) Reply {
	var req server.TranscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(status.Errorf(codes.InvalidArgument, "decode request: %v", err))
	}
	resp, err := r.srv.Transcribe(ctx, &req)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Transcript: resp}
}

func (r *Responder) handleFile(ctx context.Context, data []byte) Reply {
	var req server.TranscribeFileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(status.Errorf(codes.InvalidArgument, "decode request: %v", err))
	}
	resp, err := r.srv.TranscribeFile(ctx, &req)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Transcript: resp}
}

func (r *Responder) handleInfo(ctx context.Context, _ []byte) Reply {
	resp, err := r.srv.Info(ctx, &server.InfoRequest{})
	if err != nil {
		return errorReply(err)
	}
	return Reply{Info: resp}
}

func errorReply(err error) Reply {
	st, _ := status.FromError(err)
	return Reply{Error: &RemoteError{Code: st.Code().String(), Message: st.Message()}}
}

// Client issues bus requests against a responder prefix.
type Client struct {
	conn   *nats.Conn
	prefix string
}

func NewClient(conn *nats.Conn, prefix string) *Client {
	return &Client{conn: conn, prefix: prefix}
}

func (c *Client) Transcribe(ctx context.Context, req *server.TranscribeRequest) (*server.TranscribeResponse, error) {
	subject, _, _ := Subjects(c.prefix)
	var reply Reply
	if err := c.request(ctx, subject, req, &reply); err != nil {
		return nil, err
	}
	return reply.Transcript, nil
}

func (c *Client) TranscribeFile(ctx context.Context, req *server.TranscribeFileRequest) (*server.TranscribeResponse, error) {
	_, subject, _ := Subjects(c.prefix)
	var reply Reply
	if err := c.request(ctx, subject, req, &reply); err != nil {
		return nil, err
	}
	return reply.Transcript, nil
}

func (c *Client) Info(ctx context.Context) (*server.InfoResponse, error) {
	_, _, subject := Subjects(c.prefix)
	var reply Reply
	if err := c.request(ctx, subject, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.Info, nil
}

func (c *Client) request(ctx context.Context, subject string, body any, reply *Reply) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("no responder on %s: %w", subject, err)
		}
		return err
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	return nil
}
