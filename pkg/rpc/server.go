package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// HandlerFunc serves one method. args is the raw JSON argument object.
type HandlerFunc func(ctx context.Context, rc models.RequestContext, args json.RawMessage) (any, error)

// Server answers requests published on a topic.
type Server struct {
	topic   string
	queue   string
	codec   ErrorCodec
	logger  logging.Logger
	timeout time.Duration
	workers int64
	slots   *semaphore.Weighted

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	sub      *nats.Subscription
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithErrorCodec sets the codec used to serialize handler errors.
func WithErrorCodec(c ErrorCodec) ServerOption { return func(s *Server) { s.codec = c } }

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(d time.Duration) ServerOption { return func(s *Server) { s.timeout = d } }

// WithConcurrency bounds how many requests are handled at once. When all
// slots are busy further messages wait in the subscription's pending buffer.
func WithConcurrency(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.workers = int64(n)
		}
	}
}

// DefaultConcurrency is the number of requests a server handles at once.
const DefaultConcurrency = 64

// NewServer creates a server for topic. Instances sharing the topic form a
// queue group so each request is handled once.
func NewServer(topic string, logger logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		topic:    topic,
		queue:    topic + ".workers",
		codec:    DefaultCodec,
		logger:   logger,
		timeout:  30 * time.Second,
		workers:  DefaultConcurrency,
		handlers: map[string]HandlerFunc{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = semaphore.NewWeighted(s.workers)
	return s
}

// Register adds a method handler. Registering a method twice replaces it.
func (s *Server) Register(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Methods returns the registered method names.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// Start subscribes on conn.
func (s *Server) Start(conn *nats.Conn) error {
	sub, err := conn.QueueSubscribe(s.topic, s.queue, func(msg *nats.Msg) {
		s.serve(msg.Data, func(reply []byte) {
			if err := msg.Respond(reply); err != nil {
				s.logger.WithError(err).WithField("subject", msg.Subject).Error("Failed to send RPC reply")
			}
		})
	})
	if err != nil {
		return fmt.Errorf("rpc: subscribe %s: %w", s.topic, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logger.WithFields(logging.Fields{
		"topic":       s.topic,
		"concurrency": s.workers,
	}).Info("RPC server listening")
	return nil
}

// serve dispatches data on its own goroutine once a slot is free and hands
// the reply to respond. It blocks while all slots are busy.
func (s *Server) serve(data []byte, respond func([]byte)) {
	if err := s.slots.Acquire(context.Background(), 1); err != nil {
		return
	}
	go func() {
		defer s.slots.Release(1)
		respond(s.Dispatch(context.Background(), data))
	}()
}

// Stop drains the subscription.
func (s *Server) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Drain()
}

// Dispatch decodes a request, runs the handler and encodes the reply.
func (s *Server) Dispatch(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return s.encodeError(fmt.Errorf("%w: %v", ErrBadArgs, err))
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return s.encodeError(fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := h(ctx, req.Ctxt, req.Args)
	entry := s.logger.WithFields(logging.Fields{
		"method":     req.Method,
		"user_id":    req.Ctxt.UserID,
		"request_id": req.Ctxt.RequestID,
		"duration":   time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Info("RPC call failed")
		return s.encodeError(err)
	}
	entry.Debug("RPC call served")

	raw, err := json.Marshal(result)
	if err != nil {
		return s.encodeError(fmt.Errorf("rpc: marshal result: %w", err))
	}
	out, _ := json.Marshal(Response{Result: raw})
	return out
}

func (s *Server) encodeError(err error) []byte {
	body := s.codec.Encode(err)
	out, _ := json.Marshal(Response{Error: &body})
	return out
}

// DecodeArgs unmarshals args into a T, mapping failures to ErrBadArgs.
func DecodeArgs[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	return v, nil
}
