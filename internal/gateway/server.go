// Package gateway exposes conversations over HTTP with Server-Sent Events.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"parley/internal/chat"
	"parley/internal/completion"
	"parley/internal/entrypoint"
)

type Server struct {
	client       *completion.Client
	registry     *entrypoint.Registry
	convOpts     []chat.Option
	maxFollowUps int
	mux          *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Server)

// WithConversationOptions applies opts to every conversation the server
// creates.
func WithConversationOptions(opts ...chat.Option) Option {
	return func(s *Server) { s.convOpts = append(s.convOpts, opts...) }
}

// WithMaxFollowUps bounds how many function results are sent back to the
// model within one posted turn. Zero disables follow-ups.
func WithMaxFollowUps(n int) Option {
	return func(s *Server) { s.maxFollowUps = max(n, 0) }
}

func NewServer(client *completion.Client, registry *entrypoint.Registry, opts ...Option) *Server {
	s := &Server{
		client:   client,
		registry: registry,
		mux:      http.NewServeMux(),
		sessions: make(map[string]*session),
	}
	if s.registry == nil {
		s.registry = entrypoint.NewRegistry()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleAppend)
	s.mux.HandleFunc("POST /v1/conversations/{id}/reload", s.handleReload)
	s.mux.HandleFunc("DELETE /v1/conversations/{id}/run", s.handleStop)
	s.mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	s.mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("GET /v1/functions", s.handleFunctions)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then stops every
// in-flight cycle and shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("gateway listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.stopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// session pairs a conversation with the function results produced by its
// latest cycle.
type session struct {
	conv *chat.Conversation

	// turn is held by the request driving the conversation, follow-ups
	// included.
	turn sync.Mutex

	mu      sync.Mutex
	results []entrypoint.Result
}

func (ss *session) takeResults() []entrypoint.Result {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := ss.results
	ss.results = nil
	return out
}

func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[id]; ok {
		return ss
	}
	ss := &session{}
	opts := append(slices.Clone(s.convOpts),
		chat.WithID(id),
		chat.WithFunctionResults(func(_ context.Context, res entrypoint.Result) {
			ss.mu.Lock()
			ss.results = append(ss.results, res)
			ss.mu.Unlock()
		}),
	)
	ss.conv = chat.New(s.client, s.registry, opts...)
	s.sessions[id] = ss
	slog.Debug("conversation created", "conversation_id", id)
	return ss
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	return ss, ok
}

func (s *Server) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.sessions {
		ss.conv.Stop()
	}
}
