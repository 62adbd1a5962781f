package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/learnloop/converse/auth"
	"github.com/learnloop/converse/chat"
	"github.com/learnloop/converse/internal/broker"
	"github.com/learnloop/converse/store"
)

const defaultAddr = "localhost:8484"

// Server serves the HTTP API and websocket sessions.
type Server struct {
	addr     string
	service  *chat.Service
	store    *store.Store
	verifier auth.Verifier
	broker   broker.Broker

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	srv      *http.Server
}

// Options for New.
var (
	WithAddr     = opts.ForName[Server, string]("addr")
	WithService  = opts.ForName[Server, *chat.Service]("service")
	WithStore    = opts.ForName[Server, *store.Store]("store")
	WithVerifier = opts.ForName[Server, auth.Verifier]("verifier")
	WithBroker   = opts.ForName[Server, broker.Broker]("broker")
)

// New builds a Server. Service, store, and verifier are required; the
// broker defaults to the in-process variant.
func New(options ...opts.Option[Server]) (*Server, error) {
	s := Server{
		addr:   defaultAddr,
		broker: broker.Local(),
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth gates the handshake; browser clients connect
			// from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if err := opts.Apply(&s, options); err != nil {
		return nil, err
	}
	if s.service == nil {
		return nil, fmt.Errorf("server requires a chat service")
	}
	if s.store == nil {
		return nil, fmt.Errorf("server requires a store")
	}
	if s.verifier == nil {
		return nil, fmt.Errorf("server requires a token verifier")
	}
	s.routes()
	return &s, nil
}

func (s *Server) routes() {
	authed := func(h http.HandlerFunc) http.Handler {
		return Authenticate(s.verifier)(h)
	}

	s.mux.Handle("POST /api/chat/conversations", authed(s.handleCreateConversation))
	s.mux.Handle("GET /api/chat/conversations", authed(s.handleListConversations))
	s.mux.Handle("GET /api/chat/conversations/{id}", authed(s.handleGetConversation))
	s.mux.Handle("GET /api/chat/conversations/{id}/messages", authed(s.handleListMessages))
	s.mux.Handle("POST /api/chat/conversations/{id}/generate", authed(s.handleGenerate))
	s.mux.Handle("GET /api/chat/conversations/{id}/ws", authed(s.handleSession))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return Chain(Recover(), LogRequests())(s.mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		// No WriteTimeout: websocket sessions outlive any sane value.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Info("server listening", slog.String("addr", s.addr))
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
