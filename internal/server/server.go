// Package server exposes the VoxBridge HTTP surface: call management, the
// per-call WebSocket endpoint, and the operational probes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbridge/voxbridge/internal/call"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/store"
)

// supportedLanguages is the set of call languages the pipeline handles.
var supportedLanguages = map[string]bool{
	"he": true,
	"en": true,
	"ru": true,
}

// Server is the VoxBridge HTTP server. It authenticates clients, manages
// call records, and hands WebSocket connections to the hub.
type Server struct {
	addr    string
	hub     *call.Hub
	repo    store.Repository
	metrics *observe.Metrics
	log     *slog.Logger

	// tokens maps bearer tokens to user ids. Guarded by tokenMu so the
	// config watcher can swap the set without a restart.
	tokenMu sync.RWMutex
	tokens  map[string]string

	httpSrv *http.Server
}

// New creates a Server. checkers become the /readyz probes.
func New(addr string, tokens map[string]string, hub *call.Hub, repo store.Repository, metrics *observe.Metrics, log *slog.Logger, checkers ...health.Checker) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:    addr,
		hub:     hub,
		repo:    repo,
		metrics: metrics,
		log:     log,
		tokens:  cloneTokens(tokens),
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/calls", s.handleCreateCall)
	mux.HandleFunc("GET /v1/calls/{session}/ws", s.handleCallSocket)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler. Exposed for tests that mount
// it on an httptest server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.addr)
	return s.httpSrv.ListenAndServe()
}

// ListenAndServeTLS runs the server with TLS until Shutdown or an error.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	s.log.Info("https server listening", "addr", s.addr)
	return s.httpSrv.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown stops accepting connections and ends all live calls.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.hub.Shutdown(ctx); err != nil {
		s.log.Warn("hub shutdown", "err", err)
	}
	return s.httpSrv.Shutdown(ctx)
}

// UpdateAuthTokens swaps the accepted token set. Already established
// connections are unaffected.
func (s *Server) UpdateAuthTokens(tokens map[string]string) {
	s.tokenMu.Lock()
	s.tokens = cloneTokens(tokens)
	s.tokenMu.Unlock()
}

// authenticate resolves the request's bearer token to a user id. WebSocket
// browser clients cannot set headers, so a token query parameter is
// accepted as a fallback.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", false
	}
	s.tokenMu.RLock()
	user, ok := s.tokens[token]
	s.tokenMu.RUnlock()
	return user, ok
}

// createCallRequest is the POST /v1/calls body.
type createCallRequest struct {
	CallLanguage string `json:"call_language"`

	Participants []struct {
		UserID   string `json:"user_id"`
		Language string `json:"language"`
		VoiceID  string `json:"voice_id"`
	} `json:"participants"`
}

type createCallResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		httpError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Participants) < 2 || len(req.Participants) > 4 {
		httpError(w, http.StatusBadRequest, "a call needs between 2 and 4 participants")
		return
	}
	if req.CallLanguage != "" && !supportedLanguages[req.CallLanguage] {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unsupported call language %q", req.CallLanguage))
		return
	}

	participants := make([]store.Participant, 0, len(req.Participants))
	seen := make(map[string]bool, len(req.Participants))
	for _, p := range req.Participants {
		if p.UserID == "" {
			httpError(w, http.StatusBadRequest, "participant user_id is required")
			return
		}
		if seen[p.UserID] {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("duplicate participant %q", p.UserID))
			return
		}
		seen[p.UserID] = true
		if !supportedLanguages[p.Language] {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q for participant %q", p.Language, p.UserID))
			return
		}
		participants = append(participants, store.Participant{
			UserID:   p.UserID,
			Language: p.Language,
			VoiceID:  p.VoiceID,
		})
	}

	id, err := s.hub.CreateSession(r.Context(), req.CallLanguage, participants)
	if err != nil {
		s.log.Error("create call", "err", err)
		httpError(w, http.StatusInternalServerError, "could not create call")
		return
	}

	s.log.Info("call created", "session", id, "participants", len(participants))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createCallResponse{SessionID: id})
}

// handleCallSocket upgrades the connection and hands it to the hub. Auth
// failures are reported through the WebSocket close frame rather than an
// HTTP status so clients always get a machine-readable reason.
func (s *Server) handleCallSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from app origins unknown at build time;
		// the bearer token is the actual admission control.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept", "session", sessionID, "err", err)
		return
	}
	conn := call.NewWebSocketConn(ws)

	userID, ok := s.authenticate(r)
	if !ok {
		s.metrics.RecordDisconnect(r.Context(), string(call.CloseUnauthenticated))
		_ = conn.Close(call.CloseUnauthenticated)
		return
	}

	log := s.log.With("session", sessionID, "user", userID)
	log.Info("participant connecting")
	if err := s.hub.Join(r.Context(), conn, sessionID, userID); err != nil {
		log.Warn("join rejected", "err", err)
		return
	}
	log.Info("participant detached")
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func cloneTokens(tokens map[string]string) map[string]string {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return cp
}
