package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/migadu/popclient/consts"
	"github.com/migadu/popclient/logger"
	"github.com/migadu/popclient/pop3"
	"github.com/migadu/popclient/server/idgen"
	"github.com/migadu/popclient/session"
)

// Server exposes a POP3 session over HTTP
type Server struct {
	addr            string
	apiKey          string
	metricsPath     string
	shutdownTimeout time.Duration
	session         *session.Session
	server          *http.Server
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr   string
	APIKey string // Empty disables authentication
	// MetricsPath serves Prometheus metrics when not empty
	MetricsPath     string
	ShutdownTimeout time.Duration
}

// New creates a new HTTP API server around sess
func New(sess *session.Session, options ServerOptions) (*Server, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required for HTTP API server")
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 10 * time.Second
	}
	if options.APIKey == "" {
		logger.Warn("HTTP API: no api_key configured, requests are not authenticated")
	}
	return &Server{
		addr:            options.Addr,
		apiKey:          options.APIKey,
		metricsPath:     options.MetricsPath,
		shutdownTimeout: options.ShutdownTimeout,
		session:         sess,
	}, nil
}

// Start runs the HTTP API server until ctx is cancelled
func Start(ctx context.Context, sess *session.Session, options ServerOptions, errChan chan error) {
	server, err := New(sess, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	logger.Info("HTTP API: starting", "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("HTTP API: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP API: error during shutdown", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the router with all routes and middleware installed
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	if s.metricsPath != "" {
		router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	// Session routes
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/connect", s.handleConnect).Methods("POST")
	v1.HandleFunc("/user", s.handleUser).Methods("POST")
	v1.HandleFunc("/pass", s.handlePass).Methods("POST")
	v1.HandleFunc("/stat", s.handleStat).Methods("GET")
	v1.HandleFunc("/list", s.handleList).Methods("GET")
	v1.HandleFunc("/messages/{id}", s.handleMessage).Methods("GET")
	v1.HandleFunc("/messages/{id}/raw", s.handleRawMessage).Methods("GET")
	v1.HandleFunc("/quit", s.handleQuit).Methods("POST")

	// Offline request builder
	v1.HandleFunc("/commands/{verb}", s.handleBuildCommand).Methods("GET")

	return router
}

// Middleware functions

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := idgen.New()
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), consts.RequestIDKey, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		logger.Info("HTTP API: request", "request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeSessionError maps a session failure to a status code. Reconnect is
// set when the session no longer holds a usable connection.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var protoErr *pop3.Error
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusBadGateway

	switch {
	case errors.Is(err, consts.ErrNotConnected):
		status = http.StatusConflict
		resp.Reconnect = true
	case errors.Is(err, pop3.ErrInvalidArgument), errors.Is(err, pop3.ErrBadState):
		status = http.StatusBadRequest
	case errors.Is(err, consts.ErrMalformedMessage):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &protoErr):
		// QUIT empties the slot even when answered with -ERR.
		resp.Reconnect = !s.session.Connected()
	default:
		resp.Reconnect = pop3.IsFatal(err)
		logger.Warn("HTTP API: POP3 failure", "request_id", r.Context().Value(consts.RequestIDKey), "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message number %q", s)
	}
	return id, nil
}

// Request/Response types

type ErrorResponse struct {
	Error     string `json:"error"`
	Reconnect bool   `json:"reconnect"`
}

type ConnectRequest struct {
	Addr string `json:"addr"`
	TLS  bool   `json:"tls"`
}

type UserRequest struct {
	Name string `json:"name"`
}

type PassRequest struct {
	Secret string `json:"secret"`
}

type StatusResponse struct {
	Connected bool   `json:"connected"`
	Addr      string `json:"addr,omitempty"`
}

type GreetingResponse struct {
	Greeting string `json:"greeting"`
}

type TextResponse struct {
	Text string `json:"text"`
}

type StatResponse struct {
	Count  uint64 `json:"count"`
	Octets uint64 `json:"octets"`
	Text   string `json:"text"`
}

type ListResponse struct {
	Listings []pop3.ScanListing `json:"listings"`
	Text     string             `json:"text"`
}

type CommandResponse struct {
	Request string `json:"request"`
}

// Handler functions

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	addr, connected := s.session.Status()
	s.writeJSON(w, http.StatusOK, StatusResponse{Connected: connected, Addr: addr})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !s.decode(w, r, &req) {
		return
	}

	greeting, err := s.session.Connect(r.Context(), req.Addr, req.TLS)
	if err != nil {
		// The previous connection is gone either way.
		s.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error(), Reconnect: true})
		return
	}
	s.writeJSON(w, http.StatusOK, GreetingResponse{Greeting: greeting})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !s.decode(w, r, &req) {
		return
	}

	text, err := s.session.User(r.Context(), req.Name)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TextResponse{Text: text})
}

func (s *Server) handlePass(w http.ResponseWriter, r *http.Request) {
	var req PassRequest
	if !s.decode(w, r, &req) {
		return
	}

	text, err := s.session.Pass(r.Context(), req.Secret)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TextResponse{Text: text})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	stat, err := s.session.Stat(r.Context())
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatResponse{Count: stat.Count, Octets: stat.Octets, Text: stat.Text})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		list *pop3.ListResult
		err  error
	)
	if idParam := r.URL.Query().Get("id"); idParam != "" {
		id, perr := parseID(idParam)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		list, err = s.session.ListMessage(r.Context(), id)
	} else {
		list, err = s.session.List(r.Context())
	}
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	listings := list.Listings
	if listings == nil {
		listings = []pop3.ScanListing{}
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Listings: listings, Text: list.Text})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.session.Fetch(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleRawMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.session.Retr(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Length", strconv.Itoa(len(msg.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(msg.Body)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	text, err := s.session.Quit(r.Context())
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TextResponse{Text: text})
}

func (s *Server) handleBuildCommand(w http.ResponseWriter, r *http.Request) {
	verb, err := pop3.ParseVerb(mux.Vars(r)["verb"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	request, err := pop3.EncodeCommand(pop3.Command{Verb: verb, Args: r.URL.Query()["arg"]})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, CommandResponse{Request: request})
}
