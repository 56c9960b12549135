package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/server"
)

// statusInterval is how often clients receive a status message without
// any command or state change.
const statusInterval = 3 * time.Second

// Server is the optional status server. It streams level, calibration and
// transcript messages over /ws and exposes Prometheus metrics on /metrics.
type Server struct {
	config   *config.Config
	app      *App
	commands *server.CommandHandler
	version  *VersionChecker
}

// NewServer returns a new Server for app.
func NewServer(cfg *config.Config, app *App, version *VersionChecker) *Server {
	return &Server{
		config:   cfg,
		app:      app,
		commands: server.NewCommandHandler(cfg, app),
		version:  version,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	sub := s.app.Hub().Subscribe()
	defer sub.Close()

	slog.Debug("status client connected", "remote", r.RemoteAddr)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(sub, send, done, statusUpdate)

	slog.Debug("status client disconnected", "remote", r.RemoteAddr)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop forwards hub messages and periodic status updates.
func (s *Server) runWebSocketEventLoop(sub *server.Subscription, send chan any, done, statusUpdate <-chan struct{}) {
	defer close(send)

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pump hub messages into a channel so they can be selected on.
	messages := make(chan any)
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		case msg = <-messages:
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() server.Status {
	status := s.app.Status()
	if s.version != nil {
		status.UpdateAvailable = s.version.Info().UpdateAvail
	}
	return status
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.app.Metrics().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server on the configured listen address.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := s.config.Snapshot().ListenAddr
	slog.Info("starting status server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
