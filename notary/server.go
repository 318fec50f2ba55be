package notary

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tlsn-notary/shared"
)

// Service exposes a Verifier over websockets
type Service struct {
	verifier   *Verifier
	logger     *shared.Logger
	pathPrefix string
	timeout    time.Duration
	upgrader   websocket.Upgrader
	active     atomic.Int64
	served     atomic.Int64
}

// NewService creates a notary service. Sessions are served under
// /<pathPrefix>/notarize and are abandoned after timeout.
func NewService(verifier *Verifier, pathPrefix string, timeout time.Duration, logger *shared.Logger) *Service {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Service{
		verifier:   verifier,
		logger:     logger,
		pathPrefix: strings.Trim(pathPrefix, "/"),
		timeout:    timeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Routes returns the service's HTTP handler
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	register := func(r chi.Router) {
		r.Get("/notarize", s.handleNotarize)
	}
	if s.pathPrefix == "" {
		register(r)
	} else {
		r.Route("/"+s.pathPrefix, register)
	}
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "healthy",
		"notary_address":  s.verifier.Address(),
		"active_sessions": s.active.Load(),
		"served_sessions": s.served.Load(),
	})
}

func (s *Service) handleNotarize(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.WithConnection(r.RemoteAddr)
	s.active.Add(1)
	defer s.active.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	header, err := s.verifier.Notarize(ctx, conn)
	if err != nil {
		logger.Warn("Notarization session failed", zap.Error(err))
		return
	}
	s.served.Add(1)
	logger.Info("Notarization session served",
		zap.String("session_id", header.SessionID),
		zap.String("server_name", header.ServerName))
}
