// Package ws streams audit events to operator clients over WebSocket.
// Each client gets every event the audit logger records from the moment
// it connects. Slow consumers miss events rather than blocking the
// logger.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/jkaninda/ngao/internal/observability"
	"github.com/jkaninda/ngao/internal/security"
)

// Subprotocol identifies the audit stream wire format: one JSON audit
// event per text message.
const Subprotocol = "ngao-audit-v1"

// Config configures the audit stream server.
type Config struct {
	// APIKeys maps API key → user ID, shared with the HTTP gateway.
	// Empty means every client connects as the anonymous user.
	APIKeys map[string]string
}

// Server upgrades HTTP connections and fans audit events out to them.
type Server struct {
	config  Config
	audit   *security.AuditLogger
	metrics *observability.MetricsCollector // nil = no subscriber gauge.
	logger  *slog.Logger
}

// NewServer creates an audit stream server backed by the given audit logger.
func NewServer(cfg Config, audit *security.AuditLogger, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	return &Server{
		config:  cfg,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.streamEvents(r.Context(), conn, userID)
}

// authorize resolves the caller from the token query parameter or the
// Authorization header. Browser WebSocket clients cannot set headers,
// hence the query parameter.
func (s *Server) authorize(r *http.Request) (string, bool) {
	if len(s.config.APIKeys) == 0 {
		return "anonymous", true
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		authz := r.Header.Get("Authorization")
		if strings.HasPrefix(authz, "Bearer ") {
			token = strings.TrimPrefix(authz, "Bearer ")
		}
	}
	if token == "" {
		return "", false
	}

	userID := ""
	for key, uid := range s.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			userID = uid
		}
	}
	return userID, userID != ""
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, userID string) {
	events, unsubscribe := s.audit.Subscribe()
	defer unsubscribe()

	if s.metrics != nil {
		s.metrics.AuditStreamSubscribers.Inc()
		defer s.metrics.AuditStreamSubscribers.Dec()
	}

	s.logger.Info("audit stream connected", slog.String("user_id", userID))

	// The stream is write-only. CloseRead answers pings and cancels the
	// context when the peer closes or sends anything.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("audit stream disconnected", slog.String("user_id", userID))
			conn.Close(websocket.StatusNormalClosure, "stream closed")
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					s.logger.Warn("audit stream write failed",
						slog.String("user_id", userID),
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}
