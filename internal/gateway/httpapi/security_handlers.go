package httpapi

import (
	"log/slog"
	"strconv"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/okapi"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// SecurityEventsResponse is the JSON response for GET /v1/security/events.
type SecurityEventsResponse struct {
	Events []security.AuditEvent `json:"events"`
	Count  int                   `json:"count"`
}

func (g *Gateway) handleSecurityStats(c *okapi.Context) error {
	return c.OK(g.security.Stats())
}

// handleSecurityEvents returns recent audit events, newest first.
// Optional query parameters: type, user, limit. With a durable store
// attached the query runs there; otherwise it falls back to the
// in-memory ring, which only survives the process.
func (g *Gateway) handleSecurityEvents(c *okapi.Context) error {
	q := c.Request().URL.Query()

	limit := defaultEventsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	eventType := q.Get("type")
	userFilter := q.Get("user")

	var events []security.AuditEvent
	if g.audit != nil {
		var err error
		events, err = g.audit.Query(c.Context(), eventType, userFilter, limit)
		if err != nil {
			g.logger.Error("audit query failed", slog.String("error", err.Error()))
			return c.AbortInternalServerError("querying audit events failed")
		}
	} else {
		events = g.security.Events(eventType, limit)
		if userFilter != "" {
			filtered := events[:0]
			for _, ev := range events {
				if ev.UserID == userFilter {
					filtered = append(filtered, ev)
				}
			}
			events = filtered
		}
	}

	if events == nil {
		events = []security.AuditEvent{}
	}
	return c.OK(SecurityEventsResponse{Events: events, Count: len(events)})
}
