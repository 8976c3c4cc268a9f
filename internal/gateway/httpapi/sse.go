package httpapi

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/agent"
	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/okapi"
)

// SSEEvent represents a server-sent event for streaming responses.
type SSEEvent struct {
	Type    string `json:"type"`              // "text", "tool_result", "done", "error"
	Content string `json:"content,omitempty"` // Text content.
	Tool    string `json:"tool,omitempty"`    // Tool name for tool events.
}

// handleChatStream handles POST /v1/chat/stream with SSE responses.
// Text deltas are forwarded as they arrive; tool results and the done
// marker follow once the agentic loop finishes.
func (g *Gateway) handleChatStream(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	correlationID := newCorrelationID()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	g.logger.Info("http chat stream",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("session_id", sessionID),
	)

	resp, err := g.agent.ProcessStream(c.Context(), &agent.Input{
		UserID:    userID,
		SessionID: sessionID,
		Message:   req.Message,
		TaskType:  req.TaskType,
	}, func(delta string) {
		c.SSEvent("text", SSEEvent{Content: delta})
	})
	if err != nil {
		// The stream may already be open, so failures are reported in-band.
		msg := "processing failed"
		if errors.Is(err, security.ErrSecurityViolation) {
			msg = "blocked by security policy"
		}
		g.logger.Error("agent stream failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.SSEvent("error", SSEEvent{Content: msg})
		return nil
	}

	for _, tr := range resp.ToolResults {
		c.SSEvent("tool_result", SSEEvent{Tool: tr.ToolName})
	}
	c.SSEvent("done", SSEEvent{Type: "done"})
	return nil
}
