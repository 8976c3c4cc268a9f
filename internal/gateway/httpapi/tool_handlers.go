package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/okapi"
)

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	SecurityLevel string         `json:"security_level"`
	InputSchema   map[string]any `json:"input_schema,omitempty"`
}

// ToolInvokeRequest is the JSON body for POST /v1/tools/{name}.
type ToolInvokeRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// ToolInvokeResponse is the JSON response after a direct tool invocation.
type ToolInvokeResponse struct {
	Tool          string         `json:"tool"`
	Success       bool           `json:"success"`
	Output        string         `json:"output"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

func (g *Gateway) handleToolList(c *okapi.Context) error {
	all := g.tools.All()
	resp := make([]ToolInfo, len(all))
	for i, t := range all {
		resp[i] = ToolInfo{
			Name:          t.Name(),
			Description:   t.Description(),
			SecurityLevel: t.SecurityLevel().String(),
			InputSchema:   t.InputSchema(),
		}
	}
	return c.OK(resp)
}

// handleToolInvoke runs one tool directly, outside the agentic loop.
// The runner still applies the full security pipeline, so a denied
// invocation surfaces here as 403.
func (g *Gateway) handleToolInvoke(c *okapi.Context) error {
	userID := c.GetString("userID")

	name := c.Param("name")
	if g.tools.Get(name) == nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "unknown tool"})
	}

	var req ToolInvokeRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	// The correlation ID doubles as the session marker in audit events.
	correlationID := newCorrelationID()

	g.logger.Info("http tool invocation",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("tool", name),
	)

	result, err := g.runner.Run(c.Context(), name, userID, correlationID, req.Params)
	if err != nil {
		if errors.Is(err, security.ErrSecurityViolation) {
			return c.JSON(http.StatusForbidden, ErrorBody{Error: err.Error()})
		}
		return c.AbortBadRequest(err.Error())
	}

	return c.OK(ToolInvokeResponse{
		Tool:          name,
		Success:       result.Success,
		Output:        result.Output,
		Metadata:      result.Metadata,
		CorrelationID: correlationID,
	})
}
