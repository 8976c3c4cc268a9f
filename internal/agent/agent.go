// Package agent defines the core agent interface and domain types.
package agent

import (
	"context"

	"github.com/jkaninda/ngao/internal/task"
)

// Agent processes user inputs through the LLM and executes tools with
// security enforcement.
type Agent interface {
	// Process sends a user message to the LLM and returns the response.
	Process(ctx context.Context, input *Input) (*Response, error)

	// ProcessStream behaves like Process but forwards assistant text
	// deltas to onText as they arrive. Tool calls still execute between
	// deltas, so a single request may stream several text segments.
	ProcessStream(ctx context.Context, input *Input, onText func(string)) (*Response, error)
}

// Input represents a user request entering the agent.
type Input struct {
	UserID    string
	SessionID string
	Message   string
	TaskType  string // Raw task type; unknown values fall back to general chat.
}

// DefaultMaxIterations is the safety guard against infinite tool-use loops.
const DefaultMaxIterations = 5

// Response is the agent's output after LLM processing.
type Response struct {
	Message     string
	TaskType    task.TaskType // Resolved profile type, after fallback.
	TokensUsed  int
	ToolResults []ToolCallResult // Summary of tools executed during processing.
}

// ToolCallResult summarizes a single tool execution within the agentic loop.
type ToolCallResult struct {
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
}
