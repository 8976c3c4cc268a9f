package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ngao/internal/llm"
	"github.com/jkaninda/ngao/internal/multimodal"
	"github.com/jkaninda/ngao/internal/observability"
	"github.com/jkaninda/ngao/internal/task"
	"github.com/jkaninda/ngao/internal/tools"
)

// toolRunner executes one gated tool call. Satisfied by *tools.Runner.
type toolRunner interface {
	Run(ctx context.Context, name, userID, sessionID string, params map[string]any) (*tools.Result, error)
}

// Orchestrator is the default Agent implementation.
// It resolves a task profile per request, normalizes multi-modal input,
// and drives the tool-use loop with every invocation going through the
// security pipeline. Session history is managed per-call: loaded from a
// SessionStore (if configured) or kept ephemeral (empty each call).
type Orchestrator struct {
	provider   llm.Provider
	profiles   *task.Registry
	logger     *slog.Logger
	registry   *tools.Registry              // nil = no tools advertised
	runner     toolRunner                   // nil = tool calls rejected
	normalizer *multimodal.Normalizer       // nil = input used verbatim
	sessions   SessionStore                 // nil = ephemeral, no history
	obs        *observability.Observability // nil = observability disabled

	maxIterations      int // 0 = DefaultMaxIterations
	maxHistoryMessages int // 0 = DefaultMaxHistoryMessages
	maxMessageBytes    int // 0 = DefaultMaxMessageBytes
}

// NewOrchestrator creates an agent backed by the given LLM provider and
// task profile registry.
func NewOrchestrator(provider llm.Provider, profiles *task.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		profiles: profiles,
		logger:   logger,
	}
}

// WithTools attaches the tool registry (advertised to the LLM) and the
// runner that executes calls through the security pipeline.
func (o *Orchestrator) WithTools(registry *tools.Registry, runner toolRunner) *Orchestrator {
	o.registry = registry
	o.runner = runner
	return o
}

// WithNormalizer attaches the multi-modal input normalizer.
func (o *Orchestrator) WithNormalizer(n *multimodal.Normalizer) *Orchestrator {
	o.normalizer = n
	return o
}

// WithSessions attaches per-session conversation memory.
func (o *Orchestrator) WithSessions(store SessionStore, maxMessages, maxMsgBytes int) *Orchestrator {
	o.sessions = store
	o.maxHistoryMessages = maxMessages
	o.maxMessageBytes = maxMsgBytes
	return o
}

// WithObservability attaches observability (metrics, tracing).
func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// WithMaxIterations sets the maximum number of tool-use loop iterations.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// Process sends the user's message to the LLM and runs an agentic loop:
// when the LLM requests tool use, the tools are executed and results fed
// back until the LLM produces a final text response.
func (o *Orchestrator) Process(ctx context.Context, input *Input) (*Response, error) {
	return o.run(ctx, input, nil)
}

// ProcessStream is the streaming variant of Process. Assistant text is
// forwarded to onText delta by delta; tool execution happens between
// streamed segments.
func (o *Orchestrator) ProcessStream(ctx context.Context, input *Input, onText func(string)) (*Response, error) {
	if onText == nil {
		return o.run(ctx, input, nil)
	}
	return o.run(ctx, input, onText)
}

func (o *Orchestrator) run(ctx context.Context, input *Input, onText func(string)) (*Response, error) {
	profile := o.profiles.Get(task.Parse(input.TaskType))

	if o.obs != nil && o.obs.Tracer != nil {
		var span trace.Span
		ctx, span = o.obs.Tracer.Tracer().Start(ctx, "agent.process",
			trace.WithAttributes(
				attribute.String("user_id", input.UserID),
				attribute.String("session_id", input.SessionID),
				attribute.String("task_type", string(profile.Type)),
			))
		defer span.End()
	}

	o.logger.DebugContext(ctx, "processing input",
		slog.String("user_id", input.UserID),
		slog.String("session_id", input.SessionID),
		slog.String("task_type", string(profile.Type)),
	)

	// Load or create session-scoped history.
	var history []llm.Message
	persistent := input.SessionID != "" && o.sessions != nil

	if persistent {
		if err := o.sessions.Claim(ctx, input.SessionID, input.UserID); err != nil {
			o.logger.ErrorContext(ctx, "failed to claim session, falling back to ephemeral",
				slog.String("session_id", input.SessionID),
				slog.String("error", err.Error()),
			)
			persistent = false
		} else {
			var err error
			history, err = o.sessions.Load(ctx, input.SessionID, o.maxHistory())
			if err != nil {
				o.logger.ErrorContext(ctx, "failed to load history, falling back to ephemeral",
					slog.String("error", err.Error()),
				)
				persistent = false
				history = nil
			}
		}
	}

	// Track new messages added during this call for batch persistence.
	historyStart := len(history)

	// Normalize multi-modal references and build the user message.
	content := input.Message
	if o.normalizer != nil {
		parts := o.normalizer.Normalize(ctx, input.Message)
		content = buildUserMessage(input.Message, parts)
	}
	history = append(history, llm.Message{
		Role:    llm.RoleUser,
		Content: o.truncateContent(content),
	})
	history = o.truncateHistory(history)

	toolDefs := o.toolDefinitions(profile)

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	totalTokens := 0
	var allToolResults []ToolCallResult

	for iter := 0; iter < maxIter; iter++ {
		req := &llm.Request{
			SystemPrompt: profile.SystemPrompt,
			Messages:     history,
			MaxTokens:    profile.MaxTokens,
			Temperature:  profile.Temperature,
			TopP:         profile.TopP,
			Tools:        toolDefs,
		}

		var llmResp *llm.Response
		var err error
		if onText != nil {
			llmResp, err = o.streamOnce(ctx, req, onText)
		} else {
			llmResp, err = o.provider.SendMessage(ctx, req)
		}
		if err != nil {
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			o.persistNewMessages(ctx, persistent, input.SessionID, history[historyStart:])
			return nil, fmt.Errorf("llm request failed: %w", err)
		}

		totalTokens += llmResp.Usage.InputTokens + llmResp.Usage.OutputTokens

		// Append the full assistant response (with tool_use blocks) to history.
		history = append(history, llm.Message{
			Role:          llm.RoleAssistant,
			ContentBlocks: llmResp.ContentBlocks,
		})

		// If no tool use requested, we are done.
		if !llmResp.HasToolUse() {
			o.persistNewMessages(ctx, persistent, input.SessionID, history[historyStart:])
			return &Response{
				Message:     llmResp.Content,
				TaskType:    profile.Type,
				TokensUsed:  totalTokens,
				ToolResults: allToolResults,
			}, nil
		}

		o.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("iteration", iter+1),
			slog.Int("tool_calls", len(llmResp.ToolUseBlocks())),
			slog.String("user_id", input.UserID),
		)

		resultBlocks, results := o.executeToolCalls(ctx, input, llmResp.ToolUseBlocks())
		allToolResults = append(allToolResults, results...)

		// Append tool results as a user message with tool_result blocks.
		history = append(history, llm.Message{
			Role:          llm.RoleUser,
			ContentBlocks: resultBlocks,
		})
	}

	// Max iterations reached.
	o.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", maxIter),
		slog.String("user_id", input.UserID),
	)

	o.persistNewMessages(ctx, persistent, input.SessionID, history[historyStart:])

	return &Response{
		Message:     "Maximum tool use iterations reached. Please refine your request.",
		TaskType:    profile.Type,
		TokensUsed:  totalTokens,
		ToolResults: allToolResults,
	}, nil
}

// streamOnce performs one streamed provider round-trip, forwarding text
// deltas to onText and rebuilding the response from the event stream.
func (o *Orchestrator) streamOnce(ctx context.Context, req *llm.Request, onText func(string)) (*llm.Response, error) {
	streamer, ok := o.provider.(llm.StreamingProvider)
	if !ok {
		streamer = &llm.NonStreamingAdapter{Provider: o.provider}
	}

	events := make(chan llm.StreamEvent, 16)
	drained := make(chan struct{})

	var (
		text      strings.Builder
		toolUses  []llm.ContentBlock
		streamErr error
	)
	go func() {
		defer close(drained)
		for ev := range events {
			switch ev.Type {
			case "text":
				text.WriteString(ev.Content)
				onText(ev.Content)
			case "tool_use_start":
				if ev.ToolUse != nil {
					toolUses = append(toolUses, *ev.ToolUse)
				}
			case "error":
				streamErr = ev.Error
			}
		}
	}()

	err := streamer.StreamMessage(ctx, req, events)
	<-drained
	if err != nil {
		return nil, err
	}
	if streamErr != nil {
		return nil, streamErr
	}

	resp := &llm.Response{
		Content:    text.String(),
		StopReason: "end_turn",
	}
	if text.Len() > 0 {
		resp.ContentBlocks = append(resp.ContentBlocks, llm.TextBlock(text.String()))
	}
	if len(toolUses) > 0 {
		resp.ContentBlocks = append(resp.ContentBlocks, toolUses...)
		resp.StopReason = "tool_use"
	}
	return resp, nil
}

// executeToolCalls runs each requested tool through the security
// pipeline and builds tool_result content blocks. Errors become error
// results the LLM can react to rather than aborting the whole request.
func (o *Orchestrator) executeToolCalls(ctx context.Context, input *Input, toolUseBlocks []llm.ContentBlock) ([]llm.ContentBlock, []ToolCallResult) {
	var resultBlocks []llm.ContentBlock
	var results []ToolCallResult

	for _, block := range toolUseBlocks {
		if o.runner == nil {
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(block.ID, "Error: no tool runner configured", true))
			results = append(results, ToolCallResult{ToolName: block.Name, Success: false})
			continue
		}

		result, err := o.runner.Run(ctx, block.Name, input.UserID, input.SessionID, block.Input)
		if err != nil {
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(
				block.ID,
				fmt.Sprintf("Error: %s", err.Error()),
				true,
			))
			results = append(results, ToolCallResult{ToolName: block.Name, Success: false})
			continue
		}

		output := tools.TruncateOutput(result.Output, tools.MaxOutputBytes)
		resultBlocks = append(resultBlocks, llm.ToolResultBlock(block.ID, output, false))
		results = append(results, ToolCallResult{
			ToolName: block.Name,
			Success:  result.Success,
		})
	}

	return resultBlocks, results
}

// toolDefinitions returns the registry definitions admitted by the
// profile. A profile with no tool list advertises no tools at all.
func (o *Orchestrator) toolDefinitions(profile task.Profile) []llm.ToolDefinition {
	if o.registry == nil || len(profile.Tools) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(profile.Tools))
	for _, name := range profile.Tools {
		allowed[name] = true
	}
	var defs []llm.ToolDefinition
	for _, def := range tools.ToLLMDefinitions(o.registry) {
		if allowed[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs
}

// persistNewMessages saves new messages to the session store (non-fatal on error).
func (o *Orchestrator) persistNewMessages(ctx context.Context, persistent bool, sessionID string, msgs []llm.Message) {
	if !persistent || len(msgs) == 0 {
		return
	}
	if err := o.sessions.Append(ctx, sessionID, msgs); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist session messages",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// truncateHistory keeps the last maxHistoryMessages messages.
// Ensures the first message has role "user" to avoid LLM protocol violations.
func (o *Orchestrator) truncateHistory(history []llm.Message) []llm.Message {
	max := o.maxHistory()
	if len(history) <= max {
		return history
	}
	truncated := history[len(history)-max:]
	if len(truncated) > 0 && truncated[0].Role == llm.RoleAssistant {
		truncated = truncated[1:]
	}
	return truncated
}

func (o *Orchestrator) maxHistory() int {
	if o.maxHistoryMessages > 0 {
		return o.maxHistoryMessages
	}
	return DefaultMaxHistoryMessages
}

// truncateContent enforces the per-message size limit.
func (o *Orchestrator) truncateContent(s string) string {
	max := o.maxMessageBytes
	if max <= 0 {
		max = DefaultMaxMessageBytes
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[message truncated]"
}

// buildUserMessage reassembles the user message from normalized parts:
// text parts first, then one bracketed reference line per attachment.
func buildUserMessage(raw string, parts []multimodal.InputPart) string {
	if len(parts) == 0 {
		return raw
	}
	var segments []string
	for _, p := range parts {
		if p.Kind == multimodal.KindText {
			segments = append(segments, p.Value)
		}
	}
	for _, p := range parts {
		if p.Kind != multimodal.KindText {
			segments = append(segments, describePart(p))
		}
	}
	return strings.Join(segments, "\n")
}

// describePart renders a non-text part as a reference line the model
// can reason about without receiving raw bytes.
func describePart(p multimodal.InputPart) string {
	kind := string(p.Kind)
	switch p.Source {
	case multimodal.SourceDataURI:
		return fmt.Sprintf("[inline %s attachment (%s), %d bytes base64]", kind, p.MIMEType, len(p.Value))
	case multimodal.SourcePath:
		return fmt.Sprintf("[%s file (%s) at %s]", kind, p.MIMEType, p.Value)
	case multimodal.SourceURL:
		if p.Kind == multimodal.KindURL {
			return fmt.Sprintf("[link: %s]", p.Value)
		}
		return fmt.Sprintf("[%s (%s) at %s]", kind, p.MIMEType, p.Value)
	}
	return fmt.Sprintf("[%s: %s]", kind, p.Value)
}

// Compile-time interface check.
var _ Agent = (*Orchestrator)(nil)
