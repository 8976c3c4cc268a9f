// Package cli implements an interactive CLI gateway for Ngao.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/agent"
	"github.com/jkaninda/ngao/internal/task"
)

const cliUserID = "cli-user"

// Gateway is the interactive command-line interface. Besides plain chat
// it understands a few slash commands:
//
//	/tasks        list task profiles
//	/task <type>  switch the session to a task type
//	/new          start a fresh session
//	exit, quit    leave the REPL
type Gateway struct {
	agent     agent.Agent
	tasks     *task.Registry // nil = /tasks commands disabled.
	logger    *slog.Logger
	done      chan struct{} // closed by Stop to signal shutdown
	sessionID string
	taskType  task.TaskType
}

// NewGateway creates a CLI gateway backed by the given agent.
func NewGateway(a agent.Agent, tasks *task.Registry, logger *slog.Logger) *Gateway {
	return &Gateway{
		agent:     a,
		tasks:     tasks,
		logger:    logger,
		done:      make(chan struct{}),
		sessionID: uuid.New().String(),
		taskType:  task.GeneralChat,
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Ngao — Security-First Chatbot Backend")
	fmt.Println("Type your message, /tasks to list task types, or \"exit\" to quit.")
	fmt.Println()

	for {
		fmt.Printf("ngao(%s)> ", g.taskType)

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye.")
			return nil
		}
		if strings.HasPrefix(line, "/") {
			g.handleCommand(line)
			continue
		}

		g.logger.DebugContext(ctx, "cli request",
			slog.String("user_id", cliUserID),
			slog.String("session_id", g.sessionID),
			slog.String("task_type", string(g.taskType)),
		)

		resp, err := g.agent.Process(ctx, &agent.Input{
			UserID:    cliUserID,
			SessionID: g.sessionID,
			Message:   line,
			TaskType:  string(g.taskType),
		})
		if err != nil {
			g.logger.ErrorContext(ctx, "agent processing failed",
				slog.String("session_id", g.sessionID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		fmt.Println()
		fmt.Println(resp.Message)
		if len(resp.ToolResults) > 0 {
			fmt.Println()
			for _, tr := range resp.ToolResults {
				status := "ok"
				if !tr.Success {
					status = "failed"
				}
				fmt.Printf("  [tool %s: %s]\n", tr.ToolName, status)
			}
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// handleCommand dispatches a slash command.
func (g *Gateway) handleCommand(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/tasks":
		if g.tasks == nil {
			fmt.Println("No task registry configured.")
			return
		}
		for _, p := range g.tasks.List() {
			marker := " "
			if p.Type == g.taskType {
				marker = "*"
			}
			fmt.Printf("%s %-20s %s\n", marker, p.Type, p.Description)
		}

	case "/task":
		if len(fields) < 2 {
			fmt.Println("Usage: /task <type>")
			return
		}
		raw := fields[1]
		if task.Parse(raw) != task.TaskType(raw) {
			fmt.Printf("Unknown task type %q. Use /tasks to list them.\n", raw)
			return
		}
		g.taskType = task.TaskType(raw)
		fmt.Printf("Switched to %s.\n", g.taskType)

	case "/new":
		g.sessionID = uuid.New().String()
		g.taskType = task.GeneralChat
		fmt.Println("Started a new session.")

	default:
		fmt.Printf("Unknown command %s. Commands: /tasks, /task <type>, /new\n", fields[0])
	}
}
