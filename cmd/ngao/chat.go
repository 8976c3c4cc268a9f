package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/gateway/cli"
)

var chatConfigPath string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session against the local agent core.
No HTTP server runs in this mode; messages go straight through the same
security pipeline the gateway uses.

Slash commands inside the session:
  /tasks        list task profiles
  /task <type>  switch the active task profile
  /new          start a fresh session`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

// runChat starts the interactive REPL wired to the same components as serve.
func runChat(_ *cobra.Command, _ []string) error {
	// Warnings and errors only; the REPL owns the terminal.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(goutils.Env("NGAO_CONFIG", chatConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cliGW := cli.NewGateway(sc.AgentCore, sc.Tasks, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- cliGW.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cliGW.Stop(shutdownCtx)
}
