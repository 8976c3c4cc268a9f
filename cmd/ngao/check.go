package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/sandbox"
)

var checkConfigPath string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and security policy",
	Long: `Load the configuration, validate it, and self-check the resulting
security policy: the sandbox denylist must flag a known-bad probe, and
allowed directories are verified to exist.

Warnings do not fail the check; a config that cannot be loaded or a
sandbox that passes the probe does.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runCheck(_ *cobra.Command, _ []string) error {
	path := goutils.Env("NGAO_CONFIG", checkConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("ok: config valid (%s)\n", path)
	fmt.Printf("ok: provider %s via %s\n", cfg.Provider.Model, cfg.Provider.Endpoint())

	policy := buildPolicy(cfg)
	fmt.Printf("policy: sandbox=%t audit=%t exec_ceiling=%s memory=%dMiB allowed_dirs=%d blocked_domains=%d\n",
		policy.SandboxEnabled,
		policy.AuditEnabled,
		policy.MaxExecutionTime,
		policy.MaxMemoryBytes>>20,
		len(policy.AllowedDirs),
		len(policy.BlockedDomains),
	)

	warnings := 0

	// The denylist must flag this probe; a pass means the lexical gate
	// is broken.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	findings := sandbox.New(policy, quiet).ValidateCode("eval(input())")
	if len(findings) == 0 {
		return fmt.Errorf("sandbox denylist did not flag the probe code")
	}
	fmt.Printf("ok: sandbox denylist active (%d findings on probe)\n", len(findings))

	for _, dir := range policy.AllowedDirs {
		if _, err := os.Stat(dir); err != nil {
			fmt.Printf("warn: allowed directory %s is not accessible\n", dir)
			warnings++
		}
	}

	if policy.AuditEnabled {
		auditPath := cfg.ResolvedAuditLogPath()
		fmt.Printf("ok: audit events go to %s (ring size %d)\n", auditPath, policy.AuditRingSize)
	} else {
		fmt.Println("warn: auditing is disabled")
		warnings++
	}

	if len(cfg.Gateway.KeyUserMapping()) == 0 {
		fmt.Println("warn: no API keys configured; the gateway will accept anonymous requests")
		warnings++
	}

	fmt.Printf("check passed (%d warnings)\n", warnings)
	return nil
}
