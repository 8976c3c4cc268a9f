package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ToolConfiguration narrows the global policy for a single tool. Its
// lists and ceilings apply on top of the Manager's checks, never
// instead of them.
type ToolConfiguration struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	TimeoutSeconds   int      `json:"timeout" yaml:"timeout"`
	MaxRetries       int      `json:"max_retries" yaml:"max_retries"`
	SecurityLevel    string   `json:"security_level" yaml:"security_level"` // Parsed with ParseLevel.
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains   []string `json:"blocked_domains" yaml:"blocked_domains"`
	MaxFileSizeBytes int64    `json:"max_file_size" yaml:"max_file_size"`
	AllowedFileTypes []string `json:"allowed_file_types" yaml:"allowed_file_types"`
	BlockedFileTypes []string `json:"blocked_file_types" yaml:"blocked_file_types"`
}

// DefaultToolConfiguration returns the baseline per-tool settings.
func DefaultToolConfiguration() ToolConfiguration {
	return ToolConfiguration{
		Enabled:          true,
		TimeoutSeconds:   30,
		MaxRetries:       3,
		SecurityLevel:    LevelMedium.String(),
		MaxFileSizeBytes: 10 * 1024 * 1024,
	}
}

// Validate checks the configuration's ceilings are in range.
func (c ToolConfiguration) Validate() error {
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 300 {
		return fmt.Errorf("timeout must be between 1 and 300 seconds, got %d", c.TimeoutSeconds)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got %d", c.MaxRetries)
	}
	return nil
}

// ToolValidator applies one tool's narrowed configuration. It checks
// only what the configuration narrows (sizes, types, domains); path
// containment stays with the FileChecker.
type ToolValidator struct {
	config ToolConfiguration
	logger *slog.Logger
}

// NewToolValidator creates a validator for the given tool configuration.
func NewToolValidator(config ToolConfiguration, logger *slog.Logger) *ToolValidator {
	return &ToolValidator{config: config, logger: logger}
}

// CheckFile returns nil when the file passes the tool's size and type
// restrictions.
func (v *ToolValidator) CheckFile(ctx context.Context, path string) error {
	if info, err := os.Stat(path); err == nil && v.config.MaxFileSizeBytes > 0 {
		if info.Size() > v.config.MaxFileSizeBytes {
			v.logger.WarnContext(ctx, "tool file check failed: file too large",
				slog.String("path", path),
				slog.Int64("size_bytes", info.Size()),
			)
			return fmt.Errorf("%w: file size %d exceeds tool limit %d bytes",
				ErrSecurityViolation, info.Size(), v.config.MaxFileSizeBytes)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if containsString(v.config.BlockedFileTypes, ext) {
		v.logger.WarnContext(ctx, "tool file check failed: blocked file type",
			slog.String("path", path),
			slog.String("extension", ext),
		)
		return fmt.Errorf("%w: file type %q is blocked for this tool", ErrSecurityViolation, ext)
	}
	if len(v.config.AllowedFileTypes) > 0 && !containsString(v.config.AllowedFileTypes, ext) {
		v.logger.WarnContext(ctx, "tool file check failed: file type not allowed",
			slog.String("path", path),
			slog.String("extension", ext),
		)
		return fmt.Errorf("%w: file type %q is not allowed for this tool", ErrSecurityViolation, ext)
	}

	return nil
}

// CheckURL returns nil when the destination passes the tool's domain
// restrictions. Same allow/deny asymmetry as the global checker.
func (v *ToolValidator) CheckURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL %q: %v", ErrSecurityViolation, rawURL, err)
	}
	domain := strings.ToLower(parsed.Hostname())

	for _, blocked := range v.config.BlockedDomains {
		if domain == strings.ToLower(blocked) {
			v.logger.WarnContext(ctx, "tool URL check failed: blocked domain",
				slog.String("domain", domain),
			)
			return fmt.Errorf("%w: domain %q is blocked for this tool", ErrSecurityViolation, domain)
		}
	}
	if len(v.config.AllowedDomains) > 0 && !domainAllowed(domain, v.config.AllowedDomains) {
		v.logger.WarnContext(ctx, "tool URL check failed: domain not allowed",
			slog.String("domain", domain),
		)
		return fmt.Errorf("%w: domain %q is not allowed for this tool", ErrSecurityViolation, domain)
	}

	return nil
}
