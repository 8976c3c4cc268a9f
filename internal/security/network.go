package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// NetworkChecker validates outbound request destinations against the
// policy deny and allow lists. The asymmetry is deliberate: an empty
// allow list means no restriction beyond the deny list, while a
// non-empty allow list requires membership.
type NetworkChecker struct {
	policy Policy
	logger *slog.Logger
}

// NewNetworkChecker creates a network destination checker for the
// given policy.
func NewNetworkChecker(policy Policy, logger *slog.Logger) *NetworkChecker {
	return &NetworkChecker{policy: policy, logger: logger}
}

// Check returns nil when the URL's host may be contacted. The deny
// list is consulted first, then allow-list membership when one is
// configured. The returned error names the offending domain.
func (c *NetworkChecker) Check(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		c.logger.WarnContext(ctx, "network request denied: unparseable URL",
			slog.String("url", rawURL),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: invalid URL %q: %v", ErrSecurityViolation, rawURL, err)
	}

	domain := strings.ToLower(parsed.Hostname())

	for _, blocked := range c.policy.BlockedDomains {
		if domain == strings.ToLower(blocked) {
			c.logger.WarnContext(ctx, "network request denied: blocked domain",
				slog.String("url", rawURL),
				slog.String("domain", domain),
			)
			return fmt.Errorf("%w: domain %q is blocked", ErrSecurityViolation, domain)
		}
	}

	if len(c.policy.AllowedDomains) > 0 && !domainAllowed(domain, c.policy.AllowedDomains) {
		c.logger.WarnContext(ctx, "network request denied: domain not allowed",
			slog.String("url", rawURL),
			slog.String("domain", domain),
		)
		return fmt.Errorf("%w: domain %q is not in the allowlist", ErrSecurityViolation, domain)
	}

	return nil
}

// domainAllowed reports whether the host is in the allowlist,
// case-insensitively.
func domainAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, d := range allowed {
		if strings.ToLower(d) == host {
			return true
		}
	}
	return false
}
