package web

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// maxRedirects caps how many hops a fetch may follow.
const maxRedirects = 5

// CheckSSRF resolves the host and rejects private, loopback,
// link-local, and unspecified destinations. Resolution here is
// advisory: the answer can change between check and connect, so the
// dial guard in NewSafeClient re-checks the address actually dialed.
func CheckSSRF(host string) error {
	// Literal addresses skip DNS.
	if addr, err := netip.ParseAddr(host); err == nil {
		if isDisallowedAddr(addr) {
			return fmt.Errorf("SSRF blocked: %s is a private or internal address", addr)
		}
		return nil
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	for _, ipStr := range ips {
		addr, err := netip.ParseAddr(ipStr)
		if err != nil {
			return fmt.Errorf("invalid IP %q for host %q", ipStr, host)
		}
		if isDisallowedAddr(addr) {
			return fmt.Errorf("SSRF blocked: host %q resolves to private IP %s", host, ipStr)
		}
	}
	return nil
}

// isDisallowedAddr reports whether the address falls in a range the
// agent must never reach: loopback, RFC 1918 and ULA private space,
// link-local (cloud metadata endpoints live there), and the
// unspecified address.
func isDisallowedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// NewSafeClient returns an HTTP client hardened for agent-driven
// fetches. The dialer refuses private destinations at connect time,
// which also covers DNS answers that changed after a pre-flight check,
// and every redirect hop is re-validated with checkHop before it is
// followed. checkHop may be nil; the dial guard still applies.
func NewSafeClient(timeout time.Duration, checkHop func(req *http.Request) error) *http.Client {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("unexpected dial address %q: %w", address, err)
			}
			if isDisallowedAddr(ap.Addr()) {
				return fmt.Errorf("SSRF blocked: dial to private address %s refused", ap.Addr())
			}
			return nil
		},
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:       dialer.DialContext,
			ForceAttemptHTTP2: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			if checkHop != nil {
				return checkHop(req)
			}
			return nil
		},
	}
}
