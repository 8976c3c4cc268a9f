package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/ngao/internal/ratelimit"
)

// RateLimitedBody is the 429 response with retry guidance.
type RateLimitedBody struct {
	Error      string             `json:"error"`
	RetryAfter int                `json:"retry_after"` // Seconds until the next request may succeed.
	Remaining  RateLimitRemaining `json:"remaining"`
}

// RateLimitRemaining reports the per-window budgets left for the client.
type RateLimitRemaining struct {
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
}

// securityHeaders adds hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}

// requestSizeLimit rejects bodies over the configured cap. Requests that
// declare an oversized Content-Length fail fast with 413; the rest get a
// capped reader so chunked uploads cannot exceed the limit either.
func (g *Gateway) requestSizeLimit(next http.Handler) http.Handler {
	maxSize := g.config.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxSize {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{Error: "request body too large"})
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit enforces per-client request budgets before routing. API
// requests are budgeted per authenticated user; requests with no valid
// key fall back to a per-address budget so unauthenticated traffic
// cannot starve real users. Probe and metrics endpoints are exempt.
//
// Remaining budgets are reported on every response via the
// X-RateLimit-Remaining-Minute and X-RateLimit-Remaining-Hour headers.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.limiter == nil || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		clientID := lookupUser(g.config.APIKeys, bearerToken(r.Header.Get("Authorization")))
		if clientID == "" {
			if len(g.config.APIKeys) == 0 {
				clientID = anonymousUser
			} else {
				clientID = clientAddr(r)
			}
		}

		d := g.limiter.Allow(clientID)
		setRateLimitHeaders(w.Header(), d)

		result := "allowed"
		if !d.Allowed {
			result = "limited"
		}
		if g.config.Metrics != nil {
			g.config.Metrics.RateLimitDecisionsTotal.WithLabelValues(result).Inc()
		}

		if !d.Allowed {
			retry := int(d.RetryAfter / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, RateLimitedBody{
				Error:      "rate limit exceeded",
				RetryAfter: retry,
				Remaining: RateLimitRemaining{
					Minute: d.RemainingMinute,
					Hour:   d.RemainingHour,
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setRateLimitHeaders reports remaining budgets. A window with no
// configured ceiling (-1) gets no header.
func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.RemainingMinute >= 0 {
		h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(d.RemainingMinute))
	}
	if d.RemainingHour >= 0 {
		h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(d.RemainingHour))
	}
}

// clientAddr returns the client host without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
