package ws

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/ngao/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, keys map[string]string) *Server {
	t.Helper()
	// Auditing disabled: authorization never touches the logger.
	audit, err := security.NewAuditLogger(security.Policy{}, nil, discardLogger())
	if err != nil {
		t.Fatalf("creating audit logger: %v", err)
	}
	return NewServer(Config{APIKeys: keys}, audit, nil, discardLogger())
}

func TestAuthorize(t *testing.T) {
	keys := map[string]string{"key-1": "alice"}

	tests := []struct {
		name     string
		keys     map[string]string
		target   string
		header   string
		wantUser string
		wantOK   bool
	}{
		{
			name:     "no keys configured means anonymous access",
			keys:     nil,
			target:   "/v1/security/events/ws",
			wantUser: "anonymous",
			wantOK:   true,
		},
		{
			name:     "valid query token",
			keys:     keys,
			target:   "/v1/security/events/ws?token=key-1",
			wantUser: "alice",
			wantOK:   true,
		},
		{
			name:     "valid bearer header",
			keys:     keys,
			target:   "/v1/security/events/ws",
			header:   "Bearer key-1",
			wantUser: "alice",
			wantOK:   true,
		},
		{
			name:   "wrong token",
			keys:   keys,
			target: "/v1/security/events/ws?token=nope",
			wantOK: false,
		},
		{
			name:   "missing token",
			keys:   keys,
			target: "/v1/security/events/ws",
			wantOK: false,
		},
		{
			name:   "non-bearer scheme",
			keys:   keys,
			target: "/v1/security/events/ws",
			header: "Basic key-1",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t, tt.keys)
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			user, ok := s.authorize(r)
			if ok != tt.wantOK {
				t.Fatalf("authorize ok = %v, want %v", ok, tt.wantOK)
			}
			if user != tt.wantUser {
				t.Errorf("authorize user = %q, want %q", user, tt.wantUser)
			}
		})
	}
}

func TestHandler_RejectsUnauthorized(t *testing.T) {
	s := testServer(t, map[string]string{"key-1": "alice"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/security/events/ws", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
