package multimodal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubFileChecker struct{ err error }

func (s stubFileChecker) Check(ctx context.Context, path, operation string) error { return s.err }

type stubNetworkChecker struct {
	err   error
	calls int
}

func (s *stubNetworkChecker) Check(ctx context.Context, rawURL string) error {
	s.calls++
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNormalizer(files fileChecker, network networkChecker, client *http.Client) *Normalizer {
	return NewNormalizer(files, network, client, discardLogger())
}

func partsOfKind(parts []InputPart, kind Kind) []InputPart {
	var out []InputPart
	for _, p := range parts {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func TestNormalizeTextOnly(t *testing.T) {
	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)

	parts := n.Normalize(context.Background(), "just a plain question")
	if len(parts) != 1 {
		t.Fatalf("Normalize() returned %d parts, want 1", len(parts))
	}
	if parts[0].Kind != KindText || parts[0].Source != SourceInline {
		t.Errorf("part = %+v, want inline text", parts[0])
	}
	if parts[0].Value != "just a plain question" {
		t.Errorf("Value = %q, want the original text", parts[0].Value)
	}
}

func TestNormalizeEmptyText(t *testing.T) {
	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)

	if parts := n.Normalize(context.Background(), "   "); len(parts) != 0 {
		t.Errorf("Normalize(whitespace) = %v, want no parts", parts)
	}
}

func TestNormalizeDataURI(t *testing.T) {
	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)

	parts := n.Normalize(context.Background(), "look at data:image/png;base64,aGVsbG8= please")
	images := partsOfKind(parts, KindImage)
	if len(images) != 1 {
		t.Fatalf("got %d image parts, want 1 (parts: %+v)", len(images), parts)
	}
	img := images[0]
	if img.Source != SourceDataURI || img.Value != "aGVsbG8=" || img.MIMEType != "image/png" {
		t.Errorf("image part = %+v, want data_uri source with payload and mime", img)
	}

	texts := partsOfKind(parts, KindText)
	if len(texts) != 1 {
		t.Fatalf("got %d text parts, want 1", len(texts))
	}
	if got := texts[0].Value; !strings.Contains(got, "look at") || !strings.Contains(got, "please") || strings.Contains(got, "base64") {
		t.Errorf("residual text = %q, want the payload cut out", got)
	}
}

func TestNormalizeDataURIDropsUnusable(t *testing.T) {
	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)

	// "abc" is not valid base64 (bad length), audio is not a supported kind.
	parts := n.Normalize(context.Background(), "data:image/png;base64,abc and data:audio/mpeg;base64,aGVsbG8=")
	if got := len(partsOfKind(parts, KindImage)); got != 0 {
		t.Errorf("got %d image parts, want 0 for unusable data-URIs", got)
	}
	if got := len(partsOfKind(parts, KindDocument)); got != 0 {
		t.Errorf("got %d document parts, want 0 for unusable data-URIs", got)
	}
}

func TestNormalizeURLByExtension(t *testing.T) {
	network := &stubNetworkChecker{}
	n := testNormalizer(stubFileChecker{}, network, nil)

	parts := n.Normalize(context.Background(), "see https://example.com/cat.png and https://example.com/paper.pdf?v=2")

	images := partsOfKind(parts, KindImage)
	if len(images) != 1 || images[0].Value != "https://example.com/cat.png" || images[0].MIMEType != "image/png" {
		t.Errorf("image parts = %+v, want one png URL", images)
	}
	docs := partsOfKind(parts, KindDocument)
	if len(docs) != 1 || docs[0].MIMEType != "application/pdf" {
		t.Errorf("document parts = %+v, want one pdf URL", docs)
	}
	// Extension classification must not touch the network gate.
	if network.calls != 0 {
		t.Errorf("network gate consulted %d times, want 0", network.calls)
	}
}

func TestNormalizeURLProbe(t *testing.T) {
	var heads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads++
		if r.Method != http.MethodHead {
			t.Errorf("probe used method %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "image/jpeg")
	}))
	defer srv.Close()

	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, srv.Client())
	parts := n.Normalize(context.Background(), "look at "+srv.URL+"/photo")

	images := partsOfKind(parts, KindImage)
	if len(images) != 1 {
		t.Fatalf("got %d image parts, want 1 (parts: %+v)", len(images), parts)
	}
	if images[0].Source != SourceURL || images[0].MIMEType != "image/jpeg" {
		t.Errorf("image part = %+v, want url source classified by probe", images[0])
	}
	if heads != 1 {
		t.Errorf("probe hit the server %d times, want 1", heads)
	}
}

func TestNormalizeURLProbeDenied(t *testing.T) {
	var heads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads++
	}))
	defer srv.Close()

	network := &stubNetworkChecker{err: errors.New("denied")}
	n := testNormalizer(stubFileChecker{}, network, srv.Client())
	parts := n.Normalize(context.Background(), "fetch "+srv.URL+"/thing")

	urls := partsOfKind(parts, KindURL)
	if len(urls) != 1 {
		t.Fatalf("got %d url parts, want 1 (parts: %+v)", len(urls), parts)
	}
	if urls[0].MIMEType != "" {
		t.Errorf("MIMEType = %q, want empty without a probe", urls[0].MIMEType)
	}
	if heads != 0 {
		t.Errorf("denied probe still hit the server %d times, want 0", heads)
	}
}

func TestNormalizeURLProbeNonMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}))
	defer srv.Close()

	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, srv.Client())
	parts := n.Normalize(context.Background(), srv.URL+"/page")

	urls := partsOfKind(parts, KindURL)
	if len(urls) != 1 {
		t.Fatalf("got %d url parts, want 1 (parts: %+v)", len(urls), parts)
	}
}

func TestNormalizePathApproved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}

	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)
	parts := n.Normalize(context.Background(), "summarize "+path+" for me")

	docs := partsOfKind(parts, KindDocument)
	if len(docs) != 1 {
		t.Fatalf("got %d document parts, want 1 (parts: %+v)", len(docs), parts)
	}
	if docs[0].Source != SourcePath || docs[0].Value != path || docs[0].MIMEType != "text/plain" {
		t.Errorf("document part = %+v, want approved path reference", docs[0])
	}
	texts := partsOfKind(parts, KindText)
	if len(texts) != 1 || strings.Contains(texts[0].Value, "notes.txt") {
		t.Errorf("residual text = %+v, want the path cut out", texts)
	}
}

func TestNormalizePathImageKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(path, []byte{0x89}, 0o600); err != nil {
		t.Fatal(err)
	}

	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)
	parts := n.Normalize(context.Background(), path)

	images := partsOfKind(parts, KindImage)
	if len(images) != 1 || images[0].MIMEType != "image/png" {
		t.Errorf("image parts = %+v, want one png path part", images)
	}
}

func TestNormalizePathDeniedProducesNoPart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	n := testNormalizer(stubFileChecker{err: errors.New("outside allowed directories")}, &stubNetworkChecker{}, nil)
	parts := n.Normalize(context.Background(), "read "+path+" now")

	if got := len(partsOfKind(parts, KindDocument)); got != 0 {
		t.Errorf("got %d document parts for a denied path, want 0", got)
	}
	// The mention survives in the residual text.
	texts := partsOfKind(parts, KindText)
	if len(texts) != 1 || !strings.Contains(texts[0].Value, "secret.txt") {
		t.Errorf("residual text = %+v, want the denied mention kept", texts)
	}
}

func TestNormalizeNonexistentPathStaysText(t *testing.T) {
	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)

	parts := n.Normalize(context.Background(), "how do I create config.txt from scratch?")
	if len(parts) != 1 || parts[0].Kind != KindText {
		t.Fatalf("parts = %+v, want a single text part", parts)
	}
	if !strings.Contains(parts[0].Value, "config.txt") {
		t.Errorf("residual text = %q, want the prose mention kept", parts[0].Value)
	}
}

func TestNormalizeMixedOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("a,b"), 0o600); err != nil {
		t.Fatal(err)
	}

	n := testNormalizer(stubFileChecker{}, &stubNetworkChecker{}, nil)
	input := "data:application/pdf;base64,aGVsbG8= plus https://example.com/pic.jpg plus " + path + " explained"
	parts := n.Normalize(context.Background(), input)

	if len(parts) != 4 {
		t.Fatalf("got %d parts, want 4 (parts: %+v)", len(parts), parts)
	}
	wantKinds := []Kind{KindDocument, KindImage, KindDocument, KindText}
	wantSources := []Source{SourceDataURI, SourceURL, SourcePath, SourceInline}
	for i := range parts {
		if parts[i].Kind != wantKinds[i] || parts[i].Source != wantSources[i] {
			t.Errorf("parts[%d] = (%s, %s), want (%s, %s)", i, parts[i].Kind, parts[i].Source, wantKinds[i], wantSources[i])
		}
	}
}
