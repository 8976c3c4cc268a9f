// Package multimodal normalizes free-text chat input into typed parts.
// Data-URIs, URLs, and local file paths are pulled out of the text and
// classified as image or document references; whatever remains is kept
// as a text part. File references are emitted only when the security
// layer approves the read, and URL probing goes through the same
// network gate as every other outbound request.
package multimodal

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind classifies a normalized input part.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindURL      Kind = "url" // a link that is neither image nor document
)

// Source records where a part came from.
type Source string

const (
	SourceInline  Source = "inline"
	SourcePath    Source = "path"
	SourceURL     Source = "url"
	SourceDataURI Source = "data_uri"
)

// InputPart is one normalized fragment of chat input. Value holds the
// text content, the URL, the file path, or the base64 payload depending
// on the source.
type InputPart struct {
	Kind     Kind   `json:"kind"`
	Source   Source `json:"source"`
	Value    string `json:"value"`
	MIMEType string `json:"mime_type,omitempty"`
}

var (
	dataURIPattern = regexp.MustCompile(`data:([^;\s]+);base64,([A-Za-z0-9+/=]+)`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	pathPattern    = regexp.MustCompile(`(?i)[\w\-./]+\.(?:jpg|jpeg|png|gif|bmp|webp|pdf|txt|md|docx?)\b`)
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".docx": true, ".doc": true,
}

// fileChecker validates local file reads before a path part is emitted.
type fileChecker interface {
	Check(ctx context.Context, path, operation string) error
}

// networkChecker gates the HEAD probe used to classify extension-less URLs.
type networkChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Normalizer extracts and classifies media references from chat input.
type Normalizer struct {
	files   fileChecker
	network networkChecker
	client  *http.Client
	logger  *slog.Logger
}

// NewNormalizer creates a normalizer. The client is used for HEAD
// probes and should be the hardened outbound client; nil disables
// probing, leaving extension-less URLs classified as plain links.
func NewNormalizer(files fileChecker, network networkChecker, client *http.Client, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		files:   files,
		network: network,
		client:  client,
		logger:  logger,
	}
}

// Normalize splits chat input into typed parts. Extraction runs in
// order (data-URIs, then URLs, then file paths) and each match is cut
// from the working text so later passes cannot re-match inside earlier
// finds. The residual text is appended as a text part when non-empty.
// Normalization never fails; unusable references are dropped or demoted
// and logged at debug level.
func (n *Normalizer) Normalize(ctx context.Context, text string) []InputPart {
	var parts []InputPart
	working := text

	for _, m := range dataURIPattern.FindAllStringSubmatch(working, -1) {
		full, mime, payload := m[0], m[1], m[2]
		working = strings.Replace(working, full, " ", 1)
		if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
			n.logger.DebugContext(ctx, "dropping undecodable data-URI", slog.String("mime_type", mime))
			continue
		}
		kind := classifyMIME(mime)
		if kind == "" {
			n.logger.DebugContext(ctx, "dropping data-URI with unsupported mime type", slog.String("mime_type", mime))
			continue
		}
		parts = append(parts, InputPart{Kind: kind, Source: SourceDataURI, Value: payload, MIMEType: mime})
	}

	for _, raw := range urlPattern.FindAllString(working, -1) {
		working = strings.Replace(working, raw, " ", 1)
		parts = append(parts, n.classifyURL(ctx, raw))
	}

	// Path mentions are prose-ambiguous ("edit config.txt"), so unlike
	// data-URIs and URLs they are cut from the text only when a part is
	// actually emitted.
	for _, path := range pathPattern.FindAllString(working, -1) {
		part, ok := n.classifyPath(ctx, path)
		if !ok {
			continue
		}
		working = strings.Replace(working, path, " ", 1)
		parts = append(parts, part)
	}

	if residual := strings.TrimSpace(working); residual != "" {
		parts = append(parts, InputPart{Kind: KindText, Source: SourceInline, Value: residual})
	}
	return parts
}

// classifyURL decides image/document/link for a URL. URLs with a known
// extension are classified without touching the network; everything
// else gets one HEAD probe, but only if the network gate approves.
func (n *Normalizer) classifyURL(ctx context.Context, raw string) InputPart {
	part := InputPart{Kind: KindURL, Source: SourceURL, Value: raw}

	if u, err := url.Parse(raw); err == nil {
		ext := strings.ToLower(filepath.Ext(u.Path))
		if imageExtensions[ext] {
			part.Kind = KindImage
			part.MIMEType = mimeForExtension(ext)
			return part
		}
		if documentExtensions[ext] {
			part.Kind = KindDocument
			part.MIMEType = mimeForExtension(ext)
			return part
		}
	}

	if n.client == nil {
		return part
	}
	if err := n.network.Check(ctx, raw); err != nil {
		n.logger.DebugContext(ctx, "skipping URL probe, network access denied",
			slog.String("url", raw), slog.String("reason", err.Error()))
		return part
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return part
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.DebugContext(ctx, "URL probe failed", slog.String("url", raw), slog.String("error", err.Error()))
		return part
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if kind := classifyMIME(contentType); kind != "" {
		part.Kind = kind
		part.MIMEType = contentType
	}
	return part
}

// classifyPath emits a part for a local file reference. The file must
// exist and the security layer must approve the read; anything else
// produces no part.
func (n *Normalizer) classifyPath(ctx context.Context, path string) (InputPart, bool) {
	if !fileExists(path) {
		return InputPart{}, false
	}
	if err := n.files.Check(ctx, path, "multimodal_read"); err != nil {
		n.logger.DebugContext(ctx, "dropping file reference, access denied",
			slog.String("path", path), slog.String("reason", err.Error()))
		return InputPart{}, false
	}

	ext := strings.ToLower(filepath.Ext(path))
	kind := KindDocument
	if imageExtensions[ext] {
		kind = KindImage
	}
	return InputPart{Kind: kind, Source: SourcePath, Value: path, MIMEType: mimeForExtension(ext)}, true
}

// classifyMIME maps a MIME type to a part kind, or "" when the type is
// neither image nor document.
func classifyMIME(mime string) Kind {
	switch {
	case strings.Contains(mime, "image"):
		return KindImage
	case strings.Contains(mime, "pdf"), strings.Contains(mime, "document"):
		return KindDocument
	}
	return ""
}

// mimeForExtension returns a deterministic MIME type for the known
// extension sets. The stdlib mime table consults /etc/mime.types and
// varies across hosts, so the mapping is explicit.
func mimeForExtension(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".doc", ".docx":
		return "application/msword"
	}
	return "application/octet-stream"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
