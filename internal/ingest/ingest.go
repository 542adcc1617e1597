// Package ingest turns the input references of a generation request into
// plain text for the analysis stage.
//
// Each reference is dispatched by kind — web URL, YouTube link, or PDF — to
// an adapter that extracts readable text and collects non-fatal warnings.
// An empty extraction is not an error here: the ingestor records a warning
// on the source and leaves the all-sources-empty decision to the pipeline.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/castforge/internal/podcast"
)

// Fetch limits shared by all adapters.
const (
	maxFetchBytes = 10 * 1024 * 1024
	fetchTimeout  = 30 * time.Second
	maxRedirects  = 5

	userAgent = "Mozilla/5.0 (compatible; Castforge/1.0)"
)

// Kind classifies one input reference.
type Kind string

const (
	KindURL     Kind = "url"
	KindYouTube Kind = "youtube"
	KindPDF     Kind = "pdf"
)

// KindOf classifies ref: YouTube watch links go to the transcript adapter,
// anything ending in .pdf (local path or URL) goes to the PDF adapter, and
// every other http(s) URL is treated as a web page. Local non-PDF paths are
// unsupported and classified as URLs so the fetch error names them.
func KindOf(ref string) Kind {
	trimmed := strings.TrimSpace(ref)
	lower := strings.ToLower(trimmed)

	if u, err := url.Parse(trimmed); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be" {
			return KindYouTube
		}
		if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
			return KindPDF
		}
		return KindURL
	}
	if strings.HasSuffix(lower, ".pdf") {
		return KindPDF
	}
	return KindURL
}

// Ingestor extracts text from input references. Safe for concurrent use.
type Ingestor struct {
	client *http.Client
}

// Option configures an [Ingestor].
type Option func(*Ingestor)

// WithHTTPClient overrides the HTTP client used by all adapters. Mainly for
// tests; the default client enforces the fetch timeout and redirect cap.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Ingestor) {
		i.client = c
	}
}

// New creates an [Ingestor] with the default fetch limits.
func New(opts ...Option) *Ingestor {
	i := &Ingestor{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest extracts text from every reference in order. One result is returned
// per reference; extraction failures become empty sources carrying the error
// as a warning. Only context cancellation aborts the run.
func (i *Ingestor) Ingest(ctx context.Context, refs []string) ([]podcast.ExtractedSource, error) {
	out := make([]podcast.ExtractedSource, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, i.ingestOne(ctx, ref))
	}
	return out, nil
}

// ingestOne dispatches a single reference to its adapter.
func (i *Ingestor) ingestOne(ctx context.Context, ref string) podcast.ExtractedSource {
	src := podcast.ExtractedSource{OriginRef: ref}

	var (
		text     string
		warnings []string
		err      error
	)
	switch KindOf(ref) {
	case KindYouTube:
		text, warnings, err = i.extractYouTube(ctx, ref)
	case KindPDF:
		text, warnings, err = i.extractPDF(ctx, ref)
	default:
		text, warnings, err = i.extractURL(ctx, ref)
	}

	src.Warnings = warnings
	if err != nil {
		src.Warnings = append(src.Warnings, fmt.Sprintf("extraction failed for %s: %v", ref, err))
		return src
	}

	src.ContentText = strings.TrimSpace(text)
	src.ByteCount = len(src.ContentText)
	if src.Empty() {
		src.Warnings = append(src.Warnings, fmt.Sprintf("no usable text extracted from %s", ref))
	}
	return src
}

// fetch retrieves a URL with the shared limits and returns the body bytes
// and the final URL after redirects.
func (i *Ingestor) fetch(ctx context.Context, rawURL, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("ingest: build request for %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("ingest: fetch %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("ingest: fetch %q: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("ingest: read %q: %w", rawURL, err)
	}
	if len(body) > maxFetchBytes {
		return nil, "", fmt.Errorf("ingest: fetch %q: response exceeds %d bytes", rawURL, maxFetchBytes)
	}
	return body, resp.Request.URL.String(), nil
}
