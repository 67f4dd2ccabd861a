// Package fetcher downloads catalog files from where an operator put them: an
// http(s) URL, an s3://bucket/key object or a local path.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/net/html"
)

var (
	// ErrHTMLResponse means the server answered with a web page instead of a
	// file, usually a login page for an expired or missing token
	ErrHTMLResponse = errors.New("html response")

	// ErrTooLarge means the download exceeded the configured size limit
	ErrTooLarge = errors.New("download too large")

	// ErrNoObjectStore means an s3:// source was given but no object store
	// is configured
	ErrNoObjectStore = errors.New("no object store configured")
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 5 * 1024 * 1024
	userAgent       = "dramabot/1.0 (catalog-sync)"
)

// Options configures a Client
type Options struct {
	// Token is sent as a bearer token when set
	Token    string
	Timeout  time.Duration
	MaxBytes int64
	// HTTPClient overrides the default client; its Timeout is left untouched
	HTTPClient *http.Client
}

// Client downloads catalog files over http(s)
type Client struct {
	http     *http.Client
	token    string
	maxBytes int64
}

// NewClient creates a Client. Zero options fall back to a 30s timeout and
// a 5MB limit.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{http: hc, token: opts.Token, maxBytes: opts.MaxBytes}
}

// Fetch downloads rawURL and returns the body
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	// One byte over the limit tells a full read from a truncated one
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}

	if isHTML(resp.Header.Get("Content-Type"), body) {
		if title := pageTitle(body); title != "" {
			return nil, fmt.Errorf("%w: %q", ErrHTMLResponse, title)
		}
		return nil, ErrHTMLResponse
	}

	return body, nil
}

// IsURL checks if a string looks like a URL
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.")
}

// IsObject checks if a string is an s3://bucket/key reference
func IsObject(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "s3://")
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// pageTitle returns the text of the first <title> element
func pageTitle(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			return strings.Join(strings.Fields(sb.String()), " ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != "" {
				return t
			}
		}
		return ""
	}

	return find(doc)
}

// Source returns the content behind a reference
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Router dispatches a reference to the source that can serve it. s3://
// references go to Objects, URLs to HTTP and anything else is read from FS.
type Router struct {
	HTTP    Source
	Objects Source
	FS      afero.Fs
}

// Fetch implements Source
func (r *Router) Fetch(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("empty source")
	case IsObject(ref):
		if r.Objects == nil {
			return nil, fmt.Errorf("%s: %w", ref, ErrNoObjectStore)
		}
		return r.Objects.Fetch(ctx, ref)
	case IsURL(ref):
		if r.HTTP == nil {
			return nil, fmt.Errorf("%s: no http client", ref)
		}
		return r.HTTP.Fetch(ctx, ref)
	}

	fs := r.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, ref)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}
