// Package urlutil provides URL manipulation utilities.
package urlutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/castarr/pkg/httpclient"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// ErrUnexpectedStatus is returned by ResourceFetcher for non-200 replies.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// NormalizeBaseURL adds an http:// scheme when none is present and strips
// a trailing slash.
//
//	"192.168.1.20:49152/"     -> "http://192.168.1.20:49152"
//	"https://tv.local/desc/"  -> "https://tv.local/desc"
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return strings.TrimSuffix(baseURL, "/")
}

// Resolve resolves ref against base following RFC 3986. An absolute ref is
// returned unchanged.
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}

	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}

	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parsing base %q: %w", base, err)
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("base URL %q is not absolute", base)
	}

	return b.ResolveReference(r).String(), nil
}

// Host returns the host part (without port) of u, or "" if u does not parse.
func Host(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// HostPort returns host:port of u, filling in the scheme's default port.
func HostPort(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	if parsed.Port() != "" {
		return parsed.Host
	}
	port := "80"
	if strings.EqualFold(parsed.Scheme, SchemeHTTPS) {
		port = "443"
	}
	return parsed.Hostname() + ":" + port
}

// IsRemoteURL reports whether u is an http(s) or protocol-relative URL.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the lower-cased scheme of u, or "" if u does not parse.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the file path from a file:// URL.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}

	return parsed.Path, nil
}

// ResourceFetcher fetches http(s):// and file:// resources.
// Bare paths are treated as local files.
type ResourceFetcher struct {
	httpClient *httpclient.Client
}

// NewResourceFetcher creates a ResourceFetcher backed by client.
func NewResourceFetcher(client *httpclient.Client) *ResourceFetcher {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &ResourceFetcher{httpClient: client}
}

// Fetch returns the body of u. The caller must close it.
func (f *ResourceFetcher) Fetch(ctx context.Context, u string) (io.ReadCloser, error) {
	switch scheme := GetScheme(u); scheme {
	case SchemeHTTP, SchemeHTTPS:
		return f.fetchHTTP(ctx, u)
	case SchemeFile:
		path, err := FilePathFromURL(u)
		if err != nil {
			return nil, err
		}
		return openFile(path)
	case "":
		return openFile(u)
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (URL: %s)", scheme, u)
	}
}

func (f *ResourceFetcher) fetchHTTP(ctx context.Context, u string) (io.ReadCloser, error) {
	resp, err := f.httpClient.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return resp.Body, nil
}

func openFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// ValidateURL checks that u is an absolute http(s) URL.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case SchemeHTTP, SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("URL %q has no host", u)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http:// or https://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https)", scheme)
	}
}
