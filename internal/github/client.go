package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arceon/internal/domain"
)

const (
	// DefaultBaseURL is the public GitHub REST API
	DefaultBaseURL = "https://api.github.com"

	apiVersion   = "2022-11-28"
	userAgent    = "arceon-backend"
	maxBodyBytes = 10 << 20 // 10MB cap on buffered upstream bodies
	maxErrorBody = 512
)

// UpstreamError describes a failed upstream call. StatusCode is 0 when no
// response was received.
type UpstreamError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return e.Err.Error()
	}
	if e.Body != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HTTPStatus exposes the upstream status to domain.UpstreamStatus
func (e *UpstreamError) HTTPStatus() int {
	return e.StatusCode
}

// Client performs bearer-authenticated GET requests against the GitHub REST API
type Client struct {
	baseURL    *url.URL
	httpClient HTTPClient
	timeout    time.Duration
}

// NewClient creates a new GitHub API client
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	return NewClientWithHTTPClient(baseURL, timeout, NewRealHTTPClient())
}

// NewClientWithHTTPClient creates a client with a custom HTTP client (for testing)
func NewClientWithHTTPClient(baseURL string, timeout time.Duration, httpClient HTTPClient) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base URL must be absolute: %q", baseURL)
	}

	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		timeout:    timeout,
	}, nil
}

// ResolveURL maps an upstream-relative path (optionally with a query string)
// onto the base URL. Paths that are empty or name another host are rejected.
// The path is appended verbatim: dot segments, repeated slashes and escapes
// reach the upstream as the caller wrote them.
func (c *Client) ResolveURL(path string) (*url.URL, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return nil, domain.WrapInvalidPath(path, "path is empty")
	}

	rel, err := url.Parse(trimmed)
	if err != nil {
		return nil, domain.WrapInvalidPath(path, "path does not parse")
	}
	if rel.Scheme != "" || rel.Host != "" || rel.User != nil {
		return nil, domain.WrapInvalidPath(path, "path must be relative to the API")
	}

	escaped := strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + rel.EscapedPath()
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, domain.WrapInvalidPath(path, "path is not properly escaped")
	}

	target := *c.baseURL
	target.Path = unescaped
	target.RawPath = escaped
	target.RawQuery = rel.RawQuery
	return &target, nil
}

// Get issues one GET with the access token as bearer credential and returns
// the buffered response. Non-2xx answers are returned as *UpstreamError.
func (c *Client) Get(ctx context.Context, accessToken, path string) (*domain.UpstreamResponse, error) {
	target, err := c.ResolveURL(path)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &UpstreamError{URL: target.String(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &UpstreamError{URL: target.String(), Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if len(body) > maxBodyBytes {
		return nil, &UpstreamError{URL: target.String(), Err: fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			URL:        target.String(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
	}

	return &domain.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
