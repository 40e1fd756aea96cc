package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arceon/internal/domain"
)

func newTestClient(t *testing.T, mock *MockHTTPClient) *Client {
	t.Helper()
	client, err := NewClientWithHTTPClient(DefaultBaseURL, 10*time.Second, mock)
	if err != nil {
		t.Fatalf("NewClientWithHTTPClient() error = %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "default when empty", baseURL: ""},
		{name: "trailing slash", baseURL: "https://ghe.example.com/api/v3/"},
		{name: "relative", baseURL: "api.github.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.baseURL, time.Second)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	client := newTestClient(t, NewMockHTTPClient())
	enterprise, err := NewClientWithHTTPClient("https://ghe.example.com/api/v3/", time.Second, NewMockHTTPClient())
	if err != nil {
		t.Fatalf("NewClientWithHTTPClient() error = %v", err)
	}

	tests := []struct {
		name    string
		client  *Client
		path    string
		want    string
		wantErr bool
	}{
		{name: "plain", client: client, path: "user", want: "https://api.github.com/user"},
		{name: "leading slash", client: client, path: "/user/repos", want: "https://api.github.com/user/repos"},
		{name: "nested", client: client, path: "repos/octocat/Hello-World", want: "https://api.github.com/repos/octocat/Hello-World"},
		{name: "query kept", client: client, path: "user/repos?per_page=5&sort=updated", want: "https://api.github.com/user/repos?per_page=5&sort=updated"},
		{name: "base path prefix", client: enterprise, path: "user", want: "https://ghe.example.com/api/v3/user"},
		{name: "dot segments kept", client: client, path: "repos/../user", want: "https://api.github.com/repos/../user"},
		{name: "inner slashes kept", client: client, path: "repos//octocat", want: "https://api.github.com/repos//octocat"},
		{name: "escaped slash kept", client: client, path: "repos/octo%2Fcat/git", want: "https://api.github.com/repos/octo%2Fcat/git"},
		{name: "base path with dot segments", client: enterprise, path: "./user", want: "https://ghe.example.com/api/v3/./user"},
		{name: "empty", client: client, path: "", wantErr: true},
		{name: "only slashes", client: client, path: "///", wantErr: true},
		{name: "absolute url", client: client, path: "https://evil.example.com/steal", wantErr: true},
		{name: "scheme relative stays on host", client: client, path: "//evil.example.com/steal", want: "https://api.github.com/evil.example.com/steal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.client.ResolveURL(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveURL(%q) = %v, want error", tt.path, got)
				}
				if !domain.IsValidationError(err) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveURL(%q) error = %v", tt.path, err)
			}
			if got.String() != tt.want {
				t.Errorf("ResolveURL(%q) = %s, want %s", tt.path, got.String(), tt.want)
			}
		})
	}
}

func TestGet_SetsHeadersAndReturnsBody(t *testing.T) {
	mock := NewMockHTTPClient()
	body := `{"id":1296269,"name":"Hello-World"}`
	mock.SetMockResponse("https://api.github.com/repos/octocat/Hello-World", MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	})
	client := newTestClient(t, mock)

	resp, err := client.Get(context.Background(), "gho_test", "repos/octocat/Hello-World")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if string(resp.Body) != body {
		t.Errorf("Body = %q, want %q", resp.Body, body)
	}
	if resp.ContentType != "application/json; charset=utf-8" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}

	if got := mock.GetRequestCount(http.MethodGet, "https://api.github.com/repos/octocat/Hello-World"); got != 1 {
		t.Fatalf("expected exactly one request, got %d", got)
	}
	headers := mock.GetRecordedRequests()[0].Headers
	if got := headers.Get("Authorization"); got != "Bearer gho_test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := headers.Get("Accept"); got != "application/vnd.github+json" {
		t.Errorf("Accept = %q", got)
	}
	if got := headers.Get("X-GitHub-Api-Version"); got != apiVersion {
		t.Errorf("X-GitHub-Api-Version = %q", got)
	}
	if headers.Get("User-Agent") == "" {
		t.Error("expected a User-Agent header")
	}
}

func TestGet_NonSuccessStatus(t *testing.T) {
	mock := NewMockHTTPClient()
	client := newTestClient(t, mock)

	// Unmocked URLs answer 404
	_, err := client.Get(context.Background(), "gho_test", "repos/nobody/nothing")
	if err == nil {
		t.Fatal("expected an error for 404")
	}

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected *UpstreamError, got %T", err)
	}
	if upstreamErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", upstreamErr.StatusCode)
	}
	if !strings.Contains(upstreamErr.Body, "Not Found") {
		t.Errorf("Body = %q", upstreamErr.Body)
	}
	if domain.UpstreamStatus(err) != http.StatusNotFound {
		t.Errorf("UpstreamStatus() = %d", domain.UpstreamStatus(err))
	}
}

func TestGet_TransportFailure(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.SetErrorResponse("https://api.github.com/user", errors.New("dial tcp: connection refused"))
	client := newTestClient(t, mock)

	_, err := client.Get(context.Background(), "gho_test", "user")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error should carry the failure detail, got %v", err)
	}
	if domain.UpstreamStatus(err) != 0 {
		t.Errorf("transport failures must report status 0, got %d", domain.UpstreamStatus(err))
	}
}

func TestGet_InvalidPathMakesNoRequest(t *testing.T) {
	mock := NewMockHTTPClient()
	client := newTestClient(t, mock)

	_, err := client.Get(context.Background(), "gho_test", "http://169.254.169.254/latest")
	if !domain.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if mock.RequestCount() != 0 {
		t.Errorf("expected no request, got %d", mock.RequestCount())
	}
}

func TestGet_CancelledContext(t *testing.T) {
	mock := NewMockHTTPClient()
	client := newTestClient(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, "gho_test", "user")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGet_Timeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(block)

	client, err := NewClient(server.URL, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Get(context.Background(), "gho_test", "user")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGet_RealServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/repos" || r.URL.Query().Get("per_page") != "2" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.Get(context.Background(), "gho_test", "/user/repos?per_page=2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != `[{"id":1},{"id":2}]` {
		t.Errorf("Body = %s", resp.Body)
	}
}
