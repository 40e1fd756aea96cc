package github

import (
	"net/http"
)

// HTTPClient interface abstracts HTTP operations for testing
type HTTPClient interface {
	// Do executes an HTTP request and returns a response
	Do(req *http.Request) (*http.Response, error)
}

// RealHTTPClient is the production implementation that uses the standard http.Client
type RealHTTPClient struct {
	client *http.Client
}

// NewRealHTTPClient creates a new real HTTP client. Deadlines come from the
// request context, so the client itself has no timeout.
func NewRealHTTPClient() *RealHTTPClient {
	return &RealHTTPClient{
		client: &http.Client{
			// Never follow redirects off the API host with the bearer token attached
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 0 && req.URL.Host != via[0].URL.Host {
					return http.ErrUseLastResponse
				}
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Do executes an HTTP request and returns a response
func (r *RealHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return r.client.Do(req)
}
