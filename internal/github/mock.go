package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPClient is a test implementation that records requests and returns mocked responses
type MockHTTPClient struct {
	mu sync.Mutex
	// Map of URL to mock response
	MockResponses map[string]MockResponse
	// Recorded requests
	RecordedRequests []RequestRecord
}

// MockResponse represents a mocked HTTP response. A non-nil Err is returned
// instead of a response to simulate transport failures.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Err        error
}

// RequestRecord records a request made to the mock client
type RequestRecord struct {
	Method  string
	URL     string
	Headers http.Header
}

// NewMockHTTPClient creates a new mock HTTP client
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		MockResponses:    make(map[string]MockResponse),
		RecordedRequests: make([]RequestRecord, 0),
	}
}

// Do records the request and returns a mocked response
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordedRequests = append(m.RecordedRequests, RequestRecord{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: req.Header.Clone(),
	})

	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	// Find a matching mock response
	if response, exists := m.MockResponses[req.URL.String()]; exists {
		if response.Err != nil {
			return nil, response.Err
		}

		statusCode := response.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		mockResp := &http.Response{
			StatusCode: statusCode,
			Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(response.Body)),
			Request:    req,
		}

		for key, value := range response.Headers {
			mockResp.Header.Set(key, value)
		}

		return mockResp, nil
	}

	// Default response - 404 Not Found
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     fmt.Sprintf("%d %s", http.StatusNotFound, http.StatusText(http.StatusNotFound)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"message":"Not Found"}`)),
		Request:    req,
	}, nil
}

// SetMockResponse sets a mock response for a specific URL
func (m *MockHTTPClient) SetMockResponse(url string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MockResponses[url] = response
}

// SetJSONMockResponse sets a mock JSON response for a specific URL
func (m *MockHTTPClient) SetJSONMockResponse(url string, statusCode int, body interface{}) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	m.SetMockResponse(url, MockResponse{
		StatusCode: statusCode,
		Body:       string(jsonBytes),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	})
	return nil
}

// SetErrorResponse makes requests to url fail at the transport level
func (m *MockHTTPClient) SetErrorResponse(url string, err error) {
	m.SetMockResponse(url, MockResponse{Err: err})
}

// GetRecordedRequests returns all recorded requests
func (m *MockHTTPClient) GetRecordedRequests() []RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestRecord, len(m.RecordedRequests))
	copy(out, m.RecordedRequests)
	return out
}

// AssertRequestMade checks if a request was made to a specific URL
func (m *MockHTTPClient) AssertRequestMade(method, url string) bool {
	return m.GetRequestCount(method, url) > 0
}

// GetRequestCount returns the number of requests made to a specific URL
func (m *MockHTTPClient) GetRequestCount(method, url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, record := range m.RecordedRequests {
		if record.Method == method && record.URL == url {
			count++
		}
	}
	return count
}

// RequestCount returns the number of requests made to any URL
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedRequests)
}
