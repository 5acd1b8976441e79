package httpclient

import (
	"net/http"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewHTTPClientWithAPIKey creates an HTTP client that attaches a bearer
// token to every request. An empty key yields a plain client.
func NewHTTPClientWithAPIKey(apiKey string, timeout time.Duration) *http.Client {
	if apiKey == "" {
		return NewDefaultHTTPClient(timeout)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &apiKeyTransport{
			apiKey: apiKey,
			next:   http.DefaultTransport,
		},
	}
}

// apiKeyTransport injects the Authorization header on each request
type apiKeyTransport struct {
	apiKey string
	next   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.next.RoundTrip(clone)
}
