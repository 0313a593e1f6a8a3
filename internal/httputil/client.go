package httputil

import (
	"net/http"
	"time"
)

const DefaultTimeout = 30 * time.Second

const UserAgent = "saddleweather/1.0 (+https://github.com/lox/saddleweather)"

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// NewClient returns an HTTP client with the given timeout (DefaultTimeout when zero)
// that identifies itself upstream.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, ua: UserAgent},
	}
}
