// Package http is the instrumented HTTP client used by virtual users.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/wesleyorama2/vuload/internal/rate"
)

// Defaults tuned for many concurrent virtual users against few hosts.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConns        = 1000
	DefaultMaxIdleConnsPerHost = 100
	DefaultIdleConnTimeout     = 90 * time.Second
)

// RequestError is returned when a request fails before a response is
// received: DNS, connect, TLS, timeout or cancellation.
type RequestError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *RequestError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timeout: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client issues requests and records per-phase timings.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	limiter    *rate.Limiter
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a client with a transport sized for load generation.
func NewClient(options ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	client := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		headers: make(map[string]string),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithBaseURL sets the base URL for relative request URLs.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok && skip {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
		}
	}
}

// WithMaxConnsPerHost overrides the idle connection pool size per host.
func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *Client) {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok && n > 0 {
			t.MaxIdleConnsPerHost = n
		}
	}
}

// WithRateLimiter makes every request wait on lim before being sent.
func WithRateLimiter(lim *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = lim
	}
}

// WithHTTPClient replaces the underlying client, mostly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Get is shorthand for a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, url))
}

// Post is shorthand for a POST request with a body.
func (c *Client) Post(ctx context.Context, url string, body interface{}) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPost, url).WithBody(body))
}

// Put is shorthand for a PUT request with a body.
func (c *Client) Put(ctx context.Context, url string, body interface{}) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPut, url).WithBody(body))
}

// Patch is shorthand for a PATCH request with a body.
func (c *Client) Patch(ctx context.Context, url string, body interface{}) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPatch, url).WithBody(body))
}

// Delete is shorthand for a DELETE request.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodDelete, url))
}

// Head is shorthand for a HEAD request.
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodHead, url))
}

// Do executes a request and reads the whole body.
//
// Any HTTP status is a successful Do; callers decide what counts as failure.
// Transport failures are returned as *RequestError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := req.Build(c.baseURL)
	if err != nil {
		return nil, &RequestError{Method: req.Method, URL: req.URL, Err: err}
	}

	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.requestError(httpReq, err)
	}

	timing := TimingInfo{StartTime: time.Now()}

	var dnsStart, connectStart, tlsStart time.Time
	lastPhaseEnd := timing.StartTime

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			lastPhaseEnd = time.Now()
			timing.DNSLookupTime = lastPhaseEnd.Sub(dnsStart)
		},
		ConnectStart: func(string, string) {
			connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil && !connectStart.IsZero() {
				lastPhaseEnd = time.Now()
				timing.TCPConnectTime = lastPhaseEnd.Sub(connectStart)
			}
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil && !tlsStart.IsZero() {
				lastPhaseEnd = time.Now()
				timing.TLSHandshakeTime = lastPhaseEnd.Sub(tlsStart)
			}
		},
		GotFirstResponseByte: func() {
			timing.TimeToFirstByte = time.Since(lastPhaseEnd)
		},
	}

	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, trace))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.requestError(httpReq, err)
	}
	defer httpResp.Body.Close()

	transferStart := time.Now()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.requestError(httpReq, err)
	}
	timing.ContentTransferTime = time.Since(transferStart)
	timing.TotalTime = time.Since(timing.StartTime)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Timing:     timing,
	}, nil
}

func (c *Client) requestError(req *http.Request, err error) *RequestError {
	re := &RequestError{Method: req.Method, URL: req.URL.String(), Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		re.Timeout = true
	}
	return re
}
