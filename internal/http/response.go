package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// TimingInfo breaks a request down into its connection phases.
type TimingInfo struct {
	StartTime           time.Time     `json:"startTime"`
	DNSLookupTime       time.Duration `json:"dnsLookup"`
	TCPConnectTime      time.Duration `json:"tcpConnect"`
	TLSHandshakeTime    time.Duration `json:"tlsHandshake"`
	TimeToFirstByte     time.Duration `json:"timeToFirstByte"`
	ContentTransferTime time.Duration `json:"contentTransfer"`
	TotalTime           time.Duration `json:"total"`
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timing     TimingInfo
}

// Duration returns the total request duration.
func (r *Response) Duration() time.Duration {
	return r.Timing.TotalTime
}

// DurationMillis returns the total request duration in milliseconds.
func (r *Response) DurationMillis() float64 {
	return float64(r.Timing.TotalTime) / float64(time.Millisecond)
}

// BodyString returns the response body as a string
func (r *Response) BodyString() string {
	return string(r.Body)
}

// JSON unmarshals the response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true for 4xx and 5xx responses.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}
