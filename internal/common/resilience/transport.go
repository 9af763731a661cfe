package resilience

import (
	"fmt"
	"net/http"
)

// Transport is an http.RoundTripper that sends requests through a circuit
// breaker. 5xx responses count as failures but are still returned to the caller.
type Transport struct {
	next http.RoundTripper
	cb   *CircuitBreaker
}

// NewTransport wraps next, or http.DefaultTransport when next is nil
func NewTransport(next http.RoundTripper, cb *CircuitBreaker) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, cb: cb}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := t.cb.Execute(func() error {
		var e error
		resp, e = t.next.RoundTrip(req)
		if e != nil {
			return e
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
		}
		return nil
	})
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return resp, nil
	}
	return resp, err
}
