/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an http.RoundTripper that throttles outgoing requests per remote host.
package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-hostthrottle/log"
)

// ErrThrottled is wrapped by ThrottledError.
var ErrThrottled = errors.New("request is throttled")

// AccessThrottler decides asynchronously whether access to a key is allowed.
// It is implemented by throttler.Throttler.
type AccessThrottler interface {
	TryAccess(key string, at time.Time, onResult func(granted bool))
}

// ThrottlingRoundTripperOpts represents an options for ThrottlingRoundTripper.
type ThrottlingRoundTripperOpts struct {
	// GetKey returns the throttling key for the request. The host name of the request URL is used by default.
	GetKey func(r *http.Request) string

	Logger log.FieldLogger

	// Now is time.Now by default.
	Now func() time.Time
}

// ThrottlingRoundTripper wraps implementing http.RoundTripper interface object
// and sends an outgoing request only if the throttler grants access to its key.
type ThrottlingRoundTripper struct {
	Delegate  http.RoundTripper
	Throttler AccessThrottler

	getKey func(r *http.Request) string
	logger log.FieldLogger
	now    func() time.Time
}

// NewThrottlingRoundTripper creates a new ThrottlingRoundTripper that throttles requests per host.
func NewThrottlingRoundTripper(delegate http.RoundTripper, throttler AccessThrottler) (*ThrottlingRoundTripper, error) {
	return NewThrottlingRoundTripperWithOpts(delegate, throttler, ThrottlingRoundTripperOpts{})
}

// NewThrottlingRoundTripperWithOpts creates a new ThrottlingRoundTripper with specified options.
func NewThrottlingRoundTripperWithOpts(
	delegate http.RoundTripper, throttler AccessThrottler, opts ThrottlingRoundTripperOpts,
) (*ThrottlingRoundTripper, error) {
	if throttler == nil {
		return nil, fmt.Errorf("throttler must be specified")
	}
	if delegate == nil {
		delegate = http.DefaultTransport
	}
	if opts.GetKey == nil {
		opts.GetKey = func(r *http.Request) string { return r.URL.Hostname() }
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ThrottlingRoundTripper{
		Delegate:  delegate,
		Throttler: throttler,
		getKey:    opts.GetKey,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
// ThrottledError is returned if access to the request key is denied.
func (rt *ThrottlingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	key := rt.getKey(r)

	result := make(chan bool, 1)
	rt.Throttler.TryAccess(key, rt.now(), func(granted bool) {
		result <- granted
	})

	select {
	case granted := <-result:
		if granted {
			return rt.Delegate.RoundTrip(r)
		}
		rt.logger.Warn("outgoing request is throttled",
			log.String("key", key), log.String("method", r.Method), log.String("url", r.URL.Redacted()))
		closeRequestBody(r)
		return nil, &ThrottledError{Key: key}
	case <-r.Context().Done():
		closeRequestBody(r)
		return nil, r.Context().Err()
	}
}

func closeRequestBody(r *http.Request) {
	if r.Body != nil {
		_ = r.Body.Close() // Per RoundTripper contract.
	}
}

// ThrottledError is returned in RoundTrip method of ThrottlingRoundTripper when access to the key is denied.
type ThrottledError struct {
	Key string
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("outgoing request to %q: %s", e.Key, ErrThrottled.Error())
}

// Unwrap returns ErrThrottled.
func (e *ThrottledError) Unwrap() error {
	return ErrThrottled
}
