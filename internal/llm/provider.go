// Package llm builds generation requests for an Ollama-style inference API
// and performs the HTTP exchange with it.
package llm

import (
	"errors"
	"fmt"
)

// HTTPError is returned when the inference API answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// TransportError wraps network, DNS or timeout failures, and bodies that
// could not be interpreted.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidURLError is returned when a link-summary command carries a URL that
// does not pass validation. No request is built.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	if e.URL == "" {
		return "missing URL"
	}
	return fmt.Sprintf("invalid URL %q", e.URL)
}

// ErrInvalidBody marks a 2xx response whose body is not the expected JSON.
var ErrInvalidBody = errors.New("invalid response body")
