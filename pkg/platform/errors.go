package platform

import (
	"fmt"
	"net/http"
)

// TransportError is returned when a platform call fails on the network or
// answers with a non-2xx status. StatusCode is zero for network failures.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d %s: %v", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a 2xx response lacks a field the
// caller depends on.
type MalformedResponseError struct {
	Op      string
	Missing string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: missing %s", e.Op, e.Missing)
}
