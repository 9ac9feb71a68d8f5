package reasoner

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a failed reasoning attempt. Every kind is recoverable at
// the request boundary; none consumes additional quota on retry, since the
// increment happened before the call was issued.
type Kind string

const (
	// KindUpstream covers the service answering with an error.
	KindUpstream Kind = "upstream"
	// KindNetwork covers timeouts and transport failures before an answer.
	KindNetwork Kind = "network"
	// KindEmpty covers a well-formed reply carrying no usable content.
	KindEmpty Kind = "empty_response"
	// KindParse covers replies whose content cannot be interpreted.
	KindParse Kind = "parse"
)

// Error is a classified reasoning-service failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reasoner: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err under the given kind.
func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain. Returns "" when the
// error is not a reasoner failure.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// isNetworkErr reports whether err looks like a transport-level failure
// rather than an upstream-service one: net timeouts, connection resets,
// DNS failures.
func isNetworkErr(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"context deadline exceeded",
	}
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// classifyCallError splits a failed API call into network vs upstream.
func classifyCallError(err error) *Error {
	if isNetworkErr(err) {
		return newError(KindNetwork, err)
	}
	return newError(KindUpstream, err)
}
