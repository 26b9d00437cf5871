package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuth means the exchange rejected our credentials. Never retried.
var ErrAuth = errors.New("exchange: authentication failed")

// ConnError wraps transport-level failures (DNS, timeouts, 5xx). These are
// retryable with backoff up to the configured attempt budget.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string { return fmt.Sprintf("exchange: connection error: %v", e.Err) }
func (e *ConnError) Unwrap() error { return e.Err }

// APIError is a business-rule rejection returned by the exchange with a code
// and message. Most are retryable (rate limits, temporary locks); a few
// describe state that immediate retries cannot change.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: api error %s: %s", e.Code, e.Msg)
}

// Retryable reports whether retrying the same request could succeed.
// Insufficient balance and a destination address missing from the withdrawal
// whitelist will not resolve between attempts.
func (e *APIError) Retryable() bool {
	msg := strings.ToLower(e.Msg)
	if strings.Contains(msg, "insufficient balance") {
		return false
	}
	if strings.Contains(msg, "whitelist") {
		return false
	}
	return true
}

// IsConn reports whether err is (or wraps) a transport failure.
func IsConn(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// AsAPIError unwraps a business-rule rejection if present.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
