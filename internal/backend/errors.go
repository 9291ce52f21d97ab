package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"time"
)

// Kind classifies why a call to the analytics backend failed.
type Kind int

const (
	// KindFailure covers timeouts, non-2xx answers, malformed bodies and
	// any transport error other than a refused connection.
	KindFailure Kind = iota
	// KindUnavailable means nothing is listening at the backend address,
	// or the circuit breaker for the path is open.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	default:
		return "failure"
	}
}

var (
		// Wording and case are part of the response contract.
	ErrStatus        = errors.New("Request failed with status code")
	ErrMalformedBody = errors.New("backend returned a body that is not valid JSON")
	ErrCircuitOpen   = errors.New("circuit breaker is open")
)

// Error is returned by Client.FetchJSON for every failed call.
type Error struct {
	Kind Kind
	// StatusCode is the backend status, zero when no response arrived.
	StatusCode int
	// Detail is the "detail" member of the backend error body, if any.
	Detail json.RawMessage
	Err    error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran out of time.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// timeoutError keeps the message clients have always seen for slow
// backends while still matching context.DeadlineExceeded.
type timeoutError struct {
	after time.Duration
}

func (e timeoutError) Error() string {
	return fmt.Sprintf("timeout of %dms exceeded", e.after.Milliseconds())
}

func (e timeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

func classifyTransport(err error, timeout time.Duration) *Error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{Kind: KindUnavailable, Err: innerError(err)}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindFailure, Err: timeoutError{after: timeout}}
	}

	return &Error{Kind: KindFailure, Err: innerError(err)}
}

// innerError strips the *url.Error wrapper so the request URL, which names
// internal hosts and user IDs, never reaches a response body.
func innerError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err
	}
	return err
}

func statusError(status int, body []byte) *Error {
	return &Error{
		Kind:       KindFailure,
		StatusCode: status,
		Detail:     extractDetail(body),
		Err:        fmt.Errorf("%w %d", ErrStatus, status),
	}
}

// extractDetail pulls "detail" out of a JSON object body. Falsy values
// (null, false, 0, "") count as absent.
func extractDetail(body []byte) json.RawMessage {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	detail := bytes.TrimSpace(envelope.Detail)
	switch string(detail) {
	case "", "null", "false", `""`:
		return nil
	}

	var n float64
	if err := json.Unmarshal(detail, &n); err == nil && n == 0 {
		return nil
	}

	return detail
}
