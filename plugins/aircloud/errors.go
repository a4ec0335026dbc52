package aircloud

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectionFailed covers transport failures and server-side errors.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrAuthenticationFailed is returned when the cloud rejects credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnknownUnit          = errors.New("unknown interior unit")
	ErrNotConnected         = errors.New("client is not connected")
)

// APIError is a non-2xx response from the cloud API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("aircloud api status %d", e.Status)
	}
	return fmt.Sprintf("aircloud api status %d: %s", e.Status, body)
}

// Error is the single error type the vendor client returns. Match it with
// errors.As and the cause with errors.Is against the sentinels above.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "aircloud " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, Err: err}
}

func connectionFailed(op string, cause error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrConnectionFailed, cause)}
}

func authenticationFailed(op string, cause error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrAuthenticationFailed, cause)}
}

// statusError classifies a non-2xx response.
func statusError(op string, status int, body []byte) error {
	apiErr := &APIError{Status: status, Body: string(body)}
	switch {
	case status == 401 || status == 403:
		return authenticationFailed(op, apiErr)
	case status >= 500:
		return connectionFailed(op, apiErr)
	default:
		return &Error{Op: op, Err: apiErr}
	}
}
