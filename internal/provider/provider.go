package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Response is what a channel reported back for one delivery.
type Response struct {
	// Summary is a short human-readable description (message ids, status codes).
	Summary string
}

// Deliverer abstracts delivery to one external channel.
// Mocking this interface in tests gives full control over channel behaviour
// without making real network calls.
type Deliverer interface {
	Deliver(ctx context.Context, content string, recipients []string) (Response, error)
}

// permanentError marks a failure that will not succeed on retry
// (bad recipient, rejected payload). Everything else is transient.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsPermanent reports true. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in err's chain was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// StatusError is returned when a channel answers with a non-2xx HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected channel status: %d %s", e.Code, http.StatusText(e.Code))
}

// ClassifyStatus maps an HTTP status code to nil (2xx), a transient error
// (408, 429, 5xx) or a permanent one (any other status).
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return &StatusError{Code: code}
	default:
		return Permanent(&StatusError{Code: code})
	}
}
