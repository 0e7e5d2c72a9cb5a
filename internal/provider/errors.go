package provider

import (
	"fmt"
	"time"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

// RemoteError is a structured error returned by the release source itself.
// Its message is surfaced verbatim.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// RateLimitError reports that the release source refused the request because
// the caller's quota is exhausted. It wraps errdefs.ErrNetwork.
type RateLimitError struct {
	Reset   time.Time
	Message string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	if e.Reset.IsZero() {
		return msg
	}
	return fmt.Sprintf("%s (resets at %s)", msg, e.Reset.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error {
	return errdefs.ErrNetwork
}
