package integrations

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Typed outcomes of remote calendar calls. The sync engine branches on these
// with errors.Is instead of inspecting HTTP status codes.
var (
	// ErrEventGone: the remote event no longer exists (deleted out of band).
	ErrEventGone = errors.New("remote event gone")

	// ErrCursorInvalid: the incremental sync token has expired; the caller
	// must clear its cursor and perform a full resync.
	ErrCursorInvalid = errors.New("sync cursor invalidated")

	// ErrRateLimited: the provider is throttling us. Retryable.
	ErrRateLimited = errors.New("remote rate limited")

	// ErrCredential: the refresh credential was rejected; the user must
	// re-authorize. Not retryable.
	ErrCredential = errors.New("google credential refresh failed")
)

// TransientError wraps a failure worth retrying on the next trigger:
// timeouts, connection resets, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient remote failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error should be retried rather than
// surfaced as a permanent failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrRateLimited)
}

// translateError maps a raw Google API error into the typed taxonomy.
// listWithCursor distinguishes a 410 on an incremental listing (expired sync
// token) from a 410 on an event operation (event gone).
func translateError(op string, err error, listWithCursor bool) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrCredential, retrieveErr)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 410 && listWithCursor:
			return fmt.Errorf("%s: %w", op, ErrCursorInvalid)
		case gerr.Code == 404 || gerr.Code == 410:
			return fmt.Errorf("%s: %w", op, ErrEventGone)
		case gerr.Code == 429 || (gerr.Code == 403 && hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded")):
			return fmt.Errorf("%s: %w", op, ErrRateLimited)
		case gerr.Code >= 500:
			return &TransientError{Err: fmt.Errorf("%s: %w", op, err)}
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: fmt.Errorf("%s: %w", op, err)}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, reason := range reasons {
			if item.Reason == reason {
				return true
			}
		}
	}
	return false
}
