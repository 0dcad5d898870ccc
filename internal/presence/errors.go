package presence

import (
	"errors"
	"fmt"
)

// Error kinds returned by Service. Validation errors are terminal for the
// call; ErrStoreUnavailable may be retried by the caller.
var (
	ErrAlreadyCheckedIn    = errors.New("user already has an active check-in")
	ErrNoActivePresence    = errors.New("user has no active check-in")
	ErrUnknownUser         = errors.New("unknown user")
	ErrUnknownVenue        = errors.New("unknown venue")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrStoreUnavailable    = errors.New("presence store unavailable")

	// ErrLocationPermissionDenied is a LocationUnavailable raised because the
	// device refused to share its position.
	ErrLocationPermissionDenied = fmt.Errorf("%w: permission denied", ErrLocationUnavailable)
)

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
