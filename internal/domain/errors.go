package domain

import "errors"

// Error taxonomy shared by the engine packages.
//
// Callers wrap these with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrParse marks an unrecognized recurrence token or an unparseable command.
	ErrParse = errors.New("parse error")
	// ErrToken marks an upstream credential refresh failure.
	ErrToken = errors.New("token refresh failed")
	// ErrProvider marks a rejected or failed payment-provider action.
	ErrProvider = errors.New("payment provider error")
	// ErrIdentity marks a missing owner profile (e.g. timezone) during recompute.
	ErrIdentity = errors.New("owner identity unavailable")
	// ErrOutOfRange marks a 1-based list index outside the list.
	ErrOutOfRange = errors.New("index out of range")
)
