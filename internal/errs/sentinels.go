// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across tracker/service/transport layers.
var (
	// ErrLocked indicates the user is temporarily barred from identification
	// because the failure threshold has been reached.
	ErrLocked = errors.New("user locked out")

	// ErrNotRecognized indicates the recognition provider did not match the
	// submitted image to the claimed user with sufficient confidence.
	ErrNotRecognized = errors.New("face not recognized")

	// ErrRecognitionUnavailable indicates the recognition provider could not
	// be reached or kept failing after retries.
	ErrRecognitionUnavailable = errors.New("recognition service unavailable")

	// ErrStoreUnavailable indicates the failure-record store rejected a write.
	ErrStoreUnavailable = errors.New("failure store unavailable")
)
