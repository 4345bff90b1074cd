package storyview

import (
	"errors"
	"fmt"
)

// Sentinel errors for view tracking.
var (
	ErrViewNotFound      = errors.New("view record not found")
	ErrDuplicateView     = errors.New("view record already exists")
	ErrSessionCommitted  = errors.New("view session already committed")
	ErrSessionNotFound   = errors.New("view session not found")
	ErrPageNotFound      = errors.New("page not found")
	ErrEmptyStoryID      = errors.New("story id is required")
	ErrInvalidStoryID    = errors.New("invalid story id")
	ErrInvalidEvent      = errors.New("invalid playback event")
	ErrInvalidExitReason = errors.New("invalid exit reason")
	ErrInvalidMediaType  = errors.New("invalid media type")
	ErrInvalidDimension  = errors.New("invalid grouping dimension")
)

// ErrorKind classifies why tracking did not happen.
type ErrorKind string

// Tracking error kinds.
const (
	KindIdentity ErrorKind = "identity"
	KindGateway  ErrorKind = "gateway"
	KindInvalid  ErrorKind = "invalid"
)

// TrackingError reports that tracking was skipped because of a failure,
// as opposed to a policy decision. Playback is never affected by it.
type TrackingError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("storyview %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }

// ErrorType returns the kind as a metric label.
func (e *TrackingError) ErrorType() string { return string(e.Kind) }

func trackingErr(kind ErrorKind, op string, err error) *TrackingError {
	return &TrackingError{Kind: kind, Op: op, Err: err}
}

// IsTrackingError reports whether err carries a TrackingError of kind.
func IsTrackingError(err error, kind ErrorKind) bool {
	var te *TrackingError
	return errors.As(err, &te) && te.Kind == kind
}
