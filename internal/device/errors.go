package device

import (
	"errors"
	"fmt"
)

// Kind classifies an acquisition failure.
type Kind int

const (
	// PermissionDenied means the user refused camera access.
	PermissionDenied Kind = iota
	// NotFound means no camera produced a stream.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned when a device cannot be acquired.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire camera: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("acquire camera: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrReleased is returned by Snapshot after Release.
	ErrReleased = errors.New("device released")
	// ErrFeedLost is returned by Snapshot while the browser stream is detached.
	ErrFeedLost = errors.New("camera feed lost")

	errAcquireTimeout = errors.New("no frames before timeout")
	errInvalidFrame   = errors.New("invalid frame")
)

// KindFromReason maps a browser-reported failure reason onto a Kind.
// Unknown reasons are treated as NotFound.
func KindFromReason(reason string) Kind {
	switch reason {
	case "permission_denied", "NotAllowedError", "SecurityError":
		return PermissionDenied
	default:
		return NotFound
	}
}
