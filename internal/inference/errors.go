package inference

import "fmt"

// Kind classifies why a classification failed.
type Kind int

const (
	// Network covers transport failures and non-2xx responses.
	Network Kind = iota
	// Timeout means the request did not finish in time.
	Timeout
	// Decode means the response body was not a usable result.
	Decode
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case Decode:
		return "decode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every failed Classify call.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
