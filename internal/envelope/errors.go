// internal/envelope/errors.go
package envelope

import (
	"errors"
	"fmt"
)

// ErrBadInput is matched by every structural error this package returns.
// Hosts translate it into a bad-request response.
var ErrBadInput = errors.New("bad envelope input")

// MalformedRequestError reports a raw request whose base object has no usable instances list.
type MalformedRequestError struct {
	Request int
	Reason  string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed request %d: %s", e.Request, e.Reason)
}

func (e *MalformedRequestError) Is(target error) bool { return target == ErrBadInput }

// DecodeError reports an inline-encoded instance whose payload is not UTF-8 JSON.
type DecodeError struct {
	Request  int
	Instance int
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("request %d instance %d: failed to decode inline payload: %v", e.Request, e.Instance, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrBadInput }

// LengthMismatchError reports a ledger that asks for more results than were produced.
type LengthMismatchError struct {
	Want   int
	Have   int
	Reason string
}

func (e *LengthMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("result length mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("result length mismatch: ledger expects %d results, got %d", e.Want, e.Have)
}

func (e *LengthMismatchError) Is(target error) bool { return target == ErrBadInput }

// Kind returns a short label for metrics and logs.
func Kind(err error) string {
	var (
		malformed *MalformedRequestError
		decode    *DecodeError
		mismatch  *LengthMismatchError
	)
	switch {
	case errors.As(err, &malformed):
		return "malformed_request"
	case errors.As(err, &decode):
		return "decode"
	case errors.As(err, &mismatch):
		return "length_mismatch"
	default:
		return "other"
	}
}
