package negotiation

import (
	"errors"
	"fmt"
)

// ErrExtraction is matched by every *ExtractionError.
var ErrExtraction = errors.New("extraction failed")

// ExtractionError reports that no usable offer could be read from the text.
type ExtractionError struct {
	Reason string
	Cause  error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Cause)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Is reports ErrExtraction as a match.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// DispatchError reports a failed send. Transient failures are retried by the
// engine; permanent ones are not.
type DispatchError struct {
	Channel   string
	Transient bool
	Cause     error
}

func (e *DispatchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s dispatch via %s failed: %v", kind, e.Channel, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a transient *DispatchError.
func IsTransient(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Transient
}
