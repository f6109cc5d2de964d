package pipeline

import (
	"errors"
	"fmt"
)

// ErrDecodingFailed marks a decoder failure; the underlying decoder error
// is attached to it.
var ErrDecodingFailed = errors.New("image decoding failed")

// TransferError wraps a transport failure, after any automatic resumed
// retry has also failed.
type TransferError struct {
	Cause error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Cause)
}

func (e *TransferError) Unwrap() error { return e.Cause }

// ProcessingError wraps a processor failure and names the step that failed.
type ProcessingError struct {
	Step  string
	Cause error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing step %q failed: %v", e.Step, e.Cause)
}

func (e *ProcessingError) Unwrap() error { return e.Cause }
