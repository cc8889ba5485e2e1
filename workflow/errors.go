package workflow

import (
	"errors"

	"github.com/negotiatorai/negotiator/negotiation"
)

// Sentinel errors. Every EngineError matches the sentinel for its code under
// errors.Is; any stage failure also matches ErrRunFailed.
var (
	// ErrValidation indicates malformed caller input. No run is created or
	// modified.
	ErrValidation = errors.New("invalid input")

	// ErrExtraction indicates the offer did not contain the required facts.
	ErrExtraction = negotiation.ErrExtraction

	// ErrNotFound indicates an unknown run ID.
	ErrNotFound = errors.New("run not found")

	// ErrDispatch indicates the approved reply could not be sent. The run
	// stays approved and a later resume retries the send.
	ErrDispatch = errors.New("dispatch failed")

	// ErrRunFailed indicates a stage failed and the run is terminal.
	ErrRunFailed = errors.New("run failed")

	// ErrGateExpired indicates the run waited at review longer than the gate
	// policy allows.
	ErrGateExpired = errors.New("review gate expired")

	// ErrOverrideRejected indicates the override validator refused the edited
	// reply. The run is unchanged and may be resumed again.
	ErrOverrideRejected = errors.New("override rejected")

	// ErrWriteOnce indicates a stage attempted to set an output it does not
	// own or that is already set.
	ErrWriteOnce = errors.New("write-once violation")

	// ErrStore indicates the checkpoint store failed.
	ErrStore = errors.New("checkpoint store failure")

	// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
)

// Error codes carried by EngineError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeExtraction       = "EXTRACTION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeDispatch         = "DISPATCH_ERROR"
	CodeStage            = "STAGE_ERROR"
	CodeGateExpired      = "GATE_EXPIRED"
	CodeOverrideRejected = "OVERRIDE_REJECTED"
	CodeWriteOnce        = "WRITE_ONCE_VIOLATION"
	CodeStore            = "STORE_ERROR"
)

var codeSentinels = map[string]error{
	CodeValidation:       ErrValidation,
	CodeExtraction:       ErrExtraction,
	CodeNotFound:         ErrNotFound,
	CodeDispatch:         ErrDispatch,
	CodeStage:            ErrRunFailed,
	CodeGateExpired:      ErrGateExpired,
	CodeOverrideRejected: ErrOverrideRejected,
	CodeWriteOnce:        ErrWriteOnce,
	CodeStore:            ErrStore,
}

// EngineError is the error type returned by Engine operations.
type EngineError struct {
	// Code is a stable machine-readable code such as "NOT_FOUND".
	Code string

	// Message is a human-readable description.
	Message string

	// RunID is the affected run, when known.
	RunID string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *EngineError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.RunID != "" {
		msg += " (run " + e.RunID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *EngineError) Unwrap() error { return e.Cause }

// Is matches the sentinel for e.Code.
func (e *EngineError) Is(target error) bool {
	if target == ErrRunFailed && (e.Code == CodeExtraction || e.Code == CodeWriteOnce) {
		return true
	}
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

func newError(code, runID, message string, cause error) *EngineError {
	return &EngineError{Code: code, Message: message, RunID: runID, Cause: cause}
}

// failureError rebuilds the error a failed or expired run reported when it
// first ended.
func failureError(run Run) error {
	if run.Failure == nil {
		return newError(CodeStage, run.RunID, "run failed", nil)
	}
	return newError(run.Failure.Code, run.RunID, run.Failure.Message, nil)
}

// StageError wraps an error returned by a stage.
type StageError struct {
	Stage Cursor
	Cause error
}

func (e *StageError) Error() string {
	return "stage " + string(e.Stage) + ": " + e.Cause.Error()
}

// Unwrap returns the cause.
func (e *StageError) Unwrap() error { return e.Cause }
