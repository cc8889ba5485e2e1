package emit

import "time"

// Event is one observation of a run's progress.
type Event struct {
	// RunID identifies the negotiation run.
	RunID string

	// Stage is the pipeline stage the event concerns, if any.
	Stage string

	// Status is the run's human-facing status when the event was emitted.
	Status string

	// Msg is a short, stable description such as "stage completed".
	Msg string

	// Time is when the event occurred.
	Time time.Time

	// Meta carries event-specific fields (latency_ms, attempt, error, ...).
	Meta map[string]interface{}
}

// Common event messages.
const (
	MsgRunStarted      = "run started"
	MsgStageStarted    = "stage started"
	MsgStageCompleted  = "stage completed"
	MsgStageFailed     = "stage failed"
	MsgGateReached     = "gate reached"
	MsgRunClaimed      = "run claimed"
	MsgClaimConflict   = "claim conflict"
	MsgDispatchAttempt = "dispatch attempt"
	MsgDispatchFailed  = "dispatch failed"
	MsgRunCompleted    = "run completed"
	MsgRunExpired      = "run expired"
	MsgRecorderFailed  = "recorder failed"
)
