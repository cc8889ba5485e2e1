package workflow

import (
	"time"

	"github.com/negotiatorai/negotiator/negotiation"
)

// Cursor names the next stage a run will execute.
type Cursor string

// Cursors in pipeline order. Failed and Expired are terminal edge outcomes
// reachable from the forward stages and the gate respectively.
const (
	CursorAnalyze    Cursor = "analyze"
	CursorStrategize Cursor = "strategize"
	CursorDraft      Cursor = "draft"
	CursorReview     Cursor = "review"
	CursorDispatch   Cursor = "dispatch"
	CursorComplete   Cursor = "complete"
	CursorFailed     Cursor = "failed"
	CursorExpired    Cursor = "expired"
)

var cursorRank = map[Cursor]int{
	CursorAnalyze:    0,
	CursorStrategize: 1,
	CursorDraft:      2,
	CursorReview:     3,
	CursorDispatch:   4,
	CursorComplete:   5,
	CursorFailed:     5,
	CursorExpired:    5,
}

// Rank orders cursors; it never decreases over a run's lifetime. Unknown
// cursors rank -1.
func (c Cursor) Rank() int {
	if r, ok := cursorRank[c]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further stage will run.
func (c Cursor) Terminal() bool {
	return c == CursorComplete || c == CursorFailed || c == CursorExpired
}

// forward reports whether c is a stage driven by Start.
func (c Cursor) forward() bool {
	return c == CursorAnalyze || c == CursorStrategize || c == CursorDraft
}

// Status is the human-facing projection of a run's cursor.
type Status string

// Statuses.
const (
	StatusPendingAnalysis Status = "PENDING_ANALYSIS"
	StatusAnalyzing       Status = "ANALYZING"
	StatusStrategizing    Status = "STRATEGIZING"
	StatusDrafting        Status = "DRAFTING"
	StatusAwaitingReview  Status = "AWAITING_REVIEW"
	StatusApproved        Status = "APPROVED"
	StatusSent            Status = "SENT"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"
	StatusExpired         Status = "EXPIRED"
)

// runningStatus is reported while the stage at c executes.
func runningStatus(c Cursor) Status {
	switch c {
	case CursorAnalyze:
		return StatusAnalyzing
	case CursorStrategize:
		return StatusStrategizing
	default:
		return StatusDrafting
	}
}

// Approval records the human sign-off at the gate.
type Approval struct {
	ApprovedAt    time.Time `json:"approved_at"`
	Edited        bool      `json:"edited"`
	OriginalDraft string    `json:"original_draft,omitempty"`
}

// Failure describes why a run ended in the failed or expired cursor.
type Failure struct {
	Stage   Cursor `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one negotiation: the checkpoint payload persisted after every stage.
type Run struct {
	RunID  string `json:"run_id"`
	Cursor Cursor `json:"cursor"`

	Offer negotiation.Offer `json:"offer"`

	Facts        *negotiation.Facts         `json:"facts,omitempty"`
	Reference    *negotiation.ReferenceBand `json:"reference,omitempty"`
	Decision     *negotiation.Decision      `json:"decision,omitempty"`
	DraftText    string                     `json:"draft_text,omitempty"`
	Approval     *Approval                  `json:"approval,omitempty"`
	Confirmation *negotiation.Confirmation  `json:"confirmation,omitempty"`
	Failure      *Failure                   `json:"failure,omitempty"`

	GateReachedAt time.Time `json:"gate_reached_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

// Status derives the run's status from its cursor and outputs.
func (r Run) Status() Status {
	switch r.Cursor {
	case CursorAnalyze:
		return StatusPendingAnalysis
	case CursorStrategize:
		return StatusStrategizing
	case CursorDraft:
		return StatusDrafting
	case CursorReview:
		return StatusAwaitingReview
	case CursorDispatch:
		return StatusApproved
	case CursorComplete:
		if r.Decision != nil && r.Decision.Action == negotiation.ActionReject {
			return StatusRejected
		}
		return StatusSent
	case CursorExpired:
		return StatusExpired
	default:
		return StatusFailed
	}
}

// Result is what Start, Resume and Get report to callers.
type Result struct {
	RunID     string `json:"run_id"`
	Status    Status `json:"status"`
	DraftText string `json:"draft_text,omitempty"`

	// FinalText is the approved reply, set once the gate is resolved.
	FinalText string `json:"final_text,omitempty"`

	Facts        *negotiation.Facts         `json:"facts,omitempty"`
	Reference    *negotiation.ReferenceBand `json:"reference,omitempty"`
	Decision     *negotiation.Decision      `json:"decision,omitempty"`
	Confirmation *negotiation.Confirmation  `json:"confirmation,omitempty"`
	Failure      *Failure                   `json:"failure,omitempty"`
}

// Result projects the run for callers.
func (r Run) Result() Result {
	res := Result{
		RunID:        r.RunID,
		Status:       r.Status(),
		DraftText:    r.DraftText,
		Facts:        r.Facts,
		Reference:    r.Reference,
		Decision:     r.Decision,
		Confirmation: r.Confirmation,
		Failure:      r.Failure,
	}
	if r.Approval != nil {
		res.FinalText = r.DraftText
		if r.Approval.Edited {
			res.DraftText = r.Approval.OriginalDraft
		}
	}
	return res
}
