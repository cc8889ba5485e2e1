// Package workflow drives negotiation runs through the analyze, strategize,
// draft, review and dispatch stages, checkpointing after every stage.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/negotiatorai/negotiator/negotiation"
	"github.com/negotiatorai/negotiator/workflow/emit"
	"github.com/negotiatorai/negotiator/workflow/store"
)

const (
	maxRunIDLength   = 255
	maxSubjectLength = 998
)

// Engine executes negotiation runs.
//
// The engine holds no per-run state in memory: every decision is made from
// the checkpoint loaded from the store, and every transition is a
// conditional Save. Several Engine values, in one process or many, may
// share a store.
type Engine struct {
	caps   Capabilities
	store  store.Store[Run]
	cfg    engineConfig
	stages map[Cursor]Stage
}

// StartInput is a new inbound offer.
type StartInput struct {
	// RunID is the caller's key for the run. Empty mints a ULID.
	RunID string

	Offer negotiation.Offer
}

// ResumeInput resolves the review gate.
type ResumeInput struct {
	// Override replaces the draft when non-nil. It must not be blank.
	Override *string
}

// New creates an Engine.
func New(caps Capabilities, st store.Store[Run], opts ...Option) (*Engine, error) {
	if err := caps.validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", ErrValidation)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	stages := map[Cursor]Stage{
		CursorAnalyze:    AnalyzeStage(caps.Extractor),
		CursorStrategize: StrategizeStage(caps.Reference, cfg.strategy),
		CursorDraft:      DraftStage(caps.Composer),
	}
	for name, s := range cfg.stages {
		stages[name] = s
	}

	return &Engine{caps: caps, store: st, cfg: cfg, stages: stages}, nil
}

// Start creates a run for an inbound offer and drives it to the review gate.
//
// A second Start with an existing RunID never re-executes stages: it waits
// until the run reaches the gate or a terminal cursor and reports that.
func (e *Engine) Start(ctx context.Context, in StartInput) (Result, error) {
	if err := validateOffer(in.Offer); err != nil {
		return Result{}, newError(CodeValidation, in.RunID, err.Error(), err)
	}

	runID := in.RunID
	if runID == "" {
		runID = e.cfg.newID()
	} else if err := validateRunID(runID); err != nil {
		return Result{}, newError(CodeValidation, "", err.Error(), err)
	}

	offer := in.Offer
	if offer.ReceivedAt.IsZero() {
		offer.ReceivedAt = e.cfg.now().UTC()
	}
	run := Run{RunID: runID, Cursor: CursorAnalyze, Offer: offer}

	cp, err := e.store.Save(ctx, store.Checkpoint[Run]{RunID: runID, Cursor: string(CursorAnalyze), State: run})
	if errors.Is(err, store.ErrConflict) {
		return e.awaitSettled(ctx, runID)
	}
	if err != nil {
		return Result{}, storeError(runID, err)
	}

	e.cfg.metrics.IncrementRunsStarted()
	e.event(run, "", emit.MsgRunStarted, nil)
	e.notify(ctx, run, "", StatusPendingAnalysis)

	return e.advance(ctx, cp)
}

// Resume resolves the review gate for runID and dispatches the reply.
//
// Resume is idempotent: a completed run reports its stored result, and
// concurrent calls for the same run dispatch at most once and return the
// same result.
func (e *Engine) Resume(ctx context.Context, runID string, in ResumeInput) (Result, error) {
	for {
		cp, err := e.load(ctx, runID)
		if err != nil {
			return Result{}, err
		}
		run := cp.State
		now := e.cfg.now()

		if in.Override != nil && strings.TrimSpace(*in.Override) == "" {
			return run.Result(), newError(CodeValidation, runID, "override must not be blank", nil)
		}

		switch run.Cursor {
		case CursorComplete:
			return run.Result(), nil

		case CursorFailed, CursorExpired:
			return run.Result(), failureError(run)

		case CursorReview:
			if e.cfg.gate.expired(run, now) {
				expired, err := e.expire(ctx, cp)
				if errors.Is(err, store.ErrConflict) {
					continue
				}
				if err != nil {
					return run.Result(), storeError(runID, err)
				}
				return expired.Result(), failureError(expired)
			}

			claimed, err := e.approve(ctx, cp, in.Override)
			if errors.Is(err, store.ErrConflict) {
				e.cfg.metrics.IncrementClaimConflicts()
				e.event(run, CursorReview, emit.MsgClaimConflict, nil)
				continue
			}
			if err != nil {
				return run.Result(), err
			}
			return e.dispatch(ctx, claimed)

		case CursorDispatch:
			if in.Override != nil && *in.Override != run.DraftText {
				return run.Result(), newError(CodeValidation, runID, "run already approved; override not applied", nil)
			}
			if cp.ClaimToken != "" && now.Sub(cp.ClaimedAt) < e.cfg.claimTTL {
				if err := e.wait(ctx, runID); err != nil {
					return run.Result(), err
				}
				continue
			}
			claimed, err := e.claim(ctx, cp)
			if errors.Is(err, store.ErrConflict) {
				e.cfg.metrics.IncrementClaimConflicts()
				e.event(run, CursorDispatch, emit.MsgClaimConflict, nil)
				continue
			}
			if err != nil {
				return run.Result(), err
			}
			return e.dispatch(ctx, claimed)

		default:
			if err := e.driveOrWait(ctx, cp); err != nil {
				return run.Result(), err
			}
		}
	}
}

// Get returns the current result for runID without changing it.
func (e *Engine) Get(ctx context.Context, runID string) (Result, error) {
	cp, err := e.load(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	return cp.State.Result(), nil
}

// StartNegotiation starts a run for a raw email body and its envelope.
func (e *Engine) StartNegotiation(ctx context.Context, raw, from, to, subject string) (Result, error) {
	return e.Start(ctx, StartInput{Offer: negotiation.Offer{Text: raw, From: from, To: to, Subject: subject}})
}

// ApproveNegotiation approves a run, optionally replacing the draft.
func (e *Engine) ApproveNegotiation(ctx context.Context, runID string, edited *string) (Result, error) {
	return e.Resume(ctx, runID, ResumeInput{Override: edited})
}

// ExpireStale moves runs that waited at the review gate longer than the
// gate TTL to the expired cursor. It returns the number of runs expired and
// is a no-op under GateHold.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	if e.cfg.gate.Mode != GateExpire {
		return 0, nil
	}
	now := e.cfg.now()
	cps, err := e.store.List(ctx, store.ListOptions{
		Cursor:        string(CursorReview),
		UpdatedBefore: now.Add(-e.cfg.gate.TTL),
	})
	if err != nil {
		return 0, storeError("", err)
	}

	expired := 0
	for _, cp := range cps {
		if !e.cfg.gate.expired(cp.State, now) {
			continue
		}
		_, err := e.expire(ctx, cp)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return expired, storeError(cp.RunID, err)
		}
		expired++
	}
	return expired, nil
}

// PurgeTerminal deletes checkpoints of completed, failed and expired runs
// last updated more than olderThan ago.
func (e *Engine) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, newError(CodeValidation, "", "retention must not be negative", nil)
	}
	cutoff := e.cfg.now().Add(-olderThan)

	purged := 0
	for _, cursor := range []Cursor{CursorComplete, CursorFailed, CursorExpired} {
		cps, err := e.store.List(ctx, store.ListOptions{Cursor: string(cursor), UpdatedBefore: cutoff})
		if err != nil {
			return purged, storeError("", err)
		}
		for _, cp := range cps {
			if err := e.store.Delete(ctx, cp.RunID); err != nil {
				return purged, storeError(cp.RunID, err)
			}
			purged++
		}
	}
	return purged, nil
}

// advance runs forward stages from cp's cursor until the gate or a failure.
func (e *Engine) advance(ctx context.Context, cp store.Checkpoint[Run]) (Result, error) {
	runID := cp.RunID
	prev := cp.State.Status()

	for cp.State.Cursor.forward() {
		run := cp.State
		cursor := run.Cursor
		stage := e.stages[cursor]

		status := runningStatus(cursor)
		e.notify(ctx, run, prev, status)
		prev = status
		e.event(run, cursor, emit.MsgStageStarted, nil)

		started := e.cfg.now()
		res := stage.Run(ctx, run)
		latency := e.cfg.now().Sub(started)

		if res.Err != nil {
			e.cfg.metrics.RecordStageLatency(cursor, latency, "error")
			if interrupted(ctx, res.Err) {
				// The checkpoint stays at cursor for a later caller to take over.
				return run.Result(), &StageError{Stage: cursor, Cause: res.Err}
			}
			return e.fail(ctx, cp, prev, failureCode(res.Err), &StageError{Stage: cursor, Cause: res.Err})
		}

		next, err := merge(run, cursor, res.Delta)
		if err != nil {
			e.cfg.metrics.RecordStageLatency(cursor, latency, "error")
			return e.fail(ctx, cp, prev, CodeWriteOnce, &StageError{Stage: cursor, Cause: err})
		}
		next.Cursor = nextCursor(cursor)
		if next.Cursor == CursorReview {
			next.GateReachedAt = e.cfg.now().UTC()
		}

		cp.State = next
		cp.Cursor = string(next.Cursor)
		saved, err := e.store.Save(ctx, cp)
		if errors.Is(err, store.ErrConflict) {
			// Another caller took the run over; report what it produces.
			return e.awaitSettled(ctx, runID)
		}
		if err != nil {
			return run.Result(), storeError(runID, err)
		}
		cp = saved

		e.cfg.metrics.RecordStageLatency(cursor, latency, "success")
		e.event(next, cursor, emit.MsgStageCompleted, map[string]interface{}{
			"latency_ms": latency.Milliseconds(),
		})
	}

	run := cp.State
	if run.Cursor == CursorReview {
		e.cfg.metrics.AddAwaitingReview(1)
		e.event(run, CursorReview, emit.MsgGateReached, map[string]interface{}{
			"action": string(decisionOf(run).Action),
		})
		e.notify(ctx, run, prev, StatusAwaitingReview)
	}
	return run.Result(), nil
}

// fail records a stage failure. The save ignores cancellation of ctx so a
// cancelled caller still leaves the run terminal.
func (e *Engine) fail(ctx context.Context, cp store.Checkpoint[Run], prev Status, code string, cause *StageError) (Result, error) {
	run := cp.State
	run.Cursor = CursorFailed
	run.Failure = &Failure{Stage: cause.Stage, Code: code, Message: cause.Cause.Error()}
	cp.State = run
	cp.Cursor = string(CursorFailed)

	_, err := e.store.Save(context.WithoutCancel(ctx), cp)
	if errors.Is(err, store.ErrConflict) {
		return e.awaitSettled(ctx, run.RunID)
	}
	if err != nil {
		return run.Result(), storeError(run.RunID, err)
	}

	e.cfg.metrics.IncrementRunsFinished("failed")
	e.event(run, cause.Stage, emit.MsgStageFailed, map[string]interface{}{
		"error": cause.Cause.Error(),
		"code":  code,
	})
	e.notify(ctx, run, prev, StatusFailed)

	return run.Result(), newError(code, run.RunID, "stage "+string(cause.Stage)+" failed", cause)
}

// awaitSettled waits until runID is at the gate or beyond.
func (e *Engine) awaitSettled(ctx context.Context, runID string) (Result, error) {
	for {
		cp, err := e.load(ctx, runID)
		if err != nil {
			return Result{}, err
		}
		run := cp.State
		switch {
		case run.Cursor == CursorFailed || run.Cursor == CursorExpired:
			return run.Result(), failureError(run)
		case !run.Cursor.forward():
			return run.Result(), nil
		}
		if err := e.driveOrWait(ctx, cp); err != nil {
			return run.Result(), err
		}
	}
}

// driveOrWait waits for the caller driving a run's forward stages, or takes
// the run over when its checkpoint is older than the claim TTL. Stage
// failures are left for the caller to observe on its next load.
func (e *Engine) driveOrWait(ctx context.Context, cp store.Checkpoint[Run]) error {
	if e.cfg.now().Sub(cp.UpdatedAt) < e.cfg.claimTTL {
		return e.wait(ctx, cp.RunID)
	}
	if _, err := e.advance(ctx, cp); err != nil && !errors.Is(err, ErrRunFailed) {
		return err
	}
	return nil
}

// approve claims the gate for the caller, applying the override.
func (e *Engine) approve(ctx context.Context, cp store.Checkpoint[Run], override *string) (store.Checkpoint[Run], error) {
	run := cp.State
	now := e.cfg.now().UTC()

	if override != nil && e.cfg.validator != nil {
		if err := e.cfg.validator(decisionOf(run), factsOf(run), referenceOf(run), *override); err != nil {
			return cp, newError(CodeOverrideRejected, run.RunID, "edited reply rejected", err)
		}
	}

	approval := &Approval{ApprovedAt: now}
	if override != nil && *override != run.DraftText {
		approval.Edited = true
		approval.OriginalDraft = run.DraftText
		run.DraftText = *override
	}
	run.Approval = approval
	run.Cursor = CursorDispatch

	cp.State = run
	cp.Cursor = string(CursorDispatch)
	cp.ClaimToken = uuid.NewString()
	cp.ClaimedAt = now

	saved, err := e.store.Save(ctx, cp)
	if errors.Is(err, store.ErrConflict) {
		return cp, err
	}
	if err != nil {
		return cp, storeError(run.RunID, err)
	}

	e.cfg.metrics.AddAwaitingReview(-1)
	e.event(run, CursorReview, emit.MsgRunClaimed, map[string]interface{}{
		"edited": approval.Edited,
	})
	e.notify(ctx, run, StatusAwaitingReview, StatusApproved)
	return saved, nil
}

// claim takes an approved run whose previous claim was released or abandoned.
func (e *Engine) claim(ctx context.Context, cp store.Checkpoint[Run]) (store.Checkpoint[Run], error) {
	takeover := cp.ClaimToken != ""
	cp.ClaimToken = uuid.NewString()
	cp.ClaimedAt = e.cfg.now().UTC()

	saved, err := e.store.Save(ctx, cp)
	if errors.Is(err, store.ErrConflict) {
		return cp, err
	}
	if err != nil {
		return cp, storeError(cp.RunID, err)
	}
	e.event(cp.State, CursorDispatch, emit.MsgRunClaimed, map[string]interface{}{
		"takeover": takeover,
	})
	return saved, nil
}

// dispatch sends the approved reply of a claimed run and completes it.
func (e *Engine) dispatch(ctx context.Context, cp store.Checkpoint[Run]) (Result, error) {
	run := cp.State
	key := dispatchKey(run.RunID, decisionOf(run), run.DraftText)
	stage := dispatchStage(e.caps.Dispatcher, key)
	policy := e.cfg.retry

	var res StageResult
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		e.event(run, CursorDispatch, emit.MsgDispatchAttempt, map[string]interface{}{
			"attempt":         attempt + 1,
			"idempotency_key": key,
		})

		started := e.cfg.now()
		res = stage.Run(ctx, run)
		latency := e.cfg.now().Sub(started)

		if res.Err == nil {
			e.cfg.metrics.RecordStageLatency(CursorDispatch, latency, "success")
			e.cfg.metrics.IncrementDispatchAttempts("success")
			break
		}
		e.cfg.metrics.RecordStageLatency(CursorDispatch, latency, "error")

		retry := policy.retryable(res.Err)
		if retry {
			e.cfg.metrics.IncrementDispatchAttempts("transient")
		} else {
			e.cfg.metrics.IncrementDispatchAttempts("permanent")
		}
		if !retry || attempt == policy.MaxAttempts-1 {
			break
		}
		if err := sleep(ctx, computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, nil)); err != nil {
			break
		}
	}
	if res.Err != nil {
		return e.release(ctx, cp, res.Err)
	}

	next, err := merge(run, CursorDispatch, res.Delta)
	if err != nil {
		return e.release(ctx, cp, err)
	}
	next.Cursor = CursorComplete
	next.CompletedAt = e.cfg.now().UTC()
	cp.State = next
	cp.Cursor = string(CursorComplete)

	_, err = e.store.Save(context.WithoutCancel(ctx), cp)
	if errors.Is(err, store.ErrConflict) {
		// The claim expired and another caller took over; it reports the
		// outcome under the same idempotency key.
		return e.Resume(ctx, run.RunID, ResumeInput{})
	}
	if err != nil {
		return run.Result(), storeError(run.RunID, err)
	}

	status := next.Status()
	e.cfg.metrics.IncrementRunsFinished(strings.ToLower(string(status)))
	e.event(next, CursorDispatch, emit.MsgRunCompleted, map[string]interface{}{
		"channel":         next.Confirmation.Channel,
		"confirmation_id": next.Confirmation.ID,
	})
	e.notify(ctx, next, StatusApproved, status)
	return next.Result(), nil
}

// release gives up a dispatch claim after a failed send. The run stays
// approved; a later Resume retries the send.
func (e *Engine) release(ctx context.Context, cp store.Checkpoint[Run], cause error) (Result, error) {
	run := cp.State
	cp.ClaimToken = ""
	cp.ClaimedAt = time.Time{}

	meta := map[string]interface{}{"error": cause.Error()}
	if _, err := e.store.Save(context.WithoutCancel(ctx), cp); err != nil && !errors.Is(err, store.ErrConflict) {
		meta["release_error"] = err.Error()
	}
	e.event(run, CursorDispatch, emit.MsgDispatchFailed, meta)

	return run.Result(), newError(CodeDispatch, run.RunID, "reply could not be sent", &StageError{Stage: CursorDispatch, Cause: cause})
}

// expire moves a run at the gate to the expired cursor. Store errors,
// including ErrConflict, are returned unwrapped.
func (e *Engine) expire(ctx context.Context, cp store.Checkpoint[Run]) (Run, error) {
	run := cp.State
	run.Cursor = CursorExpired
	run.Failure = &Failure{
		Stage:   CursorReview,
		Code:    CodeGateExpired,
		Message: fmt.Sprintf("no approval within %s", e.cfg.gate.TTL),
	}
	cp.State = run
	cp.Cursor = string(CursorExpired)

	if _, err := e.store.Save(ctx, cp); err != nil {
		return cp.State, err
	}

	e.cfg.metrics.AddAwaitingReview(-1)
	e.cfg.metrics.IncrementRunsFinished("expired")
	e.event(run, CursorReview, emit.MsgRunExpired, nil)
	e.notify(ctx, run, StatusAwaitingReview, StatusExpired)
	return run, nil
}

func (e *Engine) load(ctx context.Context, runID string) (store.Checkpoint[Run], error) {
	cp, err := e.store.Load(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return cp, newError(CodeNotFound, runID, "no such run", nil)
	}
	if err != nil {
		return cp, storeError(runID, err)
	}
	return cp, nil
}

func (e *Engine) wait(ctx context.Context, runID string) error {
	if err := sleep(ctx, e.cfg.pollInterval); err != nil {
		return fmt.Errorf("waiting for run %s: %w", runID, err)
	}
	return nil
}

func (e *Engine) event(run Run, stage Cursor, msg string, meta map[string]interface{}) {
	e.cfg.emitter.Emit(emit.Event{
		RunID:  run.RunID,
		Stage:  string(stage),
		Status: string(run.Status()),
		Msg:    msg,
		Time:   e.cfg.now(),
		Meta:   meta,
	})
}

func (e *Engine) notify(ctx context.Context, run Run, prev, status Status) {
	if e.cfg.recorder == nil {
		return
	}
	change := StatusChange{RunID: run.RunID, Status: status, Previous: prev, Run: run, At: e.cfg.now().UTC()}
	if err := e.cfg.recorder.OnStatusChanged(ctx, change); err != nil {
		e.event(run, run.Cursor, emit.MsgRecorderFailed, map[string]interface{}{
			"error":  err.Error(),
			"status": string(status),
		})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextCursor(c Cursor) Cursor {
	switch c {
	case CursorAnalyze:
		return CursorStrategize
	case CursorStrategize:
		return CursorDraft
	case CursorDraft:
		return CursorReview
	case CursorReview:
		return CursorDispatch
	default:
		return CursorComplete
	}
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, ErrExtraction):
		return CodeExtraction
	case errors.Is(err, ErrWriteOnce):
		return CodeWriteOnce
	default:
		return CodeStage
	}
}

// interrupted reports whether a stage error came from the caller giving up
// rather than from the stage itself.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func storeError(runID string, err error) error {
	return newError(CodeStore, runID, "checkpoint store", err)
}

func decisionOf(run Run) negotiation.Decision {
	if run.Decision == nil {
		return negotiation.Decision{}
	}
	return *run.Decision
}

func factsOf(run Run) negotiation.Facts {
	if run.Facts == nil {
		return negotiation.Facts{}
	}
	return *run.Facts
}

func referenceOf(run Run) negotiation.ReferenceBand {
	if run.Reference == nil {
		return negotiation.ReferenceBand{}
	}
	return *run.Reference
}

func validateOffer(o negotiation.Offer) error {
	if strings.TrimSpace(o.Text) == "" {
		return errors.New("offer text is required")
	}
	for _, f := range []struct{ name, value string }{{"from", o.From}, {"to", o.To}} {
		if f.value == "" {
			continue
		}
		if _, err := mail.ParseAddress(f.value); err != nil {
			return fmt.Errorf("%s: invalid address %q", f.name, f.value)
		}
	}
	if len(o.Subject) > maxSubjectLength {
		return fmt.Errorf("subject exceeds %d characters", maxSubjectLength)
	}
	return nil
}

func validateRunID(id string) error {
	if len(id) > maxRunIDLength {
		return fmt.Errorf("run id exceeds %d characters", maxRunIDLength)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return errors.New("run id must not contain whitespace")
	}
	return nil
}
