package workflow

import (
	"context"
	"fmt"
	"math"

	"github.com/negotiatorai/negotiator/negotiation"
)

// Stage is one step of the negotiation pipeline.
//
// Run receives a snapshot of the run and returns only the outputs it
// produces. The engine merges the delta into the run; a stage never mutates
// the run directly.
type Stage interface {
	Name() Cursor
	Run(ctx context.Context, run Run) StageResult
}

// StageResult is the outcome of a stage execution.
type StageResult struct {
	Delta Delta
	Err   error
}

// Delta carries the outputs a stage produced. Nil or empty fields are absent.
type Delta struct {
	Facts        *negotiation.Facts
	Reference    *negotiation.ReferenceBand
	Decision     *negotiation.Decision
	DraftText    string
	Confirmation *negotiation.Confirmation
}

// StageFunc adapts a function into a Stage.
type StageFunc struct {
	Cursor Cursor
	Fn     func(ctx context.Context, run Run) (Delta, error)
}

// Name implements Stage.
func (s StageFunc) Name() Cursor { return s.Cursor }

// Run implements Stage.
func (s StageFunc) Run(ctx context.Context, run Run) StageResult {
	d, err := s.Fn(ctx, run)
	return StageResult{Delta: d, Err: err}
}

// merge applies d to run on behalf of stage. Each output has exactly one
// owning stage and may be set once.
func merge(run Run, stage Cursor, d Delta) (Run, error) {
	check := func(field string, owner Cursor, alreadySet bool) error {
		if stage != owner {
			return fmt.Errorf("%w: stage %s cannot set %s", ErrWriteOnce, stage, field)
		}
		if alreadySet {
			return fmt.Errorf("%w: %s already set", ErrWriteOnce, field)
		}
		return nil
	}

	if d.Facts != nil {
		if err := check("facts", CursorAnalyze, run.Facts != nil); err != nil {
			return run, err
		}
		f := *d.Facts
		run.Facts = &f
	}
	if d.Reference != nil {
		if err := check("reference", CursorStrategize, run.Reference != nil); err != nil {
			return run, err
		}
		r := *d.Reference
		run.Reference = &r
	}
	if d.Decision != nil {
		if err := check("decision", CursorStrategize, run.Decision != nil); err != nil {
			return run, err
		}
		dec := *d.Decision
		run.Decision = &dec
	}
	if d.DraftText != "" {
		if err := check("draft", CursorDraft, run.DraftText != ""); err != nil {
			return run, err
		}
		run.DraftText = d.DraftText
	}
	if d.Confirmation != nil {
		if err := check("confirmation", CursorDispatch, run.Confirmation != nil); err != nil {
			return run, err
		}
		c := *d.Confirmation
		run.Confirmation = &c
	}
	return run, nil
}

// Capabilities are the external collaborators the built-in stages call.
type Capabilities struct {
	Extractor  negotiation.FactExtractor
	Reference  negotiation.MarketReference
	Composer   negotiation.DraftComposer
	Dispatcher negotiation.Dispatcher
}

func (c Capabilities) validate() error {
	switch {
	case c.Extractor == nil:
		return fmt.Errorf("%w: extractor is required", ErrValidation)
	case c.Reference == nil:
		return fmt.Errorf("%w: market reference is required", ErrValidation)
	case c.Composer == nil:
		return fmt.Errorf("%w: composer is required", ErrValidation)
	case c.Dispatcher == nil:
		return fmt.Errorf("%w: dispatcher is required", ErrValidation)
	}
	return nil
}

// AnalyzeStage extracts facts from the offer.
func AnalyzeStage(x negotiation.FactExtractor) Stage {
	return StageFunc{Cursor: CursorAnalyze, Fn: func(ctx context.Context, run Run) (Delta, error) {
		facts, err := x.Extract(ctx, run.Offer)
		if err != nil {
			return Delta{}, err
		}
		p := facts.OfferedPrice
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return Delta{}, &negotiation.ExtractionError{Reason: fmt.Sprintf("invalid offered price %v", p)}
		}
		return Delta{Facts: &facts}, nil
	}}
}

// StrategizeStage looks up the reference band and evaluates the offer.
func StrategizeStage(ref negotiation.MarketReference, cfg negotiation.StrategyConfig) Stage {
	return StageFunc{Cursor: CursorStrategize, Fn: func(ctx context.Context, run Run) (Delta, error) {
		if run.Facts == nil {
			return Delta{}, fmt.Errorf("facts missing")
		}
		band, err := ref.Lookup(ctx, run.Facts.ProductName)
		if err != nil {
			return Delta{}, fmt.Errorf("reference lookup: %w", err)
		}
		decision := negotiation.Evaluate(cfg, *run.Facts, band)
		return Delta{Reference: &band, Decision: &decision}, nil
	}}
}

// DraftStage composes the reply text.
func DraftStage(c negotiation.DraftComposer) Stage {
	return StageFunc{Cursor: CursorDraft, Fn: func(ctx context.Context, run Run) (Delta, error) {
		if run.Facts == nil || run.Reference == nil || run.Decision == nil {
			return Delta{}, fmt.Errorf("strategy outputs missing")
		}
		text, err := c.Compose(ctx, *run.Decision, *run.Facts, *run.Reference)
		if err != nil {
			return Delta{}, err
		}
		if text == "" {
			return Delta{}, negotiation.ErrEmptyDraft
		}
		return Delta{DraftText: text}, nil
	}}
}

// dispatchStage sends the approved reply with the given idempotency key.
func dispatchStage(d negotiation.Dispatcher, key string) Stage {
	return StageFunc{Cursor: CursorDispatch, Fn: func(ctx context.Context, run Run) (Delta, error) {
		req := negotiation.DispatchRequest{
			RunID:          run.RunID,
			IdempotencyKey: key,
			Offer:          run.Offer,
			Text:           run.DraftText,
		}
		if run.Facts != nil {
			req.Facts = *run.Facts
		}
		if run.Decision != nil {
			req.Decision = *run.Decision
		}
		conf, err := d.Dispatch(ctx, req)
		if err != nil {
			return Delta{}, err
		}
		if conf.IdempotencyKey == "" {
			conf.IdempotencyKey = key
		}
		return Delta{Confirmation: &conf}, nil
	}}
}
