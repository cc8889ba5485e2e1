package workflow

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/negotiatorai/negotiator/negotiation"
)

// RetryPolicy configures retries of the dispatch stage.
//
// The delay before retry n (zero-based) is min(BaseDelay*2^n, MaxDelay) plus
// a jitter in [0, BaseDelay).
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. 1 disables retries.
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable reports whether a failed attempt may be repeated. Nil uses
	// DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns three attempts starting at 200ms, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Retryable:   DefaultRetryable,
	}
}

// DefaultRetryable retries transient dispatch errors and any error that is
// not a classified DispatchError, but never a cancelled context.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var de *negotiation.DispatchError
	if errors.As(err, &de) {
		return de.Transient
	}
	return true
}

// Validate checks MaxAttempts >= 1 and MaxDelay >= BaseDelay when both are set.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp RetryPolicy) retryable(err error) bool {
	if rp.Retryable == nil {
		return DefaultRetryable(err)
	}
	return rp.Retryable(err)
}

func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt && (maxDelay <= 0 || delay < maxDelay) && delay < time.Hour; i++ {
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}

// GateMode selects what happens to a run left at the review gate.
type GateMode string

// Gate modes.
const (
	// GateHold keeps runs at review indefinitely.
	GateHold GateMode = "hold"

	// GateExpire moves runs older than GatePolicy.TTL to the expired cursor.
	GateExpire GateMode = "expire"
)

// GatePolicy configures the review gate.
type GatePolicy struct {
	Mode GateMode      `yaml:"mode" json:"mode"`
	TTL  time.Duration `yaml:"ttl" json:"ttl"`
}

// Validate checks the mode and that expiring gates have a positive TTL.
func (g GatePolicy) Validate() error {
	switch g.Mode {
	case GateHold, "":
		return nil
	case GateExpire:
		if g.TTL <= 0 {
			return errors.New("gate policy: expire mode requires a positive ttl")
		}
		return nil
	default:
		return errors.New("gate policy: unknown mode " + string(g.Mode))
	}
}

func (g GatePolicy) expired(run Run, now time.Time) bool {
	if g.Mode != GateExpire || run.Cursor != CursorReview || run.GateReachedAt.IsZero() {
		return false
	}
	return now.Sub(run.GateReachedAt) >= g.TTL
}
