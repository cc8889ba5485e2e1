package negotiation

import (
	"fmt"
	"math"
)

// BelowBandAction selects what happens to offers priced under the reference
// band's low end.
type BelowBandAction string

const (
	// BelowBandAccept accepts any offer at or under target. Default.
	BelowBandAccept BelowBandAction = "accept"

	// BelowBandCounter counters offers under the band's low end at
	// max(target, offered*CounterFactor), treating an implausibly cheap quote
	// as a cue to pin the price explicitly.
	BelowBandCounter BelowBandAction = "counter"
)

// StrategyConfig holds the named constants of the offer evaluator.
type StrategyConfig struct {
	// CounterFactor scales the offered price to form a counter. Range (0, 1].
	CounterFactor float64 `yaml:"counter_factor" json:"counter_factor"`

	// RejectThreshold multiplies reference.High; offers above the product are
	// rejected. Range [1, 10].
	RejectThreshold float64 `yaml:"reject_threshold" json:"reject_threshold"`

	// RoundingPlaces is the number of decimals kept on counter prices. Range [0, 6].
	RoundingPlaces int `yaml:"rounding_places" json:"rounding_places"`

	// BelowBandAction, accept or counter.
	BelowBandAction BelowBandAction `yaml:"below_band_action" json:"below_band_action"`
}

// Strategy defaults.
const (
	DefaultCounterFactor   = 0.9
	DefaultRejectThreshold = 1.5
	DefaultRoundingPlaces  = 2
)

// DefaultStrategyConfig returns the documented defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		CounterFactor:   DefaultCounterFactor,
		RejectThreshold: DefaultRejectThreshold,
		RoundingPlaces:  DefaultRoundingPlaces,
		BelowBandAction: BelowBandAccept,
	}
}

// Validate checks every field against its range.
func (c StrategyConfig) Validate() error {
	if !(c.CounterFactor > 0 && c.CounterFactor <= 1) {
		return fmt.Errorf("counter_factor must be in (0, 1], got %v", c.CounterFactor)
	}
	if c.RejectThreshold < 1 || c.RejectThreshold > 10 {
		return fmt.Errorf("reject_threshold must be in [1, 10], got %v", c.RejectThreshold)
	}
	if c.RoundingPlaces < 0 || c.RoundingPlaces > 6 {
		return fmt.Errorf("rounding_places must be in [0, 6], got %d", c.RoundingPlaces)
	}
	switch c.BelowBandAction {
	case BelowBandAccept, BelowBandCounter:
	default:
		return fmt.Errorf("below_band_action must be %q or %q, got %q", BelowBandAccept, BelowBandCounter, c.BelowBandAction)
	}
	return nil
}

// Evaluate decides how to answer an offer. It is a pure function of its
// arguments.
//
//	offered <= target               -> accept
//	offered >  high*RejectThreshold -> reject
//	otherwise                       -> counter at max(target, offered*CounterFactor)
//
// With BelowBandCounter, offers under ref.Low are countered instead of accepted.
func Evaluate(cfg StrategyConfig, facts Facts, ref ReferenceBand) Decision {
	offered := facts.OfferedPrice

	if offered <= ref.Target {
		if cfg.BelowBandAction == BelowBandCounter && offered < ref.Low {
			return counter(cfg, offered, ref)
		}
		return Decision{Action: ActionAccept}
	}
	if offered > ref.High*cfg.RejectThreshold {
		return Decision{Action: ActionReject}
	}
	return counter(cfg, offered, ref)
}

func counter(cfg StrategyConfig, offered float64, ref ReferenceBand) Decision {
	price := math.Max(ref.Target, offered*cfg.CounterFactor)
	return Decision{Action: ActionCounter, CounterPrice: Round(price, cfg.RoundingPlaces)}
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
