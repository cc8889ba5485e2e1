package negotiation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrPriceNotCommitted is returned by RequireCommittedPrice.
var ErrPriceNotCommitted = errors.New("edited reply does not state the committed price")

// OverrideValidator vets an approver's edited reply before it is dispatched.
type OverrideValidator func(decision Decision, facts Facts, ref ReferenceBand, text string) error

// RequireCommittedPrice rejects an edit of an accept or counter reply that no
// longer mentions the committed price. Whole prices may be written without
// cents; thousands separators are ignored. Reject replies are not checked.
func RequireCommittedPrice(decision Decision, facts Facts, _ ReferenceBand, text string) error {
	price, ok := decision.CommittedPrice(facts)
	if !ok {
		return nil
	}
	if pricePattern(price).MatchString(strings.ReplaceAll(text, ",", "")) {
		return nil
	}
	return fmt.Errorf("%w: expected %.2f", ErrPriceNotCommitted, price)
}

func pricePattern(price float64) *regexp.Regexp {
	formatted := fmt.Sprintf("%.2f", price)
	whole, cents, _ := strings.Cut(formatted, ".")
	fraction := `\.` + cents
	if cents == "00" {
		fraction = `(?:\.00?)?`
	}
	return regexp.MustCompile(`(?:^|[^\d.])` + whole + fraction + `(?:[^\d]|$)`)
}
