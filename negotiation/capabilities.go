package negotiation

import "context"

// FactExtractor reads Facts from an inbound offer. It returns an error
// matching ErrExtraction when no price can be identified.
type FactExtractor interface {
	Extract(ctx context.Context, offer Offer) (Facts, error)
}

// MarketReference looks up the fair price band for a product.
type MarketReference interface {
	Lookup(ctx context.Context, product string) (ReferenceBand, error)
}

// DraftComposer writes the reply body for a decision.
type DraftComposer interface {
	Compose(ctx context.Context, decision Decision, facts Facts, ref ReferenceBand) (string, error)
}

// Dispatcher sends an approved reply. Implementations must treat
// IdempotencyKey as a deduplication key: a repeated request with the same key
// returns the original Confirmation without sending again.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (Confirmation, error)
}

// ExtractorFunc adapts a function to FactExtractor.
type ExtractorFunc func(ctx context.Context, offer Offer) (Facts, error)

// Extract implements FactExtractor.
func (f ExtractorFunc) Extract(ctx context.Context, offer Offer) (Facts, error) {
	return f(ctx, offer)
}

// ReferenceFunc adapts a function to MarketReference.
type ReferenceFunc func(ctx context.Context, product string) (ReferenceBand, error)

// Lookup implements MarketReference.
func (f ReferenceFunc) Lookup(ctx context.Context, product string) (ReferenceBand, error) {
	return f(ctx, product)
}

// ComposerFunc adapts a function to DraftComposer.
type ComposerFunc func(ctx context.Context, decision Decision, facts Facts, ref ReferenceBand) (string, error)

// Compose implements DraftComposer.
func (f ComposerFunc) Compose(ctx context.Context, decision Decision, facts Facts, ref ReferenceBand) (string, error) {
	return f(ctx, decision, facts, ref)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req DispatchRequest) (Confirmation, error)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, req DispatchRequest) (Confirmation, error) {
	return f(ctx, req)
}
