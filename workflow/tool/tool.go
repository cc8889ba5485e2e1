// Package tool provides the external-call contract used by capabilities that
// talk to other services (market price lookups, outbound webhooks).
package tool

import "context"

// Tool is a named external operation with map-shaped input and output.
type Tool interface {
	// Name returns the tool identifier, lowercase with underscores.
	Name() string

	// Call executes the tool. Implementations check ctx before doing work and
	// return descriptive errors for invalid input.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
