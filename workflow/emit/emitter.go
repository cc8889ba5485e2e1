// Package emit provides observability events for the negotiation workflow.
package emit

// Emitter receives workflow events.
//
// The engine emits an event for every stage start and finish, the gate
// checkpoint, dispatch claims and attempts, completion, and failures.
// Implementations must be safe for concurrent use: many runs emit at once.
// Emit must not block on slow sinks for long; the engine calls it inline.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
