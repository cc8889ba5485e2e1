package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/negotiatorai/negotiator/negotiation"
)

// dispatchKey derives the idempotency key handed to the Dispatcher. It
// depends only on the run ID, the decision and the approved text, so every
// attempt to send the same approved reply carries the same key.
func dispatchKey(runID string, decision negotiation.Decision, text string) string {
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write([]byte{0})
	h.Write([]byte(decision.Action))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(decision.CounterPrice, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func newRunID() string {
	return ulid.Make().String()
}
