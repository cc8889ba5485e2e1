package record

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/negotiatorai/negotiator/negotiation"
	"github.com/negotiatorai/negotiator/workflow"
)

// DefaultSubjectPrefix is where NATSRecorder publishes status events.
const DefaultSubjectPrefix = "negotiator.status"

// Publisher is the subset of *nats.Conn used by NATSRecorder.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// StatusEvent is the JSON payload published for each status change.
type StatusEvent struct {
	RunID     string                `json:"run_id"`
	Status    workflow.Status       `json:"status"`
	Previous  workflow.Status       `json:"previous,omitempty"`
	Vendor    string                `json:"vendor,omitempty"`
	Product   string                `json:"product,omitempty"`
	Offered   float64               `json:"offered,omitempty"`
	Decision  *negotiation.Decision `json:"decision,omitempty"`
	Failure   *workflow.Failure     `json:"failure,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// NATSRecorder publishes every status change to
// "<SubjectPrefix>.<status>", for example "negotiator.status.awaiting_review".
type NATSRecorder struct {
	Conn          Publisher
	SubjectPrefix string
}

// OnStatusChanged implements workflow.Recorder.
func (n *NATSRecorder) OnStatusChanged(_ context.Context, c workflow.StatusChange) error {
	ev := StatusEvent{
		RunID:     c.RunID,
		Status:    c.Status,
		Previous:  c.Previous,
		Decision:  c.Run.Decision,
		Failure:   c.Run.Failure,
		Timestamp: c.At,
	}
	if c.Run.Facts != nil {
		ev.Vendor = c.Run.Facts.VendorName
		ev.Product = c.Run.Facts.ProductName
		ev.Offered = c.Run.Facts.OfferedPrice
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := n.Conn.Publish(n.subject(c.Status), data); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

func (n *NATSRecorder) subject(s workflow.Status) string {
	prefix := n.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + strings.ToLower(string(s))
}
