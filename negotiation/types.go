// Package negotiation holds the domain types of a vendor price negotiation,
// the contracts of the capabilities the workflow engine depends on, and
// reference implementations of each capability.
package negotiation

import (
	"strings"
	"time"
)

// Offer is an inbound vendor email as received at the webhook.
type Offer struct {
	Text       string    `json:"text"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	ThreadID   string    `json:"thread_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Facts is the structured data extracted from an Offer.
type Facts struct {
	VendorName    string  `json:"vendor_name"`
	ProductName   string  `json:"product_name"`
	OfferedPrice  float64 `json:"offered_price"`
	Currency      string  `json:"currency,omitempty"`
	SenderName    string  `json:"sender_name,omitempty"`
	RecipientName string  `json:"recipient_name,omitempty"`
}

// ReferenceBand is the fair price range for a product.
type ReferenceBand struct {
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Target float64 `json:"target"`
}

// Action is the strategy outcome.
type Action string

// Actions.
const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCounter Action = "counter"
)

// Decision is the strategy stage output. CounterPrice is set only for
// ActionCounter.
type Decision struct {
	Action       Action  `json:"action"`
	CounterPrice float64 `json:"counter_price,omitempty"`
}

// CommittedPrice returns the price the reply commits to: the vendor's price
// on accept, the counter price on counter, and false on reject.
func (d Decision) CommittedPrice(f Facts) (float64, bool) {
	switch d.Action {
	case ActionAccept:
		return f.OfferedPrice, true
	case ActionCounter:
		return d.CounterPrice, true
	default:
		return 0, false
	}
}

// Confirmation is the receipt returned by a Dispatcher.
type Confirmation struct {
	ID             string    `json:"id"`
	Channel        string    `json:"channel"`
	IdempotencyKey string    `json:"idempotency_key"`
	SentAt         time.Time `json:"sent_at"`
}

// DispatchRequest is everything a Dispatcher needs to send the approved reply.
type DispatchRequest struct {
	RunID          string   `json:"run_id"`
	IdempotencyKey string   `json:"idempotency_key"`
	Offer          Offer    `json:"offer"`
	Facts          Facts    `json:"facts"`
	Decision       Decision `json:"decision"`
	Text           string   `json:"text"`
}

// ReplySubject returns the subject line of the outbound reply.
func (r DispatchRequest) ReplySubject() string {
	subject := strings.TrimSpace(r.Offer.Subject)
	if subject == "" {
		return "Re: pricing for " + r.Facts.ProductName
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
