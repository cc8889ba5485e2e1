// Package record keeps the negotiation history outside the checkpoint store:
// one thread row per run plus a log of inbound and outbound emails. It is
// fed by workflow.Recorder notifications.
package record

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/negotiatorai/negotiator/negotiation"
	"github.com/negotiatorai/negotiator/workflow"
)

// Direction of an email relative to the buyer.
type Direction string

// Directions.
const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Thread is the persistent summary of one negotiation.
type Thread struct {
	ThreadID         string    `json:"thread_id"`
	VendorName       string    `json:"vendor_name,omitempty"`
	ProductName      string    `json:"product_name,omitempty"`
	CurrentOffer     float64   `json:"current_offer,omitempty"`
	TargetPrice      float64   `json:"target_price,omitempty"`
	Status           string    `json:"status"`
	LastEmailSubject string    `json:"last_email_subject,omitempty"`
	LastEmailBody    string    `json:"last_email_body,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EmailLog is one email exchanged in a thread.
type EmailLog struct {
	ThreadID  string    `json:"thread_id"`
	Direction Direction `json:"direction"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadStatus maps an engine status to the stored status string.
func ThreadStatus(s workflow.Status) string {
	if s == workflow.StatusAwaitingReview {
		return "awaiting_human_review"
	}
	return strings.ToLower(string(s))
}

// threadFrom projects a status change onto the thread row.
func threadFrom(c workflow.StatusChange) Thread {
	run := c.Run
	t := Thread{
		ThreadID:  c.RunID,
		Status:    ThreadStatus(c.Status),
		UpdatedAt: c.At,
	}
	if run.Facts != nil {
		t.VendorName = run.Facts.VendorName
		t.ProductName = run.Facts.ProductName
		t.CurrentOffer = run.Facts.OfferedPrice
	}
	if run.Reference != nil {
		t.TargetPrice = run.Reference.Target
	}
	t.LastEmailSubject, t.LastEmailBody = run.Offer.Subject, run.Offer.Text
	if email, ok := outboundEmail(c); ok {
		t.LastEmailSubject, t.LastEmailBody = email.Subject, email.Body
	}
	return t
}

// emailFor returns the email a status change logs, if any: the offer when
// the run is created and the reply once it has been sent.
func emailFor(c workflow.StatusChange) (EmailLog, bool) {
	if c.Status == workflow.StatusPendingAnalysis {
		return EmailLog{
			ThreadID:  c.RunID,
			Direction: Inbound,
			Subject:   c.Run.Offer.Subject,
			Body:      c.Run.Offer.Text,
			CreatedAt: c.At,
		}, true
	}
	return outboundEmail(c)
}

func outboundEmail(c workflow.StatusChange) (EmailLog, bool) {
	if c.Status != workflow.StatusSent && c.Status != workflow.StatusRejected {
		return EmailLog{}, false
	}
	req := negotiation.DispatchRequest{Offer: c.Run.Offer}
	if c.Run.Facts != nil {
		req.Facts = *c.Run.Facts
	}
	return EmailLog{
		ThreadID:  c.RunID,
		Direction: Outbound,
		Subject:   req.ReplySubject(),
		Body:      c.Run.DraftText,
		CreatedAt: c.At,
	}, true
}

// Fanout notifies every recorder in order and joins their errors.
type Fanout []workflow.Recorder

// OnStatusChanged implements workflow.Recorder.
func (f Fanout) OnStatusChanged(ctx context.Context, c workflow.StatusChange) error {
	var errs []error
	for _, r := range f {
		if r == nil {
			continue
		}
		if err := r.OnStatusChanged(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
