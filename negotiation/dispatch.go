package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/negotiatorai/negotiator/workflow/tool"
)

// Dispatch channels.
const (
	ChannelOutbox  = "outbox"
	ChannelWebhook = "webhook"
	ChannelNATS    = "nats"
)

// OutboundMessage is the wire form of an approved reply.
type OutboundMessage struct {
	RunID          string   `json:"run_id"`
	IdempotencyKey string   `json:"idempotency_key"`
	InReplyTo      string   `json:"in_reply_to,omitempty"`
	ThreadID       string   `json:"thread_id,omitempty"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	Subject        string   `json:"subject"`
	Body           string   `json:"body"`
	Decision       Decision `json:"decision"`
}

// NewOutboundMessage addresses the reply back to the offer's sender.
func NewOutboundMessage(req DispatchRequest) OutboundMessage {
	return OutboundMessage{
		RunID:          req.RunID,
		IdempotencyKey: req.IdempotencyKey,
		InReplyTo:      req.Offer.MessageID,
		ThreadID:       req.Offer.ThreadID,
		From:           req.Offer.To,
		To:             req.Offer.From,
		Subject:        req.ReplySubject(),
		Body:           req.Text,
		Decision:       req.Decision,
	}
}

// OutboxDispatcher records replies in memory instead of sending them.
// Requests are deduplicated by idempotency key.
type OutboxDispatcher struct {
	mu       sync.Mutex
	byKey    map[string]Confirmation
	messages []OutboundMessage
	now      func() time.Time
}

// NewOutboxDispatcher creates an empty outbox.
func NewOutboxDispatcher() *OutboxDispatcher {
	return &OutboxDispatcher{
		byKey: make(map[string]Confirmation),
		now:   time.Now,
	}
}

// Dispatch implements Dispatcher.
func (o *OutboxDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if conf, ok := o.byKey[req.IdempotencyKey]; ok {
		return conf, nil
	}

	conf := Confirmation{
		ID:             ulid.Make().String(),
		Channel:        ChannelOutbox,
		IdempotencyKey: req.IdempotencyKey,
		SentAt:         o.now().UTC(),
	}
	o.byKey[req.IdempotencyKey] = conf
	o.messages = append(o.messages, NewOutboundMessage(req))
	return conf, nil
}

// Messages returns a copy of every recorded reply, oldest first.
func (o *OutboxDispatcher) Messages() []OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OutboundMessage(nil), o.messages...)
}

// WebhookDispatcher POSTs the OutboundMessage as JSON to URL. The idempotency
// key travels in the Idempotency-Key header so the receiver can deduplicate.
//
// A 2xx answer confirms the send; its JSON body may carry {"id": "..."}.
// Transport failures, 429 and 5xx answers are transient; other statuses are
// permanent.
type WebhookDispatcher struct {
	URL  string
	Tool tool.Tool
}

// Dispatch implements Dispatcher.
func (w *WebhookDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Confirmation, error) {
	body, err := json.Marshal(NewOutboundMessage(req))
	if err != nil {
		return Confirmation{}, &DispatchError{Channel: ChannelWebhook, Cause: err}
	}

	result, err := w.Tool.Call(ctx, map[string]interface{}{
		"method": http.MethodPost,
		"url":    w.URL,
		"headers": map[string]interface{}{
			"Content-Type":    "application/json",
			"Idempotency-Key": req.IdempotencyKey,
		},
		"body": string(body),
	})
	if err != nil {
		transient := tool.IsTransport(err) || errors.Is(err, context.DeadlineExceeded)
		return Confirmation{}, &DispatchError{Channel: ChannelWebhook, Transient: transient, Cause: err}
	}

	status, _ := result["status_code"].(int)
	if status < 200 || status > 299 {
		transient := status == http.StatusTooManyRequests || status >= 500
		return Confirmation{}, &DispatchError{
			Channel:   ChannelWebhook,
			Transient: transient,
			Cause:     fmt.Errorf("webhook answered %d", status),
		}
	}

	conf := Confirmation{
		ID:             req.IdempotencyKey,
		Channel:        ChannelWebhook,
		IdempotencyKey: req.IdempotencyKey,
		SentAt:         time.Now().UTC(),
	}
	var receipt struct {
		ID string `json:"id"`
	}
	if raw, _ := result["body"].(string); raw != "" && json.Unmarshal([]byte(raw), &receipt) == nil && receipt.ID != "" {
		conf.ID = receipt.ID
	}
	return conf, nil
}

// MsgPublisher is the part of *nats.Conn the NATS dispatcher uses.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// DefaultOutboundSubject carries approved replies to a mail relay.
const DefaultOutboundSubject = "negotiator.outbound"

// NATSDispatcher publishes the OutboundMessage on Subject. The idempotency
// key is set as the Nats-Msg-Id header, which JetStream streams use for
// duplicate detection.
type NATSDispatcher struct {
	Conn    MsgPublisher
	Subject string
}

// Dispatch implements Dispatcher. Publish failures are transient.
func (n *NATSDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}

	data, err := json.Marshal(NewOutboundMessage(req))
	if err != nil {
		return Confirmation{}, &DispatchError{Channel: ChannelNATS, Cause: err}
	}

	subject := n.Subject
	if subject == "" {
		subject = DefaultOutboundSubject
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, req.IdempotencyKey)
	msg.Header.Set("Negotiator-Run-Id", req.RunID)

	if err := n.Conn.PublishMsg(msg); err != nil {
		return Confirmation{}, &DispatchError{Channel: ChannelNATS, Transient: true, Cause: err}
	}

	return Confirmation{
		ID:             ulid.Make().String(),
		Channel:        ChannelNATS,
		IdempotencyKey: req.IdempotencyKey,
		SentAt:         time.Now().UTC(),
	}, nil
}
