package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/negotiatorai/negotiator/workflow/tool"
)

func testRequest(key string) DispatchRequest {
	return DispatchRequest{
		RunID:          "run-1",
		IdempotencyKey: key,
		Offer: Offer{
			From:      "bob@acme.com",
			To:        "buyer@example.com",
			Subject:   "Widget pricing",
			MessageID: "<m1@acme.com>",
		},
		Facts:    Facts{ProductName: "Widget", OfferedPrice: 120},
		Decision: Decision{Action: ActionCounter, CounterPrice: 108},
		Text:     "Dear Bob, $108.00 works for us.",
	}
}

func TestNewOutboundMessage(t *testing.T) {
	msg := NewOutboundMessage(testRequest("k1"))
	if msg.From != "buyer@example.com" || msg.To != "bob@acme.com" {
		t.Errorf("expected reply addressed back to sender, got from=%q to=%q", msg.From, msg.To)
	}
	if msg.Subject != "Re: Widget pricing" || msg.InReplyTo != "<m1@acme.com>" {
		t.Errorf("unexpected threading fields %+v", msg)
	}

	req := testRequest("k1")
	req.Offer.Subject = "RE: Widget pricing"
	if got := req.ReplySubject(); got != "RE: Widget pricing" {
		t.Errorf("expected existing reply prefix kept, got %q", got)
	}
	req.Offer.Subject = ""
	if got := req.ReplySubject(); got != "Re: pricing for Widget" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestOutboxDispatcher_Dedup(t *testing.T) {
	o := NewOutboxDispatcher()
	ctx := context.Background()

	first, err := o.Dispatch(ctx, testRequest("k1"))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if first.Channel != ChannelOutbox || first.IdempotencyKey != "k1" || first.ID == "" {
		t.Errorf("unexpected confirmation %+v", first)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := o.Dispatch(ctx, testRequest("k1"))
			if err != nil || again != first {
				t.Errorf("expected original confirmation, got %+v %v", again, err)
			}
		}()
	}
	wg.Wait()

	if _, err := o.Dispatch(ctx, testRequest("k2")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := len(o.Messages()); got != 2 {
		t.Errorf("expected 2 messages in outbox, got %d", got)
	}
}

func TestWebhookDispatcher(t *testing.T) {
	var (
		mu      sync.Mutex
		status  = http.StatusOK
		gotKey  string
		gotBody OutboundMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotKey = r.Header.Get("Idempotency-Key")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"id":"relay-42"}`))
		}
	}))
	defer srv.Close()

	d := &WebhookDispatcher{URL: srv.URL, Tool: tool.NewHTTPTool(tool.WithHTTPClient(srv.Client()))}
	ctx := context.Background()

	conf, err := d.Dispatch(ctx, testRequest("k1"))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if conf.ID != "relay-42" || conf.Channel != ChannelWebhook {
		t.Errorf("unexpected confirmation %+v", conf)
	}
	if gotKey != "k1" || gotBody.Body != "Dear Bob, $108.00 works for us." {
		t.Errorf("unexpected request key=%q body=%+v", gotKey, gotBody)
	}

	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		mu.Lock()
		status = tt.status
		mu.Unlock()

		_, err := d.Dispatch(ctx, testRequest("k1"))
		var de *DispatchError
		if !errors.As(err, &de) {
			t.Fatalf("status %d: expected *DispatchError, got %v", tt.status, err)
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: transient = %v, want %v", tt.status, IsTransient(err), tt.transient)
		}
	}
}

func TestWebhookDispatcher_TransportFailureIsTransient(t *testing.T) {
	d := &WebhookDispatcher{URL: "http://unused", Tool: tool.FailingWith(&tool.TransportError{URL: "http://unused", Cause: errors.New("refused")})}
	_, err := d.Dispatch(context.Background(), testRequest("k1"))
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestNATSDispatcher(t *testing.T) {
	pub := &fakePublisher{}
	d := &NATSDispatcher{Conn: pub}

	conf, err := d.Dispatch(context.Background(), testRequest("k1"))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if conf.Channel != ChannelNATS || conf.IdempotencyKey != "k1" {
		t.Errorf("unexpected confirmation %+v", conf)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Subject != DefaultOutboundSubject {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "k1" || msg.Header.Get("Negotiator-Run-Id") != "run-1" {
		t.Errorf("unexpected headers %v", msg.Header)
	}
	var out OutboundMessage
	if err := json.Unmarshal(msg.Data, &out); err != nil || out.To != "bob@acme.com" {
		t.Errorf("unexpected payload %s (%v)", msg.Data, err)
	}

	pub.err = nats.ErrConnectionClosed
	if _, err := d.Dispatch(context.Background(), testRequest("k2")); !IsTransient(err) || !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("expected transient wrapped error, got %v", err)
	}
}
