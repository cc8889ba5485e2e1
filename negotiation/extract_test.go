package negotiation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/negotiatorai/negotiator/workflow/model"
)

func TestRuleExtractor(t *testing.T) {
	ex := NewRuleExtractor(nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		offer Offer
		want  Facts
	}{
		{
			name: "plain text with catalogue product",
			offer: Offer{
				From:    "Bob Jones <bob@salesforce.com>",
				Subject: "Renewal quote",
				Text:    "Hi JJ,\n\nFor Salesforce Sales Cloud we can offer $95.50 per seat per month.\n\nBest,\nBob",
			},
			want: Facts{VendorName: "Salesforce", ProductName: "Salesforce Sales Cloud", OfferedPrice: 95.5, Currency: "USD", SenderName: "Bob", RecipientName: "JJ"},
		},
		{
			name: "html body with suffix currency",
			offer: Offer{
				From:    "sales@gmail.com",
				Subject: "Pricing",
				Text:    "<html><body><p>Hello Sam,</p><p>Zoom Business is available at <b>18 USD</b> per seat.</p></body></html>",
			},
			want: Facts{VendorName: "Zoom", ProductName: "Zoom Business", OfferedPrice: 18, Currency: "USD", RecipientName: "Sam"},
		},
		{
			name: "unknown product falls back to subject and sender domain",
			offer: Offer{
				From:    "deals@acme.io",
				Subject: "Re: Acme Analytics renewal",
				Text:    "Hi team,\nWe can do €1,200.00 per month for the platform.\n\nRegards,\nClara",
			},
			want: Facts{VendorName: "Acme", ProductName: "Acme Analytics renewal", OfferedPrice: 1200, Currency: "EUR", SenderName: "Clara"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Extract(ctx, tt.offer)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() =\n %+v\nwant\n %+v", got, tt.want)
			}
		})
	}
}

func TestRuleExtractor_NoPrice(t *testing.T) {
	ex := NewRuleExtractor(nil)
	for _, text := range []string{"asdf qwer zxcv", "Let's talk pricing next week.", "$0 per seat"} {
		_, err := ex.Extract(context.Background(), Offer{From: "a@b.com", Text: text})
		if !errors.Is(err, ErrExtraction) {
			t.Errorf("%q: expected ErrExtraction, got %v", text, err)
		}
		var ee *ExtractionError
		if !errors.As(err, &ee) {
			t.Errorf("%q: expected *ExtractionError, got %T", text, err)
		}
	}
}

func TestNormalizeBody(t *testing.T) {
	plain, err := NormalizeBody("  just text \n")
	if err != nil || plain != "just text" {
		t.Errorf("plain body: %q %v", plain, err)
	}

	md, err := NormalizeBody("<div><style>p{color:red}</style><p>Price: <strong>$40</strong></p></div>")
	if err != nil {
		t.Fatalf("NormalizeBody failed: %v", err)
	}
	if strings.Contains(md, "<") || strings.Contains(md, "color:red") {
		t.Errorf("expected markup removed, got %q", md)
	}
	if !strings.Contains(md, "$40") {
		t.Errorf("expected price preserved, got %q", md)
	}
}

func TestParseJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"bare object", `{"current_offer": 80}`, false},
		{"fenced with language", "```json\n{\"current_offer\": 80}\n```", false},
		{"fenced without language", "```\n{\"current_offer\": 80}\n```", false},
		{"surrounded by prose", "Sure! Here you go: {\"current_offer\": 80} Hope that helps.", false},
		{"no object", "I could not find a price.", true},
		{"broken object", "{\"current_offer\": }", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ParseJSONObject(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && obj["current_offer"] != float64(80) {
				t.Errorf("unexpected object %v", obj)
			}
		})
	}
}

func TestLLMExtractor(t *testing.T) {
	ctx := context.Background()
	offer := Offer{From: "bob@acme.com", Subject: "Quote", Text: "Widget seats at 80 dollars."}

	t.Run("parses fenced reply", func(t *testing.T) {
		mock := model.Replying("```json\n" +
			`{"vendor_name":"Acme","product_name":"Widget","current_offer":"80","currency":"usd","sender_name":"Bob","recipient_name":null}` +
			"\n```")
		ex := &LLMExtractor{Model: mock}

		facts, err := ex.Extract(ctx, offer)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		want := Facts{VendorName: "Acme", ProductName: "Widget", OfferedPrice: 80, Currency: "USD", SenderName: "Bob"}
		if facts != want {
			t.Errorf("got %+v, want %+v", facts, want)
		}

		msgs := mock.Calls()[0]
		if msgs[0].Role != model.RoleSystem || !strings.Contains(msgs[1].Content, "Widget seats at 80 dollars.") {
			t.Errorf("unexpected prompt %+v", msgs)
		}
	})

	t.Run("null price is an extraction failure", func(t *testing.T) {
		mock := model.Replying(`{"current_offer": null}`)
		_, err := (&LLMExtractor{Model: mock, Fallback: NewRuleExtractor(nil)}).Extract(ctx, offer)
		if !errors.Is(err, ErrExtraction) {
			t.Errorf("expected ErrExtraction, got %v", err)
		}
	})

	t.Run("non-finite price is an extraction failure", func(t *testing.T) {
		for _, v := range []string{`"NaN"`, `"Inf"`, `"-Infinity"`, `"0"`} {
			mock := model.Replying(`{"current_offer": ` + v + `}`)
			_, err := (&LLMExtractor{Model: mock}).Extract(ctx, offer)
			if !errors.Is(err, ErrExtraction) {
				t.Errorf("current_offer %s: expected ErrExtraction, got %v", v, err)
			}
		}
	})

	t.Run("model failure uses fallback", func(t *testing.T) {
		mock := model.Failing(errors.New("quota"))
		facts, err := (&LLMExtractor{Model: mock, Fallback: NewRuleExtractor(nil)}).Extract(ctx, offer)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if facts.OfferedPrice != 80 {
			t.Errorf("expected fallback price 80, got %v", facts.OfferedPrice)
		}
	})

	t.Run("model failure without fallback is not an extraction error", func(t *testing.T) {
		boom := errors.New("quota")
		_, err := (&LLMExtractor{Model: model.Failing(boom)}).Extract(ctx, offer)
		if !errors.Is(err, boom) || errors.Is(err, ErrExtraction) {
			t.Errorf("unexpected error %v", err)
		}
	})
}
