package negotiation

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/negotiatorai/negotiator/workflow/tool"
)

func TestCatalogue_Lookup(t *testing.T) {
	c := NewCatalogue(nil, 0)
	ctx := context.Background()

	tests := []struct {
		product string
		want    ReferenceBand
	}{
		{"Slack Pro", ReferenceBand{Low: 7.2, High: 8.8, Target: 8}},
		{"  salesforce sales cloud ", ReferenceBand{Low: 72, High: 88, Target: 80}},
		{"Zendesk Support Enterprise", ReferenceBand{Low: 89.1, High: 108.9, Target: 99}},
		{"acme widget", ReferenceBand{Low: 99, High: 121, Target: 110}},
		{"", ReferenceBand{Low: 9, High: 11, Target: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			got, err := c.Lookup(ctx, tt.product)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Lookup(%q) = %+v, want %+v", tt.product, got, tt.want)
			}
		})
	}
}

func TestCatalogue_Match(t *testing.T) {
	c := NewCatalogue(nil, 0)

	name, ok := c.Match("Quote for SLACK BUSINESS+ seats")
	if !ok || name != "slack business+" {
		t.Errorf("Match = %q, %v", name, ok)
	}
	if _, ok := c.Match("nothing listed here"); ok {
		t.Error("expected no match")
	}
	if !c.Known("Zoom Pro") || c.Known("Zoom Enterprise") {
		t.Error("Known mismatch")
	}
}

func TestCatalogue_CustomPrices(t *testing.T) {
	c := NewCatalogue(map[string]float64{"Acme Analytics": 200}, 0.25)
	band, _ := c.Lookup(context.Background(), "acme analytics")
	if band != (ReferenceBand{Low: 150, High: 250, Target: 200}) {
		t.Errorf("unexpected band %+v", band)
	}
}

func TestHTTPReference(t *testing.T) {
	ctx := context.Background()

	t.Run("reads band from service", func(t *testing.T) {
		mock := tool.Returning(map[string]interface{}{
			"status_code": http.StatusOK, "body": `{"low": 40, "high": 60, "target": 50}`,
		})
		ref := &HTTPReference{BaseURL: "https://prices.internal/v1/bands", APIKey: "k", Tool: mock}

		band, err := ref.Lookup(ctx, "HubSpot Sales Hub")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if band != (ReferenceBand{Low: 40, High: 60, Target: 50}) {
			t.Errorf("unexpected band %+v", band)
		}
		call := mock.Inputs()[0]
		if call["url"] != "https://prices.internal/v1/bands?product=HubSpot+Sales+Hub" {
			t.Errorf("unexpected url %v", call["url"])
		}
		headers := call["headers"].(map[string]interface{})
		if headers["Authorization"] != "Bearer k" {
			t.Errorf("missing auth header: %v", headers)
		}
	})

	t.Run("falls back on not found", func(t *testing.T) {
		mock := tool.Returning(map[string]interface{}{"status_code": http.StatusNotFound, "body": ""})
		ref := &HTTPReference{BaseURL: "https://prices.internal", Tool: mock, Fallback: NewCatalogue(nil, 0)}

		band, err := ref.Lookup(ctx, "zoom pro")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if band.Target != 15 {
			t.Errorf("expected catalogue target 15, got %v", band.Target)
		}
	})

	t.Run("rejects inconsistent band", func(t *testing.T) {
		mock := tool.Returning(map[string]interface{}{
			"status_code": http.StatusOK, "body": `{"low": 70, "high": 60, "target": 50}`,
		})
		ref := &HTTPReference{BaseURL: "https://prices.internal", Tool: mock}
		if _, err := ref.Lookup(ctx, "x"); err == nil {
			t.Error("expected error for inconsistent band")
		}
	})

	t.Run("propagates transport failure without fallback", func(t *testing.T) {
		boom := errors.New("connection refused")
		ref := &HTTPReference{BaseURL: "https://prices.internal", Tool: tool.FailingWith(boom)}
		if _, err := ref.Lookup(ctx, "x"); !errors.Is(err, boom) {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})
}
