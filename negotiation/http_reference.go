package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/negotiatorai/negotiator/workflow/tool"
)

// HTTPReference queries a pricing service for reference bands.
//
// It issues GET <baseURL>?product=<name> and expects
//
//	{"low": 72, "high": 88, "target": 80}
//
// When Fallback is set, a failed lookup or a 404 answer is served from it.
type HTTPReference struct {
	BaseURL  string
	APIKey   string
	Tool     tool.Tool
	Fallback MarketReference
}

// Lookup implements MarketReference.
func (h *HTTPReference) Lookup(ctx context.Context, product string) (ReferenceBand, error) {
	band, err := h.fetch(ctx, product)
	if err != nil && h.Fallback != nil {
		return h.Fallback.Lookup(ctx, product)
	}
	return band, err
}

func (h *HTTPReference) fetch(ctx context.Context, product string) (ReferenceBand, error) {
	u, err := url.Parse(h.BaseURL)
	if err != nil {
		return ReferenceBand{}, fmt.Errorf("invalid reference URL: %w", err)
	}
	q := u.Query()
	q.Set("product", product)
	u.RawQuery = q.Encode()

	input := map[string]interface{}{
		"method": http.MethodGet,
		"url":    u.String(),
	}
	if h.APIKey != "" {
		input["headers"] = map[string]interface{}{"Authorization": "Bearer " + h.APIKey}
	}

	result, err := h.Tool.Call(ctx, input)
	if err != nil {
		return ReferenceBand{}, fmt.Errorf("reference lookup for %q: %w", product, err)
	}
	status, _ := result["status_code"].(int)
	if status != http.StatusOK {
		return ReferenceBand{}, fmt.Errorf("reference lookup for %q: unexpected status %d", product, status)
	}

	body, _ := result["body"].(string)
	var band ReferenceBand
	if err := json.Unmarshal([]byte(body), &band); err != nil {
		return ReferenceBand{}, fmt.Errorf("reference lookup for %q: invalid body: %w", product, err)
	}
	if band.Low > band.Target || band.Target > band.High || band.Target <= 0 {
		return ReferenceBand{}, fmt.Errorf("reference lookup for %q: inconsistent band %+v", product, band)
	}
	return band, nil
}
