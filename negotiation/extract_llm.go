package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/negotiatorai/negotiator/workflow/model"
)

const extractionSystemPrompt = "You are an assistant that extracts structured data from vendor SaaS pricing emails. " +
	"Return a JSON object with keys: vendor_name, product_name, current_offer, currency, sender_name, recipient_name. " +
	"current_offer should be a numeric price per seat per month. currency is an ISO 4217 code. " +
	"If a value is missing or cannot be confidently determined, use null."

// LLMExtractor asks a chat model for the offer's facts.
//
// When the model call itself fails and Fallback is set, the fallback
// extractor is used instead. A reply without a numeric current_offer is an
// extraction failure regardless of Fallback.
type LLMExtractor struct {
	Model    model.ChatModel
	Fallback FactExtractor
}

// Extract implements FactExtractor.
func (l *LLMExtractor) Extract(ctx context.Context, offer Offer) (Facts, error) {
	body, err := NormalizeBody(offer.Text)
	if err != nil {
		return Facts{}, &ExtractionError{Reason: "unreadable body", Cause: err}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "From: %s\n", offer.From)
	if offer.Subject != "" {
		fmt.Fprintf(&user, "Subject: %s\n", offer.Subject)
	}
	user.WriteString("\n")
	user.WriteString(body)

	out, err := l.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: extractionSystemPrompt},
		{Role: model.RoleUser, Content: user.String()},
	})
	if err != nil {
		if l.Fallback != nil && ctx.Err() == nil {
			return l.Fallback.Extract(ctx, offer)
		}
		return Facts{}, fmt.Errorf("fact extraction model call: %w", err)
	}

	payload, err := ParseJSONObject(out.Text)
	if err != nil {
		return Facts{}, &ExtractionError{Reason: "model reply is not a JSON object", Cause: err}
	}

	price, ok := numberField(payload["current_offer"])
	if !ok || price <= 0 {
		return Facts{}, &ExtractionError{Reason: "no price found in offer"}
	}

	return Facts{
		VendorName:    stringField(payload["vendor_name"]),
		ProductName:   stringField(payload["product_name"]),
		OfferedPrice:  price,
		Currency:      strings.ToUpper(stringField(payload["currency"])),
		SenderName:    stringField(payload["sender_name"]),
		RecipientName: stringField(payload["recipient_name"]),
	}, nil
}

// ErrNoJSONObject is returned by ParseJSONObject when the text holds no object.
var ErrNoJSONObject = errors.New("no JSON object in text")

// ParseJSONObject decodes the JSON object in a model reply. Replies wrapped in
// a Markdown code fence or surrounded by prose are accepted: the text between
// the first '{' and the last '}' is tried when the whole reply does not parse.
func ParseJSONObject(raw string) (map[string]interface{}, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, ErrNoJSONObject
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func numberField(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		cleaned := strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), "$€£")
		f, err := strconv.ParseFloat(cleaned, 64)
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
