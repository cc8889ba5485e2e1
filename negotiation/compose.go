package negotiation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/negotiatorai/negotiator/workflow/model"
)

// FormatPrice renders an amount with its currency symbol, two decimals.
func FormatPrice(currency string, amount float64) string {
	switch strings.ToUpper(currency) {
	case "EUR":
		return fmt.Sprintf("€%.2f", amount)
	case "GBP":
		return fmt.Sprintf("£%.2f", amount)
	case "", "USD":
		return fmt.Sprintf("$%.2f", amount)
	default:
		return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(currency))
	}
}

// DefaultTemplates are the reply bodies used by TemplateComposer, keyed by
// action.
var DefaultTemplates = map[Action]string{
	ActionAccept: `{{.Greeting}}

Thank you for your offer on {{.Product}}. We are happy to confirm acceptance of your quoted price of {{.Offered}} per seat per month.

Please send over the paperwork and we will get it signed.

{{.SignOff}}`,
	ActionCounter: `{{.Greeting}}

Thank you for your offer on {{.Product}} at {{.Offered}} per seat per month. Based on our review of current market pricing, we would be comfortable proceeding at {{.Counter}} per seat per month.

Let us know if that works for you.

{{.SignOff}}`,
	ActionReject: `{{.Greeting}}

Thank you for your offer on {{.Product}}. Unfortunately we cannot proceed at the current pricing of {{.Offered}} per seat per month.

If you are able to return with a more competitive offer, we would be glad to take another look.

{{.SignOff}}`,
}

type templateData struct {
	Greeting string
	SignOff  string
	Product  string
	Vendor   string
	Offered  string
	Counter  string
	Target   string
}

// TemplateComposer renders replies from text/template sources.
type TemplateComposer struct {
	templates map[Action]*template.Template
}

// NewTemplateComposer parses sources, filling unspecified actions from
// DefaultTemplates.
func NewTemplateComposer(sources map[Action]string) (*TemplateComposer, error) {
	c := &TemplateComposer{templates: make(map[Action]*template.Template, len(DefaultTemplates))}
	for action, def := range DefaultTemplates {
		src := def
		if custom, ok := sources[action]; ok {
			src = custom
		}
		tmpl, err := template.New(string(action)).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", action, err)
		}
		c.templates[action] = tmpl
	}
	return c, nil
}

// Compose implements DraftComposer.
func (c *TemplateComposer) Compose(_ context.Context, decision Decision, facts Facts, ref ReferenceBand) (string, error) {
	tmpl, ok := c.templates[decision.Action]
	if !ok {
		return "", fmt.Errorf("no template for action %q", decision.Action)
	}

	data := templateData{
		Greeting: greeting(facts),
		SignOff:  signOff(facts),
		Product:  orDefault(facts.ProductName, "the subscription"),
		Vendor:   orDefault(facts.VendorName, "the vendor"),
		Offered:  FormatPrice(facts.Currency, facts.OfferedPrice),
		Target:   FormatPrice(facts.Currency, ref.Target),
	}
	if decision.Action == ActionCounter {
		data.Counter = FormatPrice(facts.Currency, decision.CounterPrice)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", decision.Action, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func greeting(f Facts) string {
	switch {
	case f.SenderName != "":
		return "Dear " + f.SenderName + ","
	case f.VendorName != "":
		return "Dear " + f.VendorName + " team,"
	default:
		return "Hello,"
	}
}

func signOff(f Facts) string {
	if f.RecipientName != "" {
		return "Best regards,\n" + f.RecipientName
	}
	return "Best regards"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

const draftSystemPrompt = "You are a procurement negotiation assistant drafting concise, polite emails. " +
	"Draft a single email response to a vendor about SaaS pricing, using the structured fields below.\n\n" +
	"If Decision is \"counter\": propose the target price as a clear counter-offer, using the value exactly as provided, " +
	"and avoid vague language like \"more competitive\" without stating a concrete price.\n\n" +
	"If Decision is \"accept\": clearly confirm acceptance of the vendor's quoted price.\n\n" +
	"If Decision is \"reject\": politely say we cannot proceed at the current pricing and invite the vendor to return " +
	"with a more competitive offer.\n\n" +
	"When names are provided, use a natural greeting (\"Dear {sender_name}\" or \"Dear {vendor_name} team\") and a " +
	"polite sign-off that can include the recipient name.\n\n" +
	"Do not mention that you are an AI system. Write the email body only, without subject line."

// ErrEmptyDraft is returned when a composer produces no text.
var ErrEmptyDraft = errors.New("composer returned an empty draft")

// LLMComposer drafts replies with a chat model. When the model call fails and
// Fallback is set, the fallback composer writes the draft.
type LLMComposer struct {
	Model    model.ChatModel
	Fallback DraftComposer
}

// Compose implements DraftComposer.
func (l *LLMComposer) Compose(ctx context.Context, decision Decision, facts Facts, ref ReferenceBand) (string, error) {
	target := "none"
	if price, ok := decision.CommittedPrice(facts); ok && decision.Action == ActionCounter {
		target = fmt.Sprintf("%.2f", price)
	}

	user := strings.Join([]string{
		"Vendor name: " + orDefault(facts.VendorName, "the vendor"),
		"Product: " + orDefault(facts.ProductName, "the SaaS subscription"),
		"Sender contact name (vendor): " + orDefault(facts.SenderName, "unknown"),
		"Our contact name (recipient): " + orDefault(facts.RecipientName, "unknown"),
		fmt.Sprintf("Vendor current offer (per seat / month): %.2f %s", facts.OfferedPrice, orDefault(facts.Currency, "USD")),
		"Our target price (per seat / month): " + target,
		fmt.Sprintf("Market reference: low %.2f, high %.2f, target %.2f", ref.Low, ref.High, ref.Target),
		fmt.Sprintf("Decision: %s (accept / reject / counter).", decision.Action),
		"",
		"Write the email body only, without subject line.",
	}, "\n")

	out, err := l.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: draftSystemPrompt},
		{Role: model.RoleUser, Content: user},
	})
	if err != nil {
		if l.Fallback != nil && ctx.Err() == nil {
			return l.Fallback.Compose(ctx, decision, facts, ref)
		}
		return "", fmt.Errorf("draft model call: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyDraft
	}
	return text, nil
}
