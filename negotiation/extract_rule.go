package negotiation

import (
	"context"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

var (
	prefixPriceRe = regexp.MustCompile(`(?i)(\$|€|£|\bUSD|\bEUR|\bGBP)\s?(\d[\d,]*(?:\.\d+)?)`)
	suffixPriceRe = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s?(USD|EUR|GBP|dollars|euros|pounds)\b`)
	greetingRe    = regexp.MustCompile(`(?im)^\s*(?:hi|hello|hey|dear)\s+([A-Za-z][\w.'-]*)`)
	signOffRe     = regexp.MustCompile(`(?im)^\s*(?:best regards|kind regards|warm regards|regards|best|thanks|thank you|cheers|sincerely)[,!.]?[ \t]*\r?\n\s*([A-Za-z][\w.'-]*)`)
	subjectTagRe  = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw)\s*:\s*)+`)
)

var currencyCodes = map[string]string{
	"$": "USD", "usd": "USD", "dollars": "USD",
	"€": "EUR", "eur": "EUR", "euros": "EUR",
	"£": "GBP", "gbp": "GBP", "pounds": "GBP",
}

// genericMailDomains never name the vendor.
var genericMailDomains = map[string]bool{
	"gmail": true, "googlemail": true, "outlook": true, "hotmail": true,
	"yahoo": true, "icloud": true, "proton": true, "protonmail": true,
	"mail": true, "email": true,
}

var collectiveGreetings = map[string]bool{"team": true, "all": true, "there": true, "everyone": true, "folks": true}

// RuleExtractor reads Facts with regular expressions and a product catalogue.
//
// The first currency-tagged amount in the body is the offered price. The
// product is the longest catalogue name found in the subject or body, falling
// back to the subject line. The vendor comes from the product's brand or the
// sender's domain. Contact names come from the sender's display name or
// sign-off, and from the greeting.
type RuleExtractor struct {
	Catalogue *Catalogue
}

// NewRuleExtractor creates a RuleExtractor over catalogue, or over the default
// catalogue when nil.
func NewRuleExtractor(catalogue *Catalogue) *RuleExtractor {
	if catalogue == nil {
		catalogue = NewCatalogue(nil, 0)
	}
	return &RuleExtractor{Catalogue: catalogue}
}

// Extract implements FactExtractor.
func (r *RuleExtractor) Extract(_ context.Context, offer Offer) (Facts, error) {
	body, err := NormalizeBody(offer.Text)
	if err != nil {
		return Facts{}, &ExtractionError{Reason: "unreadable body", Cause: err}
	}

	price, currency, ok := findPrice(body)
	if !ok {
		return Facts{}, &ExtractionError{Reason: "no price found in offer"}
	}

	facts := Facts{
		OfferedPrice: price,
		Currency:     currency,
	}
	if name := firstSubmatch(greetingRe, body); !collectiveGreetings[strings.ToLower(name)] {
		facts.RecipientName = name
	}

	if name, ok := r.Catalogue.Match(offer.Subject + "\n" + body); ok {
		facts.ProductName = titleWords(name)
		facts.VendorName = titleWords(strings.Fields(name)[0])
	} else {
		facts.ProductName = strings.TrimSpace(subjectTagRe.ReplaceAllString(offer.Subject, ""))
	}

	display, domain := parseSender(offer.From)
	if facts.VendorName == "" && domain != "" {
		facts.VendorName = titleWords(domain)
	}
	if display != "" {
		facts.SenderName = strings.Fields(display)[0]
	} else {
		facts.SenderName = firstSubmatch(signOffRe, body)
	}

	return facts, nil
}

func findPrice(text string) (float64, string, bool) {
	type candidate struct {
		pos      int
		amount   string
		currency string
	}
	var found []candidate
	if m := prefixPriceRe.FindStringSubmatchIndex(text); m != nil {
		found = append(found, candidate{m[0], text[m[4]:m[5]], text[m[2]:m[3]]})
	}
	if m := suffixPriceRe.FindStringSubmatchIndex(text); m != nil {
		found = append(found, candidate{m[0], text[m[2]:m[3]], text[m[4]:m[5]]})
	}
	if len(found) == 0 {
		return 0, "", false
	}
	best := found[0]
	if len(found) == 2 && found[1].pos < best.pos {
		best = found[1]
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(best.amount, ",", ""), 64)
	if err != nil || !finite(amount) || amount <= 0 {
		return 0, "", false
	}
	return amount, currencyCodes[strings.ToLower(best.currency)], true
}

func parseSender(from string) (display, domainLabel string) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", ""
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 0 {
		return addr.Name, ""
	}
	label := strings.Split(addr.Address[at+1:], ".")[0]
	if genericMailDomains[strings.ToLower(label)] {
		label = ""
	}
	return strings.TrimSpace(addr.Name), label
}

func firstSubmatch(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], ".,")
	}
	return ""
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
