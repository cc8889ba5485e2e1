package negotiation

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

var (
	htmlMarkerRe     = regexp.MustCompile(`(?i)<(html|body|p|div|br|table|span|td)\b`)
	styleOrScriptRe  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
)

// LooksLikeHTML reports whether an email body carries HTML markup.
func LooksLikeHTML(body string) bool {
	return htmlMarkerRe.MatchString(body)
}

// NormalizeBody converts HTML email bodies to Markdown so extractors see the
// same text a reader would. Plain-text bodies are returned trimmed.
func NormalizeBody(body string) (string, error) {
	if !LooksLikeHTML(body) {
		return strings.TrimSpace(body), nil
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	markdown, err := converter.ConvertString(styleOrScriptRe.ReplaceAllString(body, ""))
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML body: %w", err)
	}
	markdown = excessiveLinesRe.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown), nil
}
