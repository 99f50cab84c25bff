package parser

import (
	"regexp"
	"strings"
)

var attrPseudo = regexp.MustCompile(`::attr\(\s*["']?([^"')\s]+)["']?\s*\)\s*$`)

// splitPseudo separates a Scrapy-style pseudo element from a CSS selector.
// "span.text::text" yields ("span.text", "text") and
// `a::attr("href")` yields ("a", "href").
func splitPseudo(selector string) (css, attr string) {
	selector = strings.TrimSpace(selector)
	if m := attrPseudo.FindStringSubmatchIndex(selector); m != nil {
		return strings.TrimSpace(selector[:m[0]]), selector[m[2]:m[3]]
	}
	if strings.HasSuffix(selector, "::text") {
		return strings.TrimSpace(strings.TrimSuffix(selector, "::text")), "text"
	}
	return selector, ""
}
