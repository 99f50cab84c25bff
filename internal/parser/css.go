package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// cssField is a compiled CSS extraction rule.
type cssField struct {
	selector  string
	matcher   cascadia.Selector
	attribute string
}

func compileCSS(selector, attribute string) (*cssField, error) {
	css, pseudo := splitPseudo(selector)
	if pseudo != "" {
		attribute = pseudo
	}
	m, err := cascadia.Compile(css)
	if err != nil {
		return nil, err
	}
	return &cssField{selector: selector, matcher: m, attribute: attribute}, nil
}

// values applies the rule within sel and returns matched values in
// document order.
func (f *cssField) values(sel *goquery.Selection) []string {
	var values []string

	sel.FindMatcher(f.matcher).Each(func(i int, s *goquery.Selection) {
		switch f.attribute {
		case "":
			if val := strings.TrimSpace(s.Text()); val != "" {
				values = append(values, val)
			}
		case "text":
			// Like ::text: every direct text child is its own match.
			for _, n := range s.Nodes {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						values = append(values, c.Data)
					}
				}
			}
		case "html", "innerHTML":
			if val, err := s.Html(); err == nil {
				values = append(values, val)
			}
		case "outerHTML":
			if val, err := goquery.OuterHtml(s); err == nil {
				values = append(values, val)
			}
		default:
			if val, ok := s.Attr(f.attribute); ok {
				values = append(values, val)
			}
		}
	})

	return values
}
