package parser

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// xpathField is a compiled XPath extraction rule, evaluated relative to
// the item node.
type xpathField struct {
	selector  string
	expr      *xpath.Expr
	attribute string
}

func compileXPath(selector, attribute string) (*xpathField, error) {
	expr, err := xpath.Compile(selector)
	if err != nil {
		return nil, err
	}
	return &xpathField{selector: selector, expr: expr, attribute: attribute}, nil
}

func (f *xpathField) values(node *html.Node) []string {
	var values []string
	for _, n := range htmlquery.QuerySelectorAll(node, f.expr) {
		switch f.attribute {
		case "", "text":
			if n.Type == html.TextNode {
				values = append(values, n.Data)
				continue
			}
			if val := strings.TrimSpace(htmlquery.InnerText(n)); val != "" {
				values = append(values, val)
			}
		case "html", "innerHTML":
			values = append(values, htmlquery.OutputHTML(n, false))
		case "outerHTML":
			values = append(values, htmlquery.OutputHTML(n, true))
		default:
			if htmlquery.ExistsAttr(n, f.attribute) {
				values = append(values, htmlquery.SelectAttr(n, f.attribute))
			}
		}
	}
	return values
}
