package parser

import (
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// field is one compiled rule of either flavor.
type field struct {
	name     string
	multiple bool
	css      *cssField
	xpath    *xpathField
}

// Extractor applies a spider's fixed selector rules to a page. It cuts the
// page into item blocks, fills one record per block in schema order and
// looks up the next-page link. It has no side effects.
type Extractor struct {
	schema types.Schema
	spider string
	items  cascadia.Selector
	fields []field
	next   *cssField
	logger *slog.Logger
}

// NewExtractor compiles the spider's selectors. An empty item selector
// makes the whole page one block; an empty next selector disables
// pagination.
func NewExtractor(spiderName string, schema types.Schema, sp config.SpiderConfig, logger *slog.Logger) (*Extractor, error) {
	e := &Extractor{
		schema: schema,
		spider: spiderName,
		logger: logger.With("component", "extractor", "spider", spiderName),
	}

	if sp.ItemSelector != "" {
		m, err := cascadia.Compile(sp.ItemSelector)
		if err != nil {
			return nil, fmt.Errorf("item selector %q: %w", sp.ItemSelector, err)
		}
		e.items = m
	}

	byName := make(map[string]config.ParseRule, len(sp.Rules))
	for _, r := range sp.Rules {
		byName[r.Name] = r
	}

	// Fields are compiled in schema order so records come out ordered.
	for _, name := range schema.Fields {
		rule, ok := byName[name]
		if !ok {
			continue
		}
		f := field{name: name, multiple: rule.Multiple}
		var err error
		switch rule.Type {
		case "xpath":
			f.xpath, err = compileXPath(rule.Selector, rule.Attribute)
		default:
			f.css, err = compileCSS(rule.Selector, rule.Attribute)
		}
		if err != nil {
			return nil, fmt.Errorf("rule %q selector %q: %w", name, rule.Selector, err)
		}
		e.fields = append(e.fields, f)
	}

	if sp.NextSelector != "" {
		next, err := compileCSS(sp.NextSelector, "")
		if err != nil {
			return nil, fmt.Errorf("next selector %q: %w", sp.NextSelector, err)
		}
		if next.attribute == "" {
			next.attribute = "href"
		}
		e.next = next
	}

	return e, nil
}

// Parse implements Parser.
func (e *Extractor) Parse(resp *types.Response) ([]*types.Record, string, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, "", &types.ParseError{URL: resp.URL(), Err: err}
	}

	var blocks *goquery.Selection
	if e.items != nil {
		blocks = doc.FindMatcher(e.items)
	} else {
		blocks = doc.Selection
	}

	var records []*types.Record
	if len(e.fields) > 0 {
		blocks.Each(func(i int, block *goquery.Selection) {
			records = append(records, e.record(resp.URL(), block))
		})
	}

	next := ""
	if e.next != nil {
		if links := e.next.values(doc.Selection); len(links) > 0 {
			next = links[0]
		}
	}

	e.logger.Debug("page extracted", "url", resp.URL(), "records", len(records), "next", next)
	return records, next, nil
}

// record fills one record from a block. Missing matches become empty
// values, never errors.
func (e *Extractor) record(pageURL string, block *goquery.Selection) *types.Record {
	rec := e.schema.NewRecord(pageURL)
	rec.SpiderName = e.spider

	for _, f := range e.fields {
		var values []string
		if f.xpath != nil {
			for _, n := range block.Nodes {
				values = append(values, f.xpath.values(n)...)
			}
		} else {
			values = f.css.values(block)
		}

		if f.multiple {
			if values == nil {
				values = []string{}
			}
			rec.Set(f.name, values)
			continue
		}
		if len(values) > 0 {
			rec.Set(f.name, values[0])
		} else {
			rec.Set(f.name, "")
		}
	}
	return rec
}
