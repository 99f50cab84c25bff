// Package spider holds the site definitions: seeds, item and field
// selectors, pagination and per-spider pipeline and feed settings.
package spider

import (
	"fmt"
	"sort"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Spider is a validated spider definition bound to its record schema.
type Spider struct {
	config.SpiderConfig
	Schema types.Schema
}

var quoteRules = []config.ParseRule{
	{Name: "author", Type: "xpath", Selector: "span/small/text()"},
	{Name: "text", Type: "css", Selector: "span.text::text"},
	{Name: "tags", Type: "css", Selector: "div.tags a.tag::text", Multiple: true},
}

const nextPage = `li.next a::attr("href")`

// Builtins returns the spiders shipped with the binary.
func Builtins() []config.SpiderConfig {
	return []config.SpiderConfig{
		{
			Name:           "quotes",
			AllowedDomains: []string{"quotes.toscrape.com"},
			StartURLs:      []string{"https://quotes.toscrape.com/tag/humor/"},
			Schema:         types.QuoteSchema.Name,
			ItemSelector:   "div.quote",
			Rules:          quoteRules,
			NextSelector:   nextPage,
		},
		{
			Name:           "advance_quotes",
			AllowedDomains: []string{"quotes.toscrape.com"},
			StartURLs:      []string{"https://quotes.toscrape.com/tag/inspirational/"},
			Schema:         types.QuoteSchema.Name,
			ItemSelector:   "div.quote",
			Rules:          quoteRules,
			NextSelector:   nextPage,
			Pipeline: []config.MiddlewareConfig{
				{Type: "quote_clean", Schema: types.QuoteSchema.Name},
				{Type: "uppercase", Schema: types.QuoteSchema.Name, Options: map[string]any{"field": "author"}},
			},
		},
		{
			Name:           "custom_quotes",
			AllowedDomains: []string{"quotes.toscrape.com"},
			StartURLs:      []string{"https://quotes.toscrape.com/tag/humor/"},
			Schema:         types.QuoteSchema.Name,
			ItemSelector:   "div.quote",
			Rules:          quoteRules,
			NextSelector:   nextPage,
			Pipeline: []config.MiddlewareConfig{
				{Type: "quote_clean", Schema: types.QuoteSchema.Name},
				{Type: "uppercase", Schema: types.QuoteSchema.Name, Options: map[string]any{"field": "author"}},
			},
			Feed: &config.StorageConfig{
				Type:       "jsonl",
				OutputPath: "output_files/files_CustomSettings/quotes.jsonl",
				Overwrite:  true,
			},
		},
		{
			Name:           "books_spider",
			AllowedDomains: []string{"books.toscrape.com"},
			StartURLs:      []string{"https://books.toscrape.com/catalogue/category/books/fiction_10/index.html"},
			Schema:         types.BookSchema.Name,
			ItemSelector:   "article.product_pod",
			Rules: []config.ParseRule{
				{Name: "title", Type: "css", Selector: "h3 a::attr(title)"},
				{Name: "price", Type: "css", Selector: "p.price_color::text"},
			},
			NextSelector: nextPage,
			Pipeline: []config.MiddlewareConfig{
				{Type: "book_clean", Schema: types.BookSchema.Name},
			},
		},
		{
			Name: "quotes_html",
			StartURLs: []string{
				"https://quotes.toscrape.com/page/1/",
				"https://quotes.toscrape.com/page/2/",
			},
			Feed: &config.StorageConfig{
				Type:       "html",
				OutputPath: "output/html_files",
				Overwrite:  true,
				FilePrefix: "quotes",
			},
		},
		{
			Name:          "login_quotes",
			StartURLs:     []string{"https://quotes.toscrape.com/tag/humor/"},
			Schema:        types.QuoteSchema.Name,
			ItemSelector:  "div.quote",
			RequiresLogin: true,
			Rules: []config.ParseRule{
				{Name: "author", Type: "css", Selector: "small::text"},
				{Name: "text", Type: "css", Selector: "span.text::text"},
				{Name: "tags", Type: "css", Selector: "a.tag::text", Multiple: true},
			},
		},
	}
}

// Lookup finds a spider by name. Spiders from the config file replace
// built-ins of the same name.
func Lookup(cfg *config.Config, name string) (*Spider, error) {
	for _, sp := range cfg.Spiders {
		if sp.Name == name {
			return New(sp)
		}
	}
	for _, sp := range Builtins() {
		if sp.Name == name {
			return New(sp)
		}
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnknownSpider, name)
}

// Names returns all known spider names, sorted.
func Names(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var names []string
	for _, list := range [][]config.SpiderConfig{cfg.Spiders, Builtins()} {
		for _, sp := range list {
			if !seen[sp.Name] {
				seen[sp.Name] = true
				names = append(names, sp.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// New validates a spider definition and resolves its schema.
func New(sp config.SpiderConfig) (*Spider, error) {
	if err := config.ValidateSpider(sp); err != nil {
		return nil, err
	}

	schema := ResolveSchema(sp)
	for _, r := range sp.Rules {
		if !schema.HasField(r.Name) {
			return nil, fmt.Errorf("spider %q: %w: %q not in schema %q", sp.Name, types.ErrUnknownField, r.Name, schema.Name)
		}
	}
	return &Spider{SpiderConfig: sp, Schema: schema}, nil
}

// ResolveSchema maps a schema name to a built-in schema, or derives one
// from the spider's rules.
func ResolveSchema(sp config.SpiderConfig) types.Schema {
	switch sp.Schema {
	case types.QuoteSchema.Name:
		return types.QuoteSchema
	case types.BookSchema.Name:
		return types.BookSchema
	}
	name := sp.Schema
	if name == "" {
		name = sp.Name
	}
	return types.Schema{Name: name, Fields: sp.Fields()}
}

// Feed returns the spider's own output settings, falling back to def.
func (s *Spider) Feed(def config.StorageConfig) config.StorageConfig {
	if s.SpiderConfig.Feed != nil {
		return *s.SpiderConfig.Feed
	}
	return def
}

// Extracts reports whether the spider produces records at all. Spiders
// without rules only dump pages.
func (s *Spider) Extracts() bool {
	return len(s.Rules) > 0
}
