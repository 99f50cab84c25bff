package spider

import (
	"errors"
	"testing"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

func TestBuiltinsAreValid(t *testing.T) {
	for _, sc := range Builtins() {
		sp, err := New(sc)
		if err != nil {
			t.Fatalf("builtin %q: %v", sc.Name, err)
		}
		if sp.Name != sc.Name {
			t.Errorf("name = %q, want %q", sp.Name, sc.Name)
		}
	}
}

func TestLookupBuiltin(t *testing.T) {
	cfg := config.DefaultConfig()

	sp, err := Lookup(cfg, "books_spider")
	if err != nil {
		t.Fatal(err)
	}
	if sp.Schema.Name != types.BookSchema.Name {
		t.Errorf("schema = %q, want book", sp.Schema.Name)
	}
	if !sp.Extracts() {
		t.Error("books_spider should extract records")
	}

	html, err := Lookup(cfg, "quotes_html")
	if err != nil {
		t.Fatal(err)
	}
	if html.Extracts() {
		t.Error("quotes_html has no rules and should only dump pages")
	}
	if feed := html.Feed(cfg.Storage); feed.Type != "html" || feed.FilePrefix != "quotes" {
		t.Errorf("quotes_html feed = %+v", feed)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup(config.DefaultConfig(), "nope")
	if !errors.Is(err, types.ErrUnknownSpider) {
		t.Fatalf("err = %v, want ErrUnknownSpider", err)
	}
}

func TestConfigSpiderOverridesBuiltin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Spiders = []config.SpiderConfig{{
		Name:      "quotes",
		StartURLs: []string{"http://localhost:8080/"},
		Schema:    types.QuoteSchema.Name,
		Rules:     []config.ParseRule{{Name: "text", Selector: "span.text::text"}},
	}, {
		Name:      "headlines",
		StartURLs: []string{"http://localhost:8080/news"},
		Rules: []config.ParseRule{
			{Name: "title", Selector: "h2::text"},
			{Name: "link", Selector: "h2 a::attr(href)"},
		},
	}}

	sp, err := Lookup(cfg, "quotes")
	if err != nil {
		t.Fatal(err)
	}
	if sp.StartURLs[0] != "http://localhost:8080/" {
		t.Errorf("config spider did not replace builtin: %v", sp.StartURLs)
	}

	names := Names(cfg)
	want := []string{"advance_quotes", "books_spider", "custom_quotes", "headlines", "login_quotes", "quotes", "quotes_html"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	custom, err := Lookup(cfg, "headlines")
	if err != nil {
		t.Fatal(err)
	}
	if custom.Schema.Name != "headlines" || len(custom.Schema.Fields) != 2 || custom.Schema.Fields[1] != "link" {
		t.Errorf("derived schema = %+v", custom.Schema)
	}
}

func TestNewRejectsUnknownField(t *testing.T) {
	_, err := New(config.SpiderConfig{
		Name:      "bad",
		StartURLs: []string{"https://quotes.toscrape.com/"},
		Schema:    types.QuoteSchema.Name,
		Rules:     []config.ParseRule{{Name: "price", Selector: "p::text"}},
	})
	if !errors.Is(err, types.ErrUnknownField) {
		t.Fatalf("err = %v, want ErrUnknownField", err)
	}
}
