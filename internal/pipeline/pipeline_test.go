package pipeline

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func quote(text, author string, tags ...string) *types.Record {
	rec := types.NewRecord("quote", "https://quotes.toscrape.com/page/1/")
	rec.Set("author", author)
	rec.Set("text", text)
	if tags == nil {
		tags = []string{}
	}
	rec.Set("tags", tags)
	return rec
}

func TestPipelineBasic(t *testing.T) {
	p := New(testLogger)
	p.Use(&TrimMiddleware{})

	rec := types.NewRecord("page", "https://example.com")
	rec.Set("title", "  Hello World  ")
	rec.Set("tags", []string{" a ", "b "})

	result, err := p.Process(rec)
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if result.GetString("title") != "Hello World" {
		t.Errorf("expected trimmed title, got %q", result.GetString("title"))
	}
	if got := result.GetStrings("tags"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected trimmed tags, got %q", got)
	}
}

func TestQuoteCleanAndUppercase(t *testing.T) {
	p := New(testLogger)
	p.Use(NewQuoteCleanMiddleware())
	p.Use(&UpperCaseMiddleware{Field: "author"})

	result, err := p.Process(quote("“Hello”  ", "jane"))
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if result.GetString("text") != "Hello" {
		t.Errorf("text = %q, want %q", result.GetString("text"), "Hello")
	}
	if result.GetString("author") != "JANE" {
		t.Errorf("author = %q, want %q", result.GetString("author"), "JANE")
	}
}

func TestQuoteCleanIdempotent(t *testing.T) {
	inputs := []string{
		"“Hello”  ",
		"  “ nested “quotes” here ”",
		"plain",
		"“”",
		"",
	}
	m := NewQuoteCleanMiddleware()

	for _, in := range inputs {
		once, _ := m.Process(quote(in, "a"))
		first := once.GetString("text")
		twice, _ := m.Process(once)
		if twice.GetString("text") != first {
			t.Errorf("not idempotent for %q: %q then %q", in, first, twice.GetString("text"))
		}
		if strings.ContainsAny(first, "“”") {
			t.Errorf("quote marks left in %q", first)
		}
		if first != strings.TrimSpace(first) {
			t.Errorf("surrounding whitespace left in %q", first)
		}
	}
}

func TestUppercaseMatchesToUpper(t *testing.T) {
	m := &UpperCaseMiddleware{Field: "author"}
	for _, in := range []string{"jane", "Albert Einstein", "élodie", ""} {
		result, _ := m.Process(quote("x", in))
		if result.GetString("author") != strings.ToUpper(in) {
			t.Errorf("uppercase(%q) = %q", in, result.GetString("author"))
		}
	}
}

func TestBookClean(t *testing.T) {
	rec := types.NewRecord("book", "https://books.toscrape.com/")
	rec.Set("title", "  A Light in the Attic ")
	rec.Set("price", " £51.77 ")

	result, err := NewBookCleanMiddleware().Process(rec)
	if err != nil {
		t.Fatalf("book_clean error: %v", err)
	}
	if result.GetString("title") != "A Light in the Attic" {
		t.Errorf("title = %q", result.GetString("title"))
	}
	if result.GetString("price") != "51.77" {
		t.Errorf("price = %q", result.GetString("price"))
	}
}

func TestForSchemaPassesOtherSchemas(t *testing.T) {
	p := New(testLogger)
	p.Use(ForSchema("quote", &UpperCaseMiddleware{Field: "title"}))

	rec := types.NewRecord("book", "https://books.toscrape.com/")
	rec.Set("title", "lower")
	result, _ := p.Process(rec)
	if result.GetString("title") != "lower" {
		t.Errorf("book record modified by quote stage: %q", result.GetString("title"))
	}
}

func TestRequiredFieldsMiddleware(t *testing.T) {
	m := &RequiredFieldsMiddleware{Fields: []string{"text"}}

	result, err := m.Process(quote("Hello", "a"))
	if err != nil || result == nil {
		t.Error("record with required field should pass")
	}

	result, _ = m.Process(quote("", "a"))
	if result != nil {
		t.Error("record with empty required field should be dropped (nil)")
	}
}

func TestPipelineShortCircuitsOnDrop(t *testing.T) {
	p := New(testLogger)
	p.Use(&RequiredFieldsMiddleware{Fields: []string{"text"}})
	p.Use(&UpperCaseMiddleware{Field: "author"})

	rec := quote("", "jane")
	result, err := p.Process(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatal("expected record to be dropped")
	}
	if rec.GetString("author") != "jane" {
		t.Error("stages after a drop must not run")
	}
}

type failing struct{}

func (failing) Name() string { return "failing" }
func (failing) Process(*types.Record) (*types.Record, error) {
	return nil, errors.New("boom")
}

func TestPipelineWrapsStageErrors(t *testing.T) {
	p := New(testLogger)
	p.Use(failing{})

	_, err := p.Process(quote("x", "y"))
	var pe *types.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if pe.Stage != "failing" {
		t.Errorf("stage = %q", pe.Stage)
	}
}

func TestHTMLSanitizeMiddleware(t *testing.T) {
	m := NewHTMLSanitizeMiddleware()
	rec := types.NewRecord("page", "https://example.com")
	rec.Set("content", `<p>Hello <b>World</b></p> &amp; <a href="x">link</a>`)

	result, err := m.Process(rec)
	if err != nil {
		t.Fatalf("sanitize error: %v", err)
	}
	if got := result.GetString("content"); got != "Hello World & link" {
		t.Errorf("content = %q", got)
	}
}

func TestCurrencyNormalizeMiddleware(t *testing.T) {
	m := NewCurrencyNormalizeMiddleware([]string{"price"})

	tests := []struct {
		input    string
		expected string
	}{
		{"£51.77", "51.77"},
		{"$1,234.56", "1234.56"},
		{"€1.234,56", "1234.56"},
	}

	for _, tt := range tests {
		rec := types.NewRecord("book", "https://example.com")
		rec.Set("price", tt.input)
		result, _ := m.Process(rec)
		if got := result.GetString("price"); got != tt.expected {
			t.Errorf("normalize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFieldValidateMiddleware(t *testing.T) {
	m, err := NewFieldValidateMiddleware(map[string]string{"price": `^\d+\.\d{2}$`}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := types.NewRecord("book", "https://example.com")
	rec.Set("price", "abc")
	if result, _ := m.Process(rec); result != nil {
		t.Error("invalid record should be dropped")
	}

	if _, err := NewFieldValidateMiddleware(map[string]string{"x": "("}, false); err == nil {
		t.Error("expected error for bad regex")
	}
}

func TestDedupMiddleware(t *testing.T) {
	m := NewDedupMiddleware("text")

	if result, _ := m.Process(quote("same", "a")); result == nil {
		t.Error("first record should pass")
	}
	if result, _ := m.Process(quote("same", "b")); result != nil {
		t.Error("duplicate record should be dropped")
	}
	if result, _ := m.Process(quote("different", "a")); result == nil {
		t.Error("different record should pass")
	}
}

func TestBuildDedupWithoutKey(t *testing.T) {
	p, err := Build([]config.MiddlewareConfig{{Type: "dedup"}}, testLogger)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}

	// All from the same page URL.
	records := []*types.Record{
		quote("one", "a"),
		quote("two", "b"),
		quote("three", "c"),
		quote("two", "b"),
	}
	kept := 0
	for _, rec := range records {
		result, err := p.Process(rec)
		if err != nil {
			t.Fatalf("process error: %v", err)
		}
		if result != nil {
			kept++
		}
	}
	if kept != 3 {
		t.Errorf("kept %d of %d records, want 3 distinct", kept, len(records))
	}
}

func TestFieldFilterAndDefaults(t *testing.T) {
	p := New(testLogger)
	p.Use(&FieldFilterMiddleware{Fields: map[string]bool{"author": true, "text": true}})
	p.Use(&DefaultValueMiddleware{Defaults: map[string]string{"author": "unknown"}})

	result, _ := p.Process(quote("t", ""))
	if result.Has("tags") {
		t.Error("tags should be filtered out")
	}
	if result.GetString("author") != "unknown" {
		t.Errorf("author = %q", result.GetString("author"))
	}
	if keys := result.Keys(); len(keys) != 2 || keys[0] != "author" || keys[1] != "text" {
		t.Errorf("keys = %v", keys)
	}
}

func TestBuild(t *testing.T) {
	p, err := Build([]config.MiddlewareConfig{
		{Type: "quote_clean", Schema: "quote"},
		{Type: "uppercase", Schema: "quote", Options: map[string]any{"field": "author"}},
		{Name: "required_fields", Options: map[string]any{"fields": []any{"text"}}},
	}, testLogger)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 stages, got %d", p.Len())
	}
	if names := p.Names(); names[0] != "quote_clean" || names[1] != "uppercase" {
		t.Errorf("names = %v", names)
	}

	result, _ := p.Process(quote("“Hi” ", "jane"))
	if result.GetString("text") != "Hi" || result.GetString("author") != "JANE" {
		t.Errorf("unexpected result %q / %q", result.GetString("text"), result.GetString("author"))
	}
}

func TestBuildUnknownStage(t *testing.T) {
	if _, err := Build([]config.MiddlewareConfig{{Type: "nope"}}, testLogger); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func BenchmarkPipeline(b *testing.B) {
	p := New(testLogger)
	p.Use(&TrimMiddleware{})
	p.Use(NewQuoteCleanMiddleware())
	p.Use(&UpperCaseMiddleware{Field: "author"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Process(quote("  “The world as we have created it”  ", "albert einstein", "change", "world"))
	}
}
