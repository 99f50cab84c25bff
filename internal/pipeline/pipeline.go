package pipeline

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Middleware is one pipeline stage. It processes a record and returns the
// (possibly modified) record. Return nil to drop the record.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop the record.
	Process(rec *types.Record) (*types.Record, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the record through all middleware in order. A nil record
// with a nil error means a stage dropped it.
func (p *Pipeline) Process(rec *types.Record) (*types.Record, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:  mw.Name(),
				Record: current,
				Err:    err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "url", rec.URL)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.middlewares))
	for i, mw := range p.middlewares {
		names[i] = mw.Name()
	}
	return names
}

// --- Schema scoping ---

type schemaScoped struct {
	schema string
	mw     Middleware
}

// ForSchema restricts mw to records of one schema; other records pass
// through untouched.
func ForSchema(schema string, mw Middleware) Middleware {
	if schema == "" {
		return mw
	}
	return &schemaScoped{schema: schema, mw: mw}
}

func (m *schemaScoped) Name() string { return m.mw.Name() }

func (m *schemaScoped) Process(rec *types.Record) (*types.Record, error) {
	if rec.Schema != m.schema {
		return rec, nil
	}
	return m.mw.Process(rec)
}

// --- Built-in Middleware ---

// StripMiddleware removes the given substrings from string fields and
// trims surrounding whitespace. Applying it twice equals applying it once.
type StripMiddleware struct {
	name     string
	Fields   []string
	replacer *strings.Replacer
}

// NewStripMiddleware creates a strip stage for fields, removing every
// occurrence of each string in remove.
func NewStripMiddleware(name string, fields, remove []string) *StripMiddleware {
	pairs := make([]string, 0, len(remove)*2)
	for _, r := range remove {
		pairs = append(pairs, r, "")
	}
	return &StripMiddleware{
		name:     name,
		Fields:   fields,
		replacer: strings.NewReplacer(pairs...),
	}
}

// NewQuoteCleanMiddleware strips directional quotation marks and
// whitespace from a quote's text.
func NewQuoteCleanMiddleware() *StripMiddleware {
	return NewStripMiddleware("quote_clean", []string{"text"}, []string{"“", "”"})
}

func (m *StripMiddleware) Name() string { return m.name }

func (m *StripMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, field := range m.Fields {
		if !rec.Has(field) {
			continue
		}
		if s, ok := rec.Get(field); ok {
			if str, ok := s.(string); ok {
				rec.Set(field, m.strip(str))
			}
		}
	}
	return rec, nil
}

// strip runs until the value stops changing, so a removal that exposes
// whitespace next to another mark is handled.
func (m *StripMiddleware) strip(s string) string {
	for {
		next := strings.TrimSpace(m.replacer.Replace(s))
		if next == s {
			return s
		}
		s = next
	}
}

// BookCleanMiddleware trims the title and strips the pound sign from the
// price.
type BookCleanMiddleware struct {
	title *StripMiddleware
	price *StripMiddleware
}

func NewBookCleanMiddleware() *BookCleanMiddleware {
	return &BookCleanMiddleware{
		title: NewStripMiddleware("book_title", []string{"title"}, nil),
		price: NewStripMiddleware("book_price", []string{"price"}, []string{"£"}),
	}
}

func (m *BookCleanMiddleware) Name() string { return "book_clean" }

func (m *BookCleanMiddleware) Process(rec *types.Record) (*types.Record, error) {
	rec, _ = m.title.Process(rec)
	return m.price.Process(rec)
}

// UpperCaseMiddleware upper-cases a string field.
type UpperCaseMiddleware struct {
	Field string
}

func (m *UpperCaseMiddleware) Name() string { return "uppercase" }

func (m *UpperCaseMiddleware) Process(rec *types.Record) (*types.Record, error) {
	if v, ok := rec.Get(m.Field); ok {
		if s, ok := v.(string); ok {
			rec.Set(m.Field, strings.ToUpper(s))
		}
	}
	return rec, nil
}

// FieldFilterMiddleware keeps only specified fields.
type FieldFilterMiddleware struct {
	Fields map[string]bool
}

func (m *FieldFilterMiddleware) Name() string { return "field_filter" }

func (m *FieldFilterMiddleware) Process(rec *types.Record) (*types.Record, error) {
	if len(m.Fields) == 0 {
		return rec, nil
	}
	for _, key := range rec.Keys() {
		if !m.Fields[key] {
			rec.Delete(key)
		}
	}
	return rec, nil
}

// RequiredFieldsMiddleware drops records missing required fields or
// holding an empty value for one.
type RequiredFieldsMiddleware struct {
	Fields []string
}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, field := range m.Fields {
		v, ok := rec.Get(field)
		if !ok {
			return nil, nil
		}
		switch val := v.(type) {
		case string:
			if val == "" {
				return nil, nil
			}
		case []string:
			if len(val) == 0 {
				return nil, nil
			}
		case nil:
			return nil, nil
		}
	}
	return rec, nil
}

// DedupMiddleware drops records whose key field was already seen. With no
// key the whole record, fields in order, is the identity. Records with an
// empty key field always pass.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
	key  string
}

func NewDedupMiddleware(key string) *DedupMiddleware {
	return &DedupMiddleware{
		seen: make(map[string]struct{}),
		key:  key,
	}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(rec *types.Record) (*types.Record, error) {
	id, err := m.identity(rec)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return rec, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[id]; exists {
		return nil, nil
	}
	m.seen[id] = struct{}{}
	return rec, nil
}

func (m *DedupMiddleware) identity(rec *types.Record) (string, error) {
	if m.key != "" {
		return rec.GetString(m.key), nil
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return "", err
	}
	return rec.Schema + "\x00" + string(data), nil
}

// DefaultValueMiddleware sets default values for missing or empty fields.
type DefaultValueMiddleware struct {
	Defaults map[string]string
}

func (m *DefaultValueMiddleware) Name() string { return "default_values" }

func (m *DefaultValueMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for key, def := range m.Defaults {
		if !rec.Has(key) {
			rec.Set(key, def)
			continue
		}
		if v, ok := rec.Get(key); ok {
			if s, ok := v.(string); ok && s == "" {
				rec.Set(key, def)
			}
		}
	}
	return rec, nil
}

// TrimMiddleware trims whitespace from all string fields, including each
// element of multi-valued fields.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, key := range rec.Keys() {
		v, _ := rec.Get(key)
		switch val := v.(type) {
		case string:
			rec.Set(key, strings.TrimSpace(val))
		case []string:
			trimmed := make([]string, len(val))
			for i, s := range val {
				trimmed[i] = strings.TrimSpace(s)
			}
			rec.Set(key, trimmed)
		}
	}
	return rec, nil
}
