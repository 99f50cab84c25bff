package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
)

// Build constructs a Pipeline from stage configurations, in order. A stage
// with a schema only sees records of that schema.
func Build(configs []config.MiddlewareConfig, logger *slog.Logger) (*Pipeline, error) {
	p := New(logger)
	for i, mc := range configs {
		mw, err := NewMiddleware(mc)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %d (%s): %w", i, mc.Name, err)
		}
		p.Use(ForSchema(mc.Schema, mw))
	}
	return p, nil
}

// NewMiddleware creates a single stage by its type name. Type falls back
// to Name when unset.
func NewMiddleware(mc config.MiddlewareConfig) (Middleware, error) {
	kind := mc.Type
	if kind == "" {
		kind = mc.Name
	}
	opts := options(mc.Options)

	switch strings.ToLower(kind) {
	case "quote_clean":
		return NewQuoteCleanMiddleware(), nil
	case "book_clean":
		return NewBookCleanMiddleware(), nil
	case "uppercase":
		return &UpperCaseMiddleware{Field: opts.String("field", "author")}, nil
	case "strip":
		fields := opts.Strings("fields")
		if len(fields) == 0 {
			return nil, fmt.Errorf("strip requires fields")
		}
		return NewStripMiddleware(nameOr(mc.Name, "strip"), fields, opts.Strings("remove")), nil
	case "trim":
		return &TrimMiddleware{}, nil
	case "required_fields":
		return &RequiredFieldsMiddleware{Fields: opts.Strings("fields")}, nil
	case "dedup":
		return NewDedupMiddleware(opts.String("key", "")), nil
	case "field_filter":
		keep := make(map[string]bool)
		for _, f := range opts.Strings("fields") {
			keep[f] = true
		}
		return &FieldFilterMiddleware{Fields: keep}, nil
	case "default_values":
		return &DefaultValueMiddleware{Defaults: opts.StringMap("defaults")}, nil
	case "html_sanitize":
		return NewHTMLSanitizeMiddleware(), nil
	case "currency_normalize":
		return NewCurrencyNormalizeMiddleware(opts.Strings("fields")), nil
	case "field_validate":
		return NewFieldValidateMiddleware(opts.StringMap("patterns"), opts.Bool("drop_invalid"))
	default:
		return nil, fmt.Errorf("unknown pipeline stage type %q", kind)
	}
}

func nameOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// options reads loosely typed values decoded from YAML or env.
type options map[string]any

func (o options) String(key, def string) string {
	if s, ok := o[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (o options) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	}
	return false
}

func (o options) Strings(key string) []string {
	switch v := o[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

func (o options) StringMap(key string) map[string]string {
	out := make(map[string]string)
	switch v := o[key].(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]any:
		for k, s := range v {
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}
