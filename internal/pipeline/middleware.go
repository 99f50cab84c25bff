package pipeline

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// --- Content Middleware ---

// HTMLSanitizeMiddleware strips HTML tags from string fields.
type HTMLSanitizeMiddleware struct {
	stripRe *regexp.Regexp
}

func NewHTMLSanitizeMiddleware() *HTMLSanitizeMiddleware {
	return &HTMLSanitizeMiddleware{
		stripRe: regexp.MustCompile(`<[^>]*>`),
	}
}

func (m *HTMLSanitizeMiddleware) Name() string { return "html_sanitize" }

func (m *HTMLSanitizeMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, key := range rec.Keys() {
		v, _ := rec.Get(key)
		switch val := v.(type) {
		case string:
			rec.Set(key, m.clean(val))
		case []string:
			cleaned := make([]string, len(val))
			for i, s := range val {
				cleaned[i] = m.clean(s)
			}
			rec.Set(key, cleaned)
		}
	}
	return rec, nil
}

func (m *HTMLSanitizeMiddleware) clean(s string) string {
	s = m.stripRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// CurrencyNormalizeMiddleware reduces currency values to their numeric part.
type CurrencyNormalizeMiddleware struct {
	fields  []string
	stripRe *regexp.Regexp
}

func NewCurrencyNormalizeMiddleware(fields []string) *CurrencyNormalizeMiddleware {
	return &CurrencyNormalizeMiddleware{
		fields:  fields,
		stripRe: regexp.MustCompile(`[^0-9.,\-]`),
	}
}

func (m *CurrencyNormalizeMiddleware) Name() string { return "currency_normalize" }

func (m *CurrencyNormalizeMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for _, field := range m.fields {
		s := rec.GetString(field)
		if s == "" {
			continue
		}

		numeric := m.stripRe.ReplaceAllString(s, "")

		// 1.234,56 -> 1234.56 ; 1,234.56 -> 1234.56
		if strings.Contains(numeric, ",") {
			lastComma := strings.LastIndex(numeric, ",")
			lastDot := strings.LastIndex(numeric, ".")
			if lastComma > lastDot {
				numeric = strings.ReplaceAll(numeric, ".", "")
				numeric = strings.Replace(numeric, ",", ".", 1)
			} else {
				numeric = strings.ReplaceAll(numeric, ",", "")
			}
		}

		rec.Set(field, numeric)
	}
	return rec, nil
}

// FieldValidateMiddleware validates field values with regex patterns.
type FieldValidateMiddleware struct {
	validations map[string]*regexp.Regexp
	dropInvalid bool
}

func NewFieldValidateMiddleware(patterns map[string]string, dropInvalid bool) (*FieldValidateMiddleware, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for field, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid validation regex for %q: %w", field, err)
		}
		compiled[field] = re
	}
	return &FieldValidateMiddleware{
		validations: compiled,
		dropInvalid: dropInvalid,
	}, nil
}

func (m *FieldValidateMiddleware) Name() string { return "field_validate" }

func (m *FieldValidateMiddleware) Process(rec *types.Record) (*types.Record, error) {
	for field, re := range m.validations {
		s := rec.GetString(field)
		if s == "" {
			continue
		}
		if !re.MatchString(s) {
			if m.dropInvalid {
				return nil, nil
			}
			// Invalid values are blanked so the schema's field order holds.
			rec.Set(field, "")
		}
	}
	return rec, nil
}
