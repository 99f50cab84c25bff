package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is a single scraped data record. Fields keep the order in which
// they were first set, which for extracted records is the schema order.
type Record struct {
	// Schema names the record's shape (e.g. "quote", "book").
	Schema string

	// URL is the source page URL this record was extracted from.
	URL string

	// SpiderName identifies which spider produced this record.
	SpiderName string

	// Timestamp is when this record was created.
	Timestamp time.Time

	keys   []string
	fields map[string]any
}

// NewRecord creates an empty Record of the given schema.
func NewRecord(schema, sourceURL string) *Record {
	return &Record{
		Schema:    schema,
		URL:       sourceURL,
		Timestamp: time.Now(),
		fields:    make(map[string]any),
	}
}

// Set sets a field value. Values are normally string or []string.
func (r *Record) Set(key string, value any) {
	if _, ok := r.fields[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.fields[key] = value
}

// Get retrieves a field value.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// GetString retrieves a field value as a string.
func (r *Record) GetString(key string) string {
	s, _ := r.fields[key].(string)
	return s
}

// GetStrings retrieves a multi-valued field. A single string is returned
// as a one-element slice.
func (r *Record) GetStrings(key string) []string {
	switch v := r.fields[key].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return nil
	}
}

// Has returns true if the field exists.
func (r *Record) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Delete removes a field.
func (r *Record) Delete(key string) {
	if _, ok := r.fields[key]; !ok {
		return
	}
	delete(r.fields, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the fields as a single JSON object in field order.
// HTML characters are not escaped so text survives verbatim.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encodeValue(&buf, r.fields[k]); err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// ToFlatMap returns a flat map suitable for CSV export. Multi-valued
// fields are joined with commas.
func (r *Record) ToFlatMap() map[string]string {
	flat := make(map[string]string, len(r.keys))
	for _, k := range r.keys {
		switch val := r.fields[k].(type) {
		case string:
			flat[k] = val
		case []string:
			flat[k] = joinValues(val)
		default:
			b, _ := json.Marshal(val)
			flat[k] = string(b)
		}
	}
	return flat
}

func joinValues(vals []string) string {
	var buf bytes.Buffer
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(v)
	}
	return buf.String()
}

// Clone creates a copy of the record. Slice values are copied too.
func (r *Record) Clone() *Record {
	clone := &Record{
		Schema:     r.Schema,
		URL:        r.URL,
		SpiderName: r.SpiderName,
		Timestamp:  r.Timestamp,
		keys:       append([]string(nil), r.keys...),
		fields:     make(map[string]any, len(r.fields)),
	}
	for k, v := range r.fields {
		if s, ok := v.([]string); ok {
			v = append([]string(nil), s...)
		}
		clone.fields[k] = v
	}
	return clone
}

// Schema declares the fixed, ordered field set of a record type.
type Schema struct {
	Name   string   `mapstructure:"name"   yaml:"name"`
	Fields []string `mapstructure:"fields" yaml:"fields"`
}

// Built-in schemas.
var (
	QuoteSchema = Schema{Name: "quote", Fields: []string{"author", "text", "tags"}}
	BookSchema  = Schema{Name: "book", Fields: []string{"title", "price"}}
)

// HasField reports whether the schema declares the field.
func (s Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// NewRecord creates an empty record of this schema.
func (s Schema) NewRecord(sourceURL string) *Record {
	return NewRecord(s.Name, sourceURL)
}

// Validate checks that every field of rec is declared by the schema.
func (s Schema) Validate(rec *Record) error {
	for _, k := range rec.keys {
		if !s.HasField(k) {
			return fmt.Errorf("%w: %q not in schema %q", ErrUnknownField, k, s.Name)
		}
	}
	return nil
}
