package store

import (
	"sort"
	"strconv"
)

// Document is one raw record as read from a collection. Field shapes
// vary between collections that evolved independently, so all typed
// access goes through the helpers below, which default rather than
// panic on unexpected shapes.
type Document map[string]any

// ID returns the document id, reading the conventional "id" field.
func (d Document) ID() string {
	return d.String("id")
}

// String returns the named field as a string, or "" when the field is
// absent or not string-shaped. Numeric values are formatted, since some
// legacy records store ids as numbers.
func (d Document) String(field string) string {
	switch v := d[field].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// Map returns the named field as a nested document, or nil.
func (d Document) Map(field string) Document {
	switch v := d[field].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	}
	return nil
}

// Has reports whether the field is present with a non-empty value.
func (d Document) Has(field string) bool {
	v, ok := d[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

// Clone returns a shallow copy. Enrichment merges into a clone so a
// cached source document is never mutated.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// OrderedFields flattens the named field into ordered name/value pairs.
// Newer records store result panels as an array of {name,value} maps,
// which preserves entry order; legacy records store a plain map, which
// is emitted in sorted key order for determinism.
func (d Document) OrderedFields(field string) [][2]string {
	switch v := d[field].(type) {
	case []any:
		out := make([][2]string, 0, len(v))
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			entry := Document(m)
			out = append(out, [2]string{entry.String("name"), entry.String("value")})
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([][2]string, 0, len(keys))
		m := Document(v)
		for _, k := range keys {
			out = append(out, [2]string{k, m.String(k)})
		}
		return out
	}
	return nil
}
