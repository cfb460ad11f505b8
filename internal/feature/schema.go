// Package feature projects parsed log records onto fixed-order numeric
// vectors. The ordering contract is owned by a Schema: the ordered list of
// field names bound to one trained model. Schemas are derived once per
// training run and never mutate afterward.
package feature

import (
	"sort"

	"github.com/logsentry/logsentry/internal/parser"
)

// Schema is an ordered sequence of field names. Position i of every
// vector extracted under this schema holds the value of Schema[i].
type Schema []string

// Derive builds a deterministic schema from a training batch: the sorted
// union of all numeric field names seen across the records.
func Derive(records []parser.ParsedRecord) Schema {
	seen := make(map[string]bool)
	for i := range records {
		for _, name := range records[i].NumericFields() {
			seen[name] = true
		}
	}
	schema := make(Schema, 0, len(seen))
	for name := range seen {
		schema = append(schema, name)
	}
	sort.Strings(schema)
	return schema
}

// Extract converts a parsed record into a vector aligned with the schema.
// Missing or non-numeric fields map to 0.0; fields absent from the schema
// are dropped. The result always has len(schema) entries.
func Extract(rec *parser.ParsedRecord, schema Schema) []float64 {
	vec := make([]float64, len(schema))
	for i, name := range schema {
		if v, ok := rec.Fields[name]; ok {
			if f, numeric := v.Numeric(); numeric {
				vec[i] = f
			}
		}
	}
	return vec
}

// Pairs zips a schema with a vector into a name → value map, used when
// attaching feature provenance to anomaly records.
func Pairs(schema Schema, vec []float64) map[string]float64 {
	out := make(map[string]float64, len(schema))
	for i, name := range schema {
		if i < len(vec) {
			out[name] = vec[i]
		}
	}
	return out
}
