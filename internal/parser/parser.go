// Package parser converts raw log lines from heterogeneous sources into
// structured records with typed fields.
//
// Three formats are supported:
//   - json: the raw line is a JSON object; nested objects are flattened
//     with dot-joined keys
//   - key_value: whitespace-separated k=v tokens, with leading timestamp
//     and level tokens recognized positionally
//   - regex: a caller-supplied pattern with a capture-group field mapping
//
// Numeric-looking strings ("5000ms", "85%") are coerced to numbers in all
// formats. A record that fails to parse is never dropped: the parser
// returns a degenerate record with empty fields alongside the error, and
// downstream treats it as unclassifiable.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Format identifies the declared encoding of a raw log line.
type Format string

const (
	FormatJSON     Format = "json"
	FormatKeyValue Format = "key_value"
	FormatRegex    Format = "regex"
)

// CustomConfig carries the pattern and capture-group mapping for the
// regex format. Mapping keys are capture-group indices as decimal
// strings: "0" names the first capturing group.
type CustomConfig struct {
	Pattern      string            `json:"pattern"`
	FieldMapping map[string]string `json:"field_mapping"`
}

// LogRecord is a raw log line as submitted by a client, together with
// its origin and declared format. Immutable within a request.
type LogRecord struct {
	RawLog       string        `json:"raw_log"`
	Service      string        `json:"service"`
	Source       string        `json:"source"`
	FormatType   Format        `json:"format_type"`
	CustomConfig *CustomConfig `json:"custom_config,omitempty"`
}

// ParsedRecord is the structured form of a log line. Fields maps field
// names to typed values; duplicate names resolve last-wins.
type ParsedRecord struct {
	RawLog    string
	Service   string
	Source    string
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]Value
}

// NumericFields returns the names of all numeric fields in the record.
func (r *ParsedRecord) NumericFields() []string {
	names := make([]string, 0, len(r.Fields))
	for name, v := range r.Fields {
		if v.Kind == KindNumber {
			names = append(names, name)
		}
	}
	return names
}

var (
	// ErrMalformedInput marks a format-specific parse failure on a single
	// log line. The batch continues; the record degrades to unclassifiable.
	ErrMalformedInput = errors.New("malformed log input")

	// ErrMissingConfig marks a regex-format record submitted without a
	// pattern. Same local treatment as ErrMalformedInput.
	ErrMissingConfig = errors.New("missing custom config")
)

// Parse converts a raw log record into a structured one. On failure it
// returns the error together with a fallback record carrying only
// service, source, raw log and the current time; callers keep going.
func Parse(rec LogRecord) (ParsedRecord, error) {
	switch rec.FormatType {
	case FormatJSON:
		return parseJSON(rec)
	case FormatKeyValue:
		return parseKeyValue(rec)
	case FormatRegex:
		return parseRegex(rec)
	default:
		return fallback(rec), fmt.Errorf("%w: unsupported format %q", ErrMalformedInput, rec.FormatType)
	}
}

func fallback(rec LogRecord) ParsedRecord {
	return ParsedRecord{
		RawLog:    rec.RawLog,
		Service:   rec.Service,
		Source:    rec.Source,
		Timestamp: time.Now().UTC(),
		Fields:    map[string]Value{},
	}
}

func parseJSON(rec LogRecord) (ParsedRecord, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(rec.RawLog), &data); err != nil {
		return fallback(rec), fmt.Errorf("%w: invalid JSON: %v", ErrMalformedInput, err)
	}

	out := fallback(rec)
	if ts, ok := data["timestamp"].(string); ok {
		if t, ok := parseTimestamp(ts); ok {
			out.Timestamp = t
		}
		delete(data, "timestamp")
	}
	if level, ok := data["level"].(string); ok {
		out.Level = level
		delete(data, "level")
	}
	if msg, ok := data["message"].(string); ok {
		out.Message = msg
		delete(data, "message")
	}

	flattenInto(out.Fields, "", data)
	return out, nil
}

// flattenInto walks a decoded JSON object, joining nested keys with "."
// and coercing values. Arrays and nulls are dropped.
func flattenInto(fields map[string]Value, prefix string, data map[string]interface{}) {
	for k, v := range data {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch val := v.(type) {
		case float64:
			fields[name] = Number(val)
		case bool:
			if val {
				fields[name] = Number(1)
			} else {
				fields[name] = Number(0)
			}
		case string:
			if f, ok := coerceNumeric(val); ok {
				fields[name] = Number(f)
			} else {
				fields[name] = Text(val)
			}
		case map[string]interface{}:
			flattenInto(fields, name, val)
		}
	}
}

var levelTokens = map[string]bool{
	"DEBUG": true, "INFO": true, "WARN": true, "WARNING": true,
	"ERROR": true, "FATAL": true, "CRITICAL": true,
}

func parseKeyValue(rec LogRecord) (ParsedRecord, error) {
	out := fallback(rec)

	sawPair := false
	for _, tok := range strings.Fields(rec.RawLog) {
		key, val, isPair := strings.Cut(tok, "=")
		if isPair && key != "" {
			sawPair = true
			val = strings.Trim(val, `"`)
			switch key {
			case "timestamp":
				if t, ok := parseTimestamp(val); ok {
					out.Timestamp = t
				}
			case "level":
				out.Level = val
			case "message":
				out.Message = val
			default:
				if f, ok := coerceNumeric(val); ok {
					out.Fields[key] = Number(f)
				} else {
					out.Fields[key] = Text(val)
				}
			}
			continue
		}
		// Positional tokens ahead of the first k=v pair: an ISO-8601
		// timestamp or a bare uppercase level.
		if sawPair {
			continue
		}
		if t, ok := parseTimestamp(tok); ok {
			out.Timestamp = t
		} else if levelTokens[tok] {
			out.Level = tok
		}
	}
	return out, nil
}

func parseRegex(rec LogRecord) (ParsedRecord, error) {
	cfg := rec.CustomConfig
	if cfg == nil || cfg.Pattern == "" {
		return fallback(rec), fmt.Errorf("%w: regex format requires custom_config.pattern", ErrMissingConfig)
	}

	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return fallback(rec), fmt.Errorf("%w: invalid pattern: %v", ErrMalformedInput, err)
	}

	m := re.FindStringSubmatch(rec.RawLog)
	if m == nil {
		return fallback(rec), fmt.Errorf("%w: pattern did not match", ErrMalformedInput)
	}

	out := fallback(rec)
	groups := m[1:]
	for i, captured := range groups {
		name, ok := cfg.FieldMapping[strconv.Itoa(i)]
		if !ok {
			continue
		}
		switch name {
		case "timestamp":
			if t, ok := parseTimestamp(captured); ok {
				out.Timestamp = t
			}
		case "level":
			out.Level = captured
		case "message":
			out.Message = captured
		default:
			if f, ok := coerceNumeric(captured); ok {
				out.Fields[name] = Number(f)
			} else {
				out.Fields[name] = Text(captured)
			}
		}
	}
	return out, nil
}

// timestampLayouts covers the formats log producers actually emit.
// Layouts without a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
