package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// KindUnparseable marks a model response no decode strategy could handle
const KindUnparseable = "unparseable"

// ParseError reports a model response that contained no structured data
type ParseError struct {
	Excerpt string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model response: %q", e.Excerpt)
}

// decodeFunc is one strategy for pulling a JSON object out of raw model
// output. Strategies are tried in order until one succeeds.
type decodeFunc func(text string) (map[string]any, error)

var decoders = []decodeFunc{decodeStrict, decodeSalvage}

// Normalize parses raw model output into a Record. Vision models often
// wrap their answer in prose or markdown fences, so a strict decode is
// followed by a salvage decode that extracts the largest well-formed JSON
// object embedded in the text. Missing or null fields become empty
// strings; the whole record only fails when no JSON object can be found.
func Normalize(raw string, schema Schema) (*Record, error) {
	text := stripFences(raw)

	var fields map[string]any
	var err error
	for _, decode := range decoders {
		fields, err = decode(text)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, &ParseError{Excerpt: excerpt(raw)}
	}

	// Tolerate key casing drift ("Name" vs "name")
	lowered := make(map[string]any, len(fields))
	for k, v := range fields {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}

	rec := &Record{}
	for _, f := range schema {
		rec.set(f.Key, cleanValue(lowered[f.Key]))
	}
	return rec, nil
}

// stripFences removes markdown code blocks around the response
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// decodeStrict decodes the whole text as a single JSON object
func decodeStrict(text string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	// A literal "null" decodes into a nil map without error
	if m == nil {
		return nil, errors.New("response is not a JSON object")
	}
	return m, nil
}

// decodeSalvage locates the largest balanced, well-formed JSON object
// substring and decodes that. This handles responses where the model
// surrounds its answer with commentary.
func decodeSalvage(text string) (map[string]any, error) {
	best := ""
	for start := 0; start < len(text); {
		idx := strings.IndexByte(text[start:], '{')
		if idx < 0 {
			break
		}
		pos := start + idx
		if end, ok := matchBrace(text, pos); ok {
			candidate := text[pos : end+1]
			if len(candidate) > len(best) && json.Valid([]byte(candidate)) {
				best = candidate
			}
		}
		start = pos + 1
	}
	if best == "" {
		return nil, errors.New("no JSON object found in response")
	}
	return decodeStrict(best)
}

// matchBrace finds the index of the brace closing the object opened at
// start, honoring strings and escapes
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanValue coerces a decoded JSON value to a trimmed string. Internal
// whitespace runs (newlines in multi-line addresses in particular) are
// collapsed to single spaces so values stay one line in CSV output.
func cleanValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return collapseWhitespace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		// Nested structures are rare but possible; keep them as JSON text
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return collapseWhitespace(string(data))
	}
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

const maxExcerptLen = 120

// excerpt trims raw text for inclusion in an error message, cutting at a
// rune boundary so the excerpt stays valid UTF-8
func excerpt(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= maxExcerptLen {
		return raw
	}
	cut := maxExcerptLen
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut] + "..."
}
