package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Model output frequently wraps JSON in prose or markdown fences, and
// smaller models emit trailing commas. These helpers implement the
// structured-recovery pipeline used by every analyzer that expects JSON.

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSONObject returns the first balanced {...} substring of s, or ""
// when none exists. Braces inside JSON strings are ignored.
func ExtractJSONObject(s string) string {
	return extractBalanced(s, '{', '}')
}

// ExtractJSONArray returns the first balanced [...] substring of s.
func ExtractJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// StripTrailingCommas removes commas directly before a closing brace or
// bracket, the most common malformation in model-emitted JSON.
func StripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// DecodeLoose extracts the first JSON value (object or array, whichever
// starts first) from raw model output and unmarshals it into v, retrying
// once with trailing commas stripped.
func DecodeLoose(raw string, v any) error {
	obj := ExtractJSONObject(raw)
	arr := ExtractJSONArray(raw)
	val := obj
	if arr != "" && (obj == "" || strings.Index(raw, arr) < strings.Index(raw, obj)) {
		val = arr
	}
	if val == "" {
		val = raw
	}
	err := json.Unmarshal([]byte(val), v)
	if err == nil {
		return nil
	}
	return json.Unmarshal([]byte(StripTrailingCommas(val)), v)
}
