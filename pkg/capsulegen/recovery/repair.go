package recovery

import (
	"strings"
	"unicode"
)

// preambles are chatty lead-ins models put before the payload.
// Matched case-insensitively anywhere in the text; everything up to and
// including the phrase is dropped.
var preambles = []string{
	"here is the json:",
	"here's the json:",
	"output:",
	"result:",
}

// stripCodeFences removes a markdown code fence wrapper if present.
// Handles ```json ... ```, bare ``` ... ```, and single-backtick wrapping.
// Returns the input unchanged when no fence is found.
func stripCodeFences(s string) string {
	start := strings.Index(s, "```")
	if start >= 0 {
		rest := s[start+3:]
		// Skip an optional language tag on the opening fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			tag := strings.TrimSpace(rest[:nl])
			if tag == "" || isLanguageTag(tag) {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}

	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= 2 && trimmed[0] == '`' && trimmed[len(trimmed)-1] == '`' {
		return strings.TrimSpace(strings.Trim(trimmed, "`"))
	}
	return s
}

func isLanguageTag(tag string) bool {
	for _, r := range tag {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return len(tag) <= 16
}

// balancedSpan extracts the first balanced JSON object or array from s.
// Nesting depth is tracked while correctly skipping characters inside
// quoted strings, including escape sequences.
func balancedSpan(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return "", false
	}

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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripPreamble drops a known preamble phrase and everything before it.
// Reports whether anything was stripped.
func stripPreamble(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range preambles {
		if idx := strings.Index(lower, p); idx >= 0 {
			return strings.TrimSpace(s[idx+len(p):]), true
		}
	}
	return s, false
}

// Names of textual repairs, reported in Extraction.Repairs.
const (
	repairControlChars  = "strip_control_chars"
	repairNewlines      = "escape_newlines_in_strings"
	repairSingleQuotes  = "single_to_double_quotes"
	repairUnquotedKeys  = "quote_unquoted_keys"
	repairTrailingComma = "remove_trailing_commas"
)

// repairText applies cheap structural fixes to near-JSON text.
// Returns the repaired text and the names of repairs that changed it.
func repairText(s string) (string, []string) {
	var applied []string

	if out := stripControlChars(s); out != s {
		s = out
		applied = append(applied, repairControlChars)
	}
	if out := escapeNewlinesInStrings(s); out != s {
		s = out
		applied = append(applied, repairNewlines)
	}
	if out := singleToDoubleQuotes(s); out != s {
		s = out
		applied = append(applied, repairSingleQuotes)
	}
	if out := quoteUnquotedKeys(s); out != s {
		s = out
		applied = append(applied, repairUnquotedKeys)
	}
	if out := removeTrailingCommas(s); out != s {
		s = out
		applied = append(applied, repairTrailingComma)
	}

	return s, applied
}

// stripControlChars removes non-printable control characters except \n, \r, \t.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeNewlinesInStrings replaces bare newlines inside double-quoted
// string literals with their escape sequences.
func escapeNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			}
		} else if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// singleToDoubleQuotes converts single-quoted keys and values to
// double-quoted ones. Content inside double-quoted strings is left alone;
// double quotes inside a converted span are escaped.
func singleToDoubleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	inSingle := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inDouble:
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inDouble = false
			}
			b.WriteByte(c)
		case inSingle:
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '\'':
				inSingle = false
				b.WriteByte('"')
			case c == '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		default:
			switch c {
			case '"':
				inDouble = true
				b.WriteByte(c)
			case '\'':
				inSingle = true
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// quoteUnquotedKeys wraps bare object keys in double quotes.
// A bare key is an identifier following '{' or ',' and preceding ':'.
func quoteUnquotedKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString := false
	escaped := false
	expectKey := false
	i := 0
	for i < len(s) {
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
			b.WriteByte(c)
			i++
			continue
		}
		switch {
		case c == '"':
			inString = true
			expectKey = false
			b.WriteByte(c)
			i++
		case c == '{' || c == ',':
			expectKey = true
			b.WriteByte(c)
			i++
		case expectKey && isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			// Only a key if the next non-space byte is a colon.
			k := j
			for k < len(s) && (s[k] == ' ' || s[k] == '\t') {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
			} else {
				b.WriteString(s[i:j])
			}
			expectKey = false
			i = j
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			b.WriteByte(c)
			i++
		default:
			expectKey = false
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// removeTrailingCommas drops commas that directly precede '}' or ']'.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
