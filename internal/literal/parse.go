package literal

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/calvinalkan/sitecms/internal/content"
)

// entry is one "'key': value" pair of a record block. raw is the value's
// literal text, undecoded.
type entry struct {
	key    string
	raw    string
	offset int
}

// scanEntries splits the record block at span into entries without
// decoding values. Values of any shape are skipped structurally, so a
// record can be matched by id even if another field holds something the
// decoder does not support.
func scanEntries(doc string, span Span) ([]entry, error) {
	end := span.End - 1 // closing brace

	var entries []entry

	i := span.Start + 1

	for {
		i = skipTrivia(doc, i, end)
		if i >= end {
			return entries, nil
		}

		if !isQuote(doc[i]) {
			return nil, malformed(i, "record key must be a string literal")
		}

		keyEnd, err := skipString(doc, i)
		if err != nil {
			return nil, err
		}

		key, err := decodeString(doc[i:keyEnd])
		if err != nil {
			return nil, err
		}

		i = skipTrivia(doc, keyEnd, end)
		if i >= end || doc[i] != ':' {
			return nil, malformed(i, "expected ':' after key %q", key)
		}

		valStart := skipTrivia(doc, i+1, end)

		valEnd, err := skipValue(doc, valStart, end)
		if err != nil {
			return nil, err
		}

		raw := strings.TrimRight(doc[valStart:valEnd], " \t\r\n")
		if raw == "" {
			return nil, malformed(valStart, "missing value for key %q", key)
		}

		entries = append(entries, entry{key: key, raw: raw, offset: valStart})

		i = skipTrivia(doc, valEnd, end)
		if i >= end {
			return entries, nil
		}

		if doc[i] != ',' {
			return nil, malformed(i, "expected ',' or '}' after value of %q", key)
		}

		i++
	}
}

// skipValue returns the index just past the value starting at i: a string,
// a bracketed expression, or a bare token running up to the next top-level
// ',' or the record end.
func skipValue(doc string, i, end int) (int, error) {
	if i >= end {
		return i, nil
	}

	switch c := doc[i]; {
	case isQuote(c):
		return skipString(doc, i)
	case c == '[' || c == '{' || c == '(':
		closeIdx, err := matchBracket(doc, i)
		if err != nil {
			return 0, err
		}

		return closeIdx + 1, nil
	}

	j := i
	for j < end && doc[j] != ',' && doc[j] != '#' && doc[j] != '\n' {
		if isQuote(doc[j]) || closers[doc[j]] != 0 {
			return 0, malformed(j, "unsupported expression in record value")
		}

		j++
	}

	return j, nil
}

var escapeWidth = map[byte]int{'x': 2, 'u': 4, 'U': 8}

// decodeString decodes a quoted literal produced by [Format] or written by
// hand in the same dialect.
func decodeString(raw string) (string, error) {
	if len(raw) < 2 || !isQuote(raw[0]) || raw[len(raw)-1] != raw[0] {
		return "", fmt.Errorf("%w: not a string literal: %s", content.ErrMalformedCollection, raw)
	}

	body := raw[1 : len(raw)-1]
	if len(raw) >= 6 && strings.HasPrefix(raw, strings.Repeat(raw[:1], 3)) {
		body = raw[3 : len(raw)-3]
	}

	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}

	var b strings.Builder

	b.Grow(len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)

			continue
		}

		i++
		if i >= len(body) {
			return "", fmt.Errorf("%w: dangling backslash in %s", content.ErrMalformedCollection, raw)
		}

		switch esc := body[i]; esc {
		case '\\', '\'', '"':
			b.WriteByte(esc)
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case '\n':
			// line continuation
		case 'x', 'u', 'U':
			width := escapeWidth[esc]
			if i+width >= len(body) {
				return "", fmt.Errorf("%w: short \\%c escape in %s", content.ErrMalformedCollection, esc, raw)
			}

			code, err := strconv.ParseUint(body[i+1:i+1+width], 16, 32)
			if err != nil || !utf8.ValidRune(rune(code)) {
				return "", fmt.Errorf("%w: bad \\%c escape in %s", content.ErrMalformedCollection, esc, raw)
			}

			b.WriteRune(rune(code))

			i += width
		default:
			// Unknown escapes are kept verbatim, as Python does.
			b.WriteByte('\\')
			b.WriteByte(esc)
		}
	}

	return b.String(), nil
}

// decodeValue converts the raw literal of a field into the Go value the
// field's type expects.
func decodeValue(f content.Field, raw string) (any, error) {
	bad := func(format string, args ...any) error {
		return &content.FieldError{Field: f.Name, Reason: fmt.Sprintf(format, args...)}
	}

	switch f.Type {
	case content.TypeString:
		if !isQuote(raw[0]) {
			return nil, bad("want string literal, got %s", raw)
		}

		return decodeString(raw)

	case content.TypeOptionalString:
		if raw == noneLiteral {
			return nil, nil
		}

		if !isQuote(raw[0]) {
			return nil, bad("want string literal or %s, got %s", noneLiteral, raw)
		}

		return decodeString(raw)

	case content.TypeStringList:
		return decodeList(raw, bad)

	case content.TypeBool:
		switch raw {
		case trueLiteral:
			return true, nil
		case falseLiteral:
			return false, nil
		}

		return nil, bad("want %s or %s, got %s", trueLiteral, falseLiteral, raw)

	case content.TypeNumber:
		return decodeNumber(raw, bad)
	}

	return nil, bad("unsupported field type %s", f.Type)
}

func decodeList(raw string, bad func(string, ...any) error) ([]string, error) {
	if raw[0] != '[' || raw[len(raw)-1] != ']' {
		return nil, bad("want list literal, got %s", raw)
	}

	items := []string{}

	end := len(raw) - 1
	i := 1

	for {
		i = skipTrivia(raw, i, end)
		if i >= end {
			return items, nil
		}

		if !isQuote(raw[i]) {
			return nil, bad("list items must be strings, got %q", raw[i:end])
		}

		next, err := skipString(raw, i)
		if err != nil {
			return nil, err
		}

		item, err := decodeString(raw[i:next])
		if err != nil {
			return nil, err
		}

		items = append(items, item)

		i = skipTrivia(raw, next, end)
		if i >= end {
			return items, nil
		}

		if raw[i] != ',' {
			return nil, bad("expected ',' in list at %q", raw[i:end])
		}

		i++
	}
}

func decodeNumber(raw string, bad func(string, ...any) error) (any, error) {
	token := strings.ReplaceAll(raw, "_", "")

	if strings.ContainsAny(token, ".eE") {
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, bad("not a number: %s", raw)
		}

		return f, nil
	}

	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return nil, bad("not an integer: %s", raw)
	}

	return n, nil
}

// ParseRecord decodes the record block at span into a validated record.
//
// Every key must be a field of schema; missing optional fields take their
// defaults. It is the inverse of [Format].
func ParseRecord(schema *content.Schema, doc string, span Span) (content.Record, error) {
	entries, err := scanEntries(doc, span)
	if err != nil {
		return nil, err
	}

	rec := make(content.Record, len(entries))

	for _, e := range entries {
		f, ok := schema.Field(e.key)
		if !ok {
			return nil, fmt.Errorf("record at offset %d: %w", span.Start, &content.FieldError{Field: e.key, Reason: "unknown field for kind " + string(schema.Kind)})
		}

		if _, dup := rec[e.key]; dup {
			return nil, malformed(e.offset, "key %q repeated", e.key)
		}

		v, err := decodeValue(f, e.raw)
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", span.Start, err)
		}

		rec[e.key] = v
	}

	out, err := schema.Validate(rec)
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", span.Start, err)
	}

	return out, nil
}

// ParseBlock parses a standalone record block such as the output of
// [Format].
func ParseBlock(schema *content.Schema, block string) (content.Record, error) {
	start := strings.IndexByte(block, '{')
	if start < 0 {
		return nil, malformed(0, "no record block")
	}

	closeIdx, err := matchBracket(block, start)
	if err != nil {
		return nil, err
	}

	return ParseRecord(schema, block, Span{Start: start, End: closeIdx + 1})
}
