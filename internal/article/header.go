package article

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/sitecms/internal/content"
)

// ErrMalformedArticle reports an article file whose header block cannot be
// read.
var ErrMalformedArticle = errors.New("malformed article file")

const (
	fence     = "---"
	listSep   = ", "
	maxHeader = 200 // lines
)

// render builds the file content for rec and body:
//
//	---
//	title: Old Title
//	tags: go, cms
//	published: true
//	---
//
//	body...
//
// Keys appear in schema order. Absent optional strings are omitted. The
// body is written verbatim after one blank line.
func render(schema *content.Schema, rec content.Record, body string) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(fence + "\n")

	for _, f := range schema.Fields {
		v := rec[f.Name]
		if v == nil {
			continue
		}

		text, err := headerValue(f, v)
		if err != nil {
			return nil, err
		}

		b.WriteString(f.Name)
		b.WriteByte(':')

		if text != "" {
			b.WriteByte(' ')
			b.WriteString(text)
		}

		b.WriteByte('\n')
	}

	b.WriteString(fence + "\n\n")
	b.WriteString(body)

	return b.Bytes(), nil
}

func headerValue(f content.Field, v any) (string, error) {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, "\r\n") {
			return "", &content.FieldError{Field: f.Name, Reason: "header values must be a single line"}
		}

		return strings.TrimSpace(val), nil
	case []string:
		for _, item := range val {
			if strings.ContainsAny(item, ",\r\n") {
				return "", &content.FieldError{Field: f.Name, Reason: fmt.Sprintf("list item %q may not contain commas or newlines", item)}
			}
		}

		return strings.Join(val, listSep), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	}

	return "", &content.FieldError{Field: f.Name, Reason: fmt.Sprintf("cannot store %T in a header", v)}
}

func malformedAt(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformedArticle, line, fmt.Sprintf(format, args...))
}

// parse splits data into a validated record and the body. It is the
// inverse of render.
func parse(schema *content.Schema, data []byte) (content.Record, string, error) {
	text := string(data)

	first, rest, ok := strings.Cut(text, "\n")
	if !ok || strings.TrimRight(first, "\r") != fence {
		return nil, "", malformedAt(1, "missing opening %s", fence)
	}

	rec := content.Record{}
	line := 1

	for {
		line++
		if line > maxHeader {
			return nil, "", malformedAt(line, "header longer than %d lines", maxHeader)
		}

		var raw string

		raw, rest, ok = strings.Cut(rest, "\n")
		if !ok && raw == "" {
			return nil, "", malformedAt(line, "missing closing %s", fence)
		}

		raw = strings.TrimRight(raw, "\r")
		if raw == fence {
			break
		}

		if strings.TrimSpace(raw) == "" {
			continue
		}

		key, value, found := strings.Cut(raw, ":")
		if !found {
			return nil, "", malformedAt(line, "want key: value, got %q", raw)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if _, dup := rec[key]; dup {
			return nil, "", malformedAt(line, "key %q repeated", key)
		}

		decoded, err := decodeHeaderValue(schema, key, value)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", line, err)
		}

		rec[key] = decoded

		if !ok {
			return nil, "", malformedAt(line, "missing closing %s", fence)
		}
	}

	// One blank line separates header and body.
	body := strings.TrimPrefix(strings.TrimPrefix(rest, "\r"), "\n")

	valid, err := schema.Validate(rec)
	if err != nil {
		return nil, "", err
	}

	return valid, body, nil
}

func decodeHeaderValue(schema *content.Schema, key, value string) (any, error) {
	f, ok := schema.Field(key)
	if !ok {
		// Validate reports unknown keys; the derived id is tolerated there.
		return value, nil
	}

	switch f.Type {
	case content.TypeString, content.TypeOptionalString:
		return value, nil
	case content.TypeStringList:
		items := []string{}

		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}

		return items, nil
	case content.TypeBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, &content.FieldError{Field: key, Reason: fmt.Sprintf("want true or false, got %q", value)}
		}

		return b, nil
	case content.TypeNumber:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n, nil
		}

		fl, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, &content.FieldError{Field: key, Reason: fmt.Sprintf("not a number: %q", value)}
		}

		return fl, nil
	}

	return nil, &content.FieldError{Field: key, Reason: "unsupported field type " + f.Type.String()}
}
