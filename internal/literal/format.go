// Package literal reads and writes record collections embedded in a host
// document as list-of-dict literals:
//
//	PROJECTS = [
//	    {
//	        'id': 1,
//	        'title': 'Bob\'s Project',
//	        'github': None,
//	        'technologies': ['Go', 'SQLite'],
//	        'featured': True
//	    },
//	    {
//	        ...
//	    }
//	]
//
// It is not a parser for the host language. The scanner only understands
// string literals (single, double and triple quoted), comments and bracket
// nesting, which is enough to find a collection by name, split it into
// record blocks, and find a record by id without being fooled by brackets
// or quotes inside field values.
package literal

import (
	"strconv"
	"strings"

	"github.com/calvinalkan/sitecms/internal/content"
)

const (
	noneLiteral  = "None"
	trueLiteral  = "True"
	falseLiteral = "False"

	// DefaultIndent is the indentation of record blocks inside a collection
	// and of fields inside a record block.
	DefaultIndent = "    "
)

// Options controls block layout.
type Options struct {
	// Base is the indentation of the line holding the record's opening
	// brace. The returned block does not start with it; the closing brace
	// line does.
	Base string
	// Step is the additional indentation of each field line.
	Step string
}

// DefaultOptions returns the layout used for collections with no records
// to copy indentation from.
func DefaultOptions() Options {
	return Options{Base: DefaultIndent, Step: DefaultIndent}
}

// Format validates rec against schema and renders it as one record block,
// starting at "{" and ending at "}". Fields appear in schema order.
//
// Strings are single-quoted with backslash, quote and control characters
// escaped, so every string fits on one line. Absent optional strings render
// as None, lists as ['a', 'b'] (an empty list as []), booleans as True and
// False. Floats always carry a decimal point or exponent so they parse back
// as floats.
func Format(schema *content.Schema, rec content.Record, opts Options) (string, error) {
	valid, err := schema.Validate(rec)
	if err != nil {
		return "", err
	}

	if opts.Step == "" {
		opts.Step = DefaultIndent
	}

	var b strings.Builder

	b.WriteString("{\n")

	for i, f := range schema.Fields {
		b.WriteString(opts.Base)
		b.WriteString(opts.Step)
		writeString(&b, f.Name)
		b.WriteString(": ")
		writeValue(&b, valid[f.Name])

		if i < len(schema.Fields)-1 {
			b.WriteByte(',')
		}

		b.WriteByte('\n')
	}

	b.WriteString(opts.Base)
	b.WriteString("}")

	return b.String(), nil
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString(noneLiteral)
	case string:
		writeString(b, val)
	case []string:
		b.WriteByte('[')

		for i, item := range val {
			if i > 0 {
				b.WriteString(", ")
			}

			writeString(b, item)
		}

		b.WriteByte(']')
	case bool:
		if val {
			b.WriteString(trueLiteral)
		} else {
			b.WriteString(falseLiteral)
		}
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		b.WriteString(formatFloat(val))
	}
}

// formatFloat renders f so that it reads back as a float, not an int.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}

	return s
}

const hexDigits = "0123456789abcdef"

// writeString writes s as a single-quoted literal.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('\'')

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				b.WriteString(`\x`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])

				continue
			}

			b.WriteByte(c)
		}
	}

	b.WriteByte('\'')
}

// Quote renders s as a string literal of the host syntax.
func Quote(s string) string {
	var b strings.Builder

	writeString(&b, s)

	return b.String()
}

// LayoutOf returns the indentation used by the existing record at span, so
// new blocks can match their neighbours.
func LayoutOf(doc string, span Span) Options {
	opts := Options{Base: lineIndent(doc, span.Start), Step: DefaultIndent}

	nl := strings.IndexByte(doc[span.Start:span.End], '\n')
	if nl < 0 {
		return opts
	}

	lineStart := span.Start + nl + 1

	end := lineStart
	for end < span.End && (doc[end] == ' ' || doc[end] == '\t') {
		end++
	}

	if step, ok := strings.CutPrefix(doc[lineStart:end], opts.Base); ok && step != "" {
		opts.Step = step
	}

	return opts
}
