package literal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/sitecms/internal/content"
)

// LocateCollection finds the body of the collection literal declared as
// "name = [" at the start of a line and returns the span between its
// brackets (exclusive of both).
//
// Declarations inside string literals and comments are ignored. A type
// annotation ("name: list = [") is accepted. No declaration yields
// [content.ErrCollectionNotFound]; more than one yields
// [content.ErrAmbiguousCollection].
func LocateCollection(doc, name string) (Span, error) {
	if name == "" {
		return Span{}, fmt.Errorf("%w: empty collection name", content.ErrCollectionNotFound)
	}

	var opens []int

	for i := 0; i < len(doc); {
		c := doc[i]

		switch {
		case isQuote(c):
			next, err := skipString(doc, i)
			if err != nil {
				return Span{}, fmt.Errorf("scanning for %s: %w", name, err)
			}

			i = next

			continue
		case c == '#':
			i = skipComment(doc, i)

			continue
		case (i == 0 || doc[i-1] == '\n') && strings.HasPrefix(doc[i:], name):
			if open, ok := matchDeclaration(doc, i+len(name)); ok {
				opens = append(opens, open)
			}
		}

		i++
	}

	switch len(opens) {
	case 0:
		return Span{}, fmt.Errorf("%w: %s", content.ErrCollectionNotFound, name)
	case 1:
	default:
		lines := make([]string, len(opens))
		for i, open := range opens {
			lines[i] = strconv.Itoa(strings.Count(doc[:open], "\n") + 1)
		}

		return Span{}, fmt.Errorf("%w: %s (lines %s)", content.ErrAmbiguousCollection, name, strings.Join(lines, ", "))
	}

	closeIdx, err := matchBracket(doc, opens[0])
	if err != nil {
		return Span{}, fmt.Errorf("collection %s: %w", name, err)
	}

	return Span{Start: opens[0] + 1, End: closeIdx}, nil
}

// matchDeclaration checks that doc[i:] continues a declaration after the
// name: optional annotation, "=", then "[". Returns the index of "[".
func matchDeclaration(doc string, i int) (int, bool) {
	if i < len(doc) && isIdentByte(doc[i]) {
		return 0, false
	}

	i = skipBlanks(doc, i)

	if i < len(doc) && doc[i] == ':' {
		eq := strings.IndexByte(doc[i:], '=')
		nl := strings.IndexByte(doc[i:], '\n')

		if eq < 0 || nl >= 0 && nl < eq {
			return 0, false
		}

		i += eq
	}

	if i >= len(doc) || doc[i] != '=' || i+1 < len(doc) && doc[i+1] == '=' {
		return 0, false
	}

	i = skipBlanks(doc, i+1)

	if i >= len(doc) || doc[i] != '[' {
		return 0, false
	}

	return i, true
}

func skipBlanks(doc string, i int) int {
	for i < len(doc) && (doc[i] == ' ' || doc[i] == '\t') {
		i++
	}

	return i
}

// Records returns the spans of the record blocks ("{...}") at the top level
// of region, in document order.
//
// Between records only whitespace, comments and single commas are allowed;
// a trailing comma after the last record is tolerated. Anything else, two
// records without a separating comma, or doubled commas is
// [content.ErrMalformedCollection].
func Records(doc string, region Span) ([]Span, error) {
	var spans []Span

	commaPending := false

	for i := region.Start; ; {
		i = skipTrivia(doc, i, region.End)
		if i >= region.End {
			return spans, nil
		}

		switch doc[i] {
		case ',':
			if commaPending || len(spans) == 0 {
				return nil, malformed(i, "unexpected comma")
			}

			commaPending = true
			i++
		case '{':
			if len(spans) > 0 && !commaPending {
				return nil, malformed(i, "missing comma between records")
			}

			closeIdx, err := matchBracket(doc, i)
			if err != nil {
				return nil, err
			}

			if closeIdx >= region.End {
				return nil, malformed(i, "record runs past end of collection")
			}

			spans = append(spans, Span{Start: i, End: closeIdx + 1})
			commaPending = false
			i = closeIdx + 1
		default:
			return nil, malformed(i, "unexpected %q in collection, want a record", doc[i])
		}
	}
}

// LocateRecord returns the span of the first record in region whose idField
// equals idValue.
//
// idValue is an int64 or a string. Integers match when the literal token is
// exactly the decimal rendering of the id; strings match on decoded value.
// A record without idField never matches. No match yields
// [content.ErrRecordNotFound].
func LocateRecord(doc string, region Span, idField string, idValue any) (Span, error) {
	spans, err := Records(doc, region)
	if err != nil {
		return Span{}, err
	}

	for _, span := range spans {
		ok, err := recordHasID(doc, span, idField, idValue)
		if err != nil {
			return Span{}, err
		}

		if ok {
			return span, nil
		}
	}

	return Span{}, fmt.Errorf("%w: %s=%v", content.ErrRecordNotFound, idField, idValue)
}

func recordHasID(doc string, span Span, idField string, idValue any) (bool, error) {
	entries, err := scanEntries(doc, span)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if e.key != idField {
			continue
		}

		return idMatches(e.raw, idValue)
	}

	return false, nil
}

func idMatches(raw string, idValue any) (bool, error) {
	switch want := idValue.(type) {
	case int64:
		return raw == strconv.FormatInt(want, 10), nil
	case int:
		return raw == strconv.Itoa(want), nil
	case string:
		if raw == "" || !isQuote(raw[0]) {
			return false, nil
		}

		got, err := decodeString(raw)
		if err != nil {
			return false, err
		}

		return got == want, nil
	}

	return false, fmt.Errorf("unsupported id type %T", idValue)
}

// CommaAfter returns the index of the comma separating the record at span
// from whatever follows it in region. Only whitespace and comments may sit
// between the record and the comma.
func CommaAfter(doc string, region, span Span) (int, bool) {
	i := skipTrivia(doc, span.End, region.End)
	if i < region.End && doc[i] == ',' {
		return i, true
	}

	return 0, false
}

// LineTail returns the index of the line break ("\n" or "\r\n") ending the
// line that contains pos, provided only blanks and a comment follow pos on
// that line and the break lies before limit. Otherwise it returns pos.
func LineTail(doc string, pos, limit int) int {
	i := skipBlanks(doc, pos)
	if i < limit && doc[i] == '#' {
		i = skipComment(doc, i)
		// a comment runs up to the '\n' and swallows a '\r' before it
		if i < limit && doc[i] == '\n' && doc[i-1] == '\r' {
			return i - 1
		}
	}

	if i+1 < limit && doc[i] == '\r' && doc[i+1] == '\n' {
		return i
	}

	if i < limit && doc[i] == '\n' {
		return i
	}

	return pos
}

// LineEnding returns the line break the collection at region is written
// with: the first one inside it, else the first one in doc, else "\n".
func LineEnding(doc string, region Span) string {
	i := strings.IndexByte(doc[region.Start:region.End], '\n')
	if i >= 0 {
		i += region.Start
	} else {
		i = strings.IndexByte(doc, '\n')
	}

	if i > 0 && doc[i-1] == '\r' {
		return "\r\n"
	}

	return "\n"
}
