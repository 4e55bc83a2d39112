package literal

import (
	"fmt"
	"strings"

	"github.com/calvinalkan/sitecms/internal/content"
)

// Span is a half-open byte range [Start, End) of a document.
type Span struct {
	Start int
	End   int
}

// Text returns the bytes of doc covered by s.
func (s Span) Text(doc string) string {
	return doc[s.Start:s.End]
}

func malformed(offset int, format string, args ...any) error {
	return fmt.Errorf("%w: offset %d: %s", content.ErrMalformedCollection, offset, fmt.Sprintf(format, args...))
}

func isQuote(c byte) bool {
	return c == '\'' || c == '"'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// skipString returns the index just past the string literal that starts at
// doc[i], which must be a quote. Triple-quoted strings may span lines;
// single-quoted ones may not. Backslash escapes are honoured in both.
func skipString(doc string, i int) (int, error) {
	quote := doc[i]

	if strings.HasPrefix(doc[i:], strings.Repeat(string(quote), 3)) {
		closing := strings.Repeat(string(quote), 3)

		for j := i + 3; j < len(doc); j++ {
			switch {
			case doc[j] == '\\':
				j++
			case strings.HasPrefix(doc[j:], closing):
				return j + 3, nil
			}
		}

		return 0, malformed(i, "unterminated triple-quoted string")
	}

	for j := i + 1; j < len(doc); j++ {
		switch doc[j] {
		case '\\':
			j++
		case quote:
			return j + 1, nil
		case '\n':
			return 0, malformed(i, "unterminated string")
		}
	}

	return 0, malformed(i, "unterminated string")
}

// skipComment returns the index of the newline ending the comment at doc[i],
// or len(doc).
func skipComment(doc string, i int) int {
	if nl := strings.IndexByte(doc[i:], '\n'); nl >= 0 {
		return i + nl
	}

	return len(doc)
}

// skipTrivia skips whitespace and comments starting at i, stopping at limit.
func skipTrivia(doc string, i, limit int) int {
	for i < limit {
		switch {
		case isSpace(doc[i]):
			i++
		case doc[i] == '#':
			i = skipComment(doc, i)
		default:
			return i
		}
	}

	return i
}

var closers = map[byte]byte{'[': ']', '{': '}', '(': ')'}

// matchBracket returns the index of the bracket closing the one at doc[open].
// Brackets inside string literals and comments are ignored.
func matchBracket(doc string, open int) (int, error) {
	if _, ok := closers[doc[open]]; !ok {
		return 0, malformed(open, "expected an opening bracket, got %q", doc[open])
	}

	stack := []byte{closers[doc[open]]}

	for i := open + 1; i < len(doc); {
		c := doc[i]

		switch {
		case isQuote(c):
			next, err := skipString(doc, i)
			if err != nil {
				return 0, err
			}

			i = next

			continue
		case c == '#':
			i = skipComment(doc, i)

			continue
		case c == '[' || c == '{' || c == '(':
			stack = append(stack, closers[c])
		case c == ']' || c == '}' || c == ')':
			if stack[len(stack)-1] != c {
				return 0, malformed(i, "unbalanced %q, expected %q", c, stack[len(stack)-1])
			}

			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}

		i++
	}

	return 0, malformed(open, "unclosed %q", doc[open])
}

// lineIndent returns the whitespace between the start of the line containing
// pos and pos, or "" if anything other than spaces or tabs precedes pos on
// that line.
func lineIndent(doc string, pos int) string {
	start := strings.LastIndexByte(doc[:pos], '\n') + 1

	for i := start; i < pos; i++ {
		if doc[i] != ' ' && doc[i] != '\t' {
			return ""
		}
	}

	return doc[start:pos]
}
