package article

import (
	"strings"

	"github.com/calvinalkan/sitecms/internal/content"
)

// Slug derives the file name stem of an article from its title: lowercase
// ASCII letters and digits, every other run of characters collapsed to a
// single '-', no leading or trailing '-'.
//
// A title without any letter or digit has no slug; that is a schema
// violation on "title".
func Slug(title string) (string, error) {
	var b strings.Builder

	pendingDash := false

	for _, r := range strings.ToLower(title) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}

			pendingDash = false

			b.WriteRune(r)

			continue
		}

		pendingDash = true
	}

	if b.Len() == 0 {
		return "", &content.FieldError{Field: "title", Reason: "no letters or digits to build a slug from"}
	}

	return b.String(), nil
}

// validSlug reports whether s could have been produced by [Slug]. Slugs
// coming from callers are checked with it before they are joined into a
// path.
func validSlug(s string) bool {
	if s == "" || s[0] == '-' || s[len(s)-1] == '-' || strings.Contains(s, "--") {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}

	return true
}
