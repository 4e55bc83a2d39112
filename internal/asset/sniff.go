package asset

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/calvinalkan/sitecms/internal/content"
)

// Extensions are the image types the ingestor knows how to verify.
var Extensions = []string{"png", "jpg", "gif", "webp", "svg"}

// NormalizeExt lowercases ext, strips a leading dot and maps the "jpeg"
// alias to "jpg".
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "jpeg" {
		return "jpg"
	}

	return ext
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", content.ErrUnsupportedAssetType, fmt.Sprintf(format, args...))
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Detect identifies the image type of payload from its leading bytes, or
// returns "" if it is none of [Extensions].
func Detect(payload []byte) string {
	switch {
	case len(payload) == 0:
		return ""
	case bytes.HasPrefix(payload, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(payload, []byte{0xff, 0xd8, 0xff}):
		return "jpg"
	case bytes.HasPrefix(payload, []byte("GIF87a")), bytes.HasPrefix(payload, []byte("GIF89a")):
		return "gif"
	case len(payload) >= 12 && string(payload[:4]) == "RIFF" && string(payload[8:12]) == "WEBP":
		return "webp"
	}

	head := payload[:min(len(payload), 4096)]
	head = bytes.TrimLeft(bytes.TrimPrefix(head, utf8BOM), " \t\r\n")
	head = bytes.ToLower(head)

	if bytes.HasPrefix(head, []byte("<?xml")) || bytes.Contains(head, []byte("<svg")) {
		return "svg"
	}

	return ""
}

var (
	blockedSVGPatterns = []string{"<!doctype", "<!entity", "javascript:", "data:text/html"}

	safeSVGTags = map[string]bool{
		"svg": true, "g": true, "path": true, "circle": true, "ellipse": true,
		"line": true, "polyline": true, "polygon": true, "rect": true,
		"text": true, "tspan": true, "defs": true, "lineargradient": true,
		"radialgradient": true, "stop": true, "title": true, "desc": true,
		"clippath": true, "mask": true, "pattern": true, "symbol": true,
		"use": true,
	}
)

// checkSVG rejects SVG documents that could run script or pull in
// external content when served from the site's origin. Only a fixed set of
// drawing tags is accepted; event handlers, inline styles and references
// other than "#fragment" links are refused.
func checkSVG(payload []byte) error {
	payload = bytes.TrimPrefix(payload, utf8BOM)

	if !utf8.Valid(payload) {
		return rejected("SVG must be valid UTF-8 text")
	}

	lowered := strings.ToLower(string(payload))
	for _, pattern := range blockedSVGPatterns {
		if strings.Contains(lowered, pattern) {
			return rejected("SVG contains blocked content %q", pattern)
		}
	}

	dec := xml.NewDecoder(bytes.NewReader(payload))
	dec.Strict = true

	depth := 0
	roots := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return rejected("SVG markup is invalid: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)

			if depth == 0 {
				roots++
				if roots > 1 || name != "svg" {
					return rejected("SVG root element is invalid")
				}
			}

			if !safeSVGTags[name] {
				return rejected("SVG tag <%s> is not allowed", name)
			}

			if err := checkSVGAttrs(t.Attr); err != nil {
				return err
			}

			depth++
		case xml.EndElement:
			depth--
		case xml.Directive:
			return rejected("SVG directives are not allowed")
		}
	}

	if roots == 0 {
		return rejected("SVG has no root element")
	}

	return nil
}

func checkSVGAttrs(attrs []xml.Attr) error {
	for _, a := range attrs {
		name := strings.ToLower(a.Name.Local)
		value := strings.TrimSpace(a.Value)
		lower := strings.ToLower(value)

		switch {
		case strings.HasPrefix(name, "on"):
			return rejected("SVG event handler attributes are not allowed")
		case name == "style":
			return rejected("inline SVG styles are not allowed")
		case strings.Contains(lower, "javascript:"), strings.Contains(lower, "data:text/html"):
			return rejected("SVG attribute %s contains an unsafe URI", name)
		case name == "href" && value != "" && !strings.HasPrefix(value, "#"):
			return rejected("SVG external references are not allowed")
		case strings.Contains(lower, "url(") && !strings.HasPrefix(lower, "url(#"):
			return rejected("SVG URL references must be internal fragment links")
		}
	}

	return nil
}
