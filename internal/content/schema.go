// Package content defines the record schemas of the site's content kinds and
// the error kinds every store reports.
//
// A [Schema] is static data: the ordered field list of one kind, each
// field's type, and which field identifies a record. A [Record] is a plain
// map whose values are restricted to a closed set of Go types; use
// [Schema.Validate] at the boundary to turn caller input into a record that
// the formatter and stores can trust.
package content

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies a content category.
type Kind string

// Built-in content kinds.
const (
	KindProject Kind = "project"
	KindProduct Kind = "product"
	KindRPi     Kind = "rpi"
	KindArticle Kind = "article"
)

// FieldType is the closed set of value shapes a field can hold.
type FieldType uint8

// Field types.
const (
	TypeString FieldType = iota + 1
	TypeOptionalString
	TypeStringList
	TypeBool
	TypeNumber
)

var fieldTypeNames = map[FieldType]string{
	TypeString:         "string",
	TypeOptionalString: "optional_string",
	TypeStringList:     "string_list",
	TypeBool:           "bool",
	TypeNumber:         "number",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}

	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// Storage says where records of a kind live.
type Storage uint8

// Storage backends.
const (
	// StorageLiteral records live as entries of a collection literal in the
	// host document.
	StorageLiteral Storage = iota + 1
	// StorageFile records live as one header+body file each.
	StorageFile
)

// Field describes one field of a schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema is the static definition of one content kind.
type Schema struct {
	Kind Kind
	// Collection is the literal name in the host document (StorageLiteral only).
	Collection string
	Storage    Storage
	Fields     []Field
	// IDField names the identifying field. For StorageLiteral it is a
	// declared integer field. For StorageFile it is derived (the slug) and
	// is not part of Fields.
	IDField string
}

// Record maps field names to values. Values are one of: string, nil (absent
// optional string), []string, bool, int64, float64.
type Record map[string]any

// Clone returns a copy of r whose list values do not alias r's.
func (r Record) Clone() Record {
	out := make(Record, len(r))

	for k, v := range r {
		if list, ok := v.([]string); ok {
			v = slices.Clone(list)
		}

		out[k] = v
	}

	return out
}

// Field returns the field definition with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// FieldNames returns the field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}

	return names
}

// ID returns the identifying value of rec: an int64 for literal kinds, a
// string for file kinds.
func (s *Schema) ID(rec Record) (any, bool) {
	v, ok := rec[s.IDField]
	if !ok || v == nil {
		return nil, false
	}

	return v, true
}

// ParseID converts an id given as text (CLI argument, form value) to the
// type the kind uses.
func (s *Schema) ParseID(raw string) (any, error) {
	if s.Storage == StorageFile {
		if raw == "" {
			return nil, fieldErr(s.IDField, "empty")
		}

		return raw, nil
	}

	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fieldErr(s.IDField, "not an integer: %q", raw)
	}

	return id, nil
}

// Validate checks rec against the schema and returns a normalized copy.
//
// Normalization: integer Go types become int64, integral floats in the id
// field become int64, json.Number is decoded, an empty or missing optional
// string becomes nil, a missing list becomes an empty list, missing
// optional bools/numbers/strings become their zero values. Every violation
// is a *FieldError naming the field.
//
// For file kinds the derived id field is dropped from the result; stores
// recompute it.
func (s *Schema) Validate(rec Record) (Record, error) {
	for key := range rec {
		if _, ok := s.Field(key); ok {
			continue
		}

		if s.Storage == StorageFile && key == s.IDField {
			continue
		}

		return nil, fieldErr(key, "unknown field for kind %s", s.Kind)
	}

	out := make(Record, len(s.Fields))

	for _, f := range s.Fields {
		raw, present := rec[f.Name]

		v, err := normalize(f, raw, present && raw != nil)
		if err != nil {
			return nil, err
		}

		if f.Name == s.IDField && s.Storage == StorageLiteral {
			v, err = normalizeID(f.Name, v)
			if err != nil {
				return nil, err
			}
		}

		out[f.Name] = v
	}

	return out, nil
}

func normalize(f Field, raw any, present bool) (any, error) {
	switch f.Type {
	case TypeString:
		if !present {
			if f.Required {
				return nil, fieldErr(f.Name, "required")
			}

			return "", nil
		}

		str, ok := raw.(string)
		if !ok {
			return nil, fieldErr(f.Name, "want string, got %T", raw)
		}

		if !utf8.ValidString(str) {
			return nil, fieldErr(f.Name, "not valid UTF-8")
		}

		if f.Required && strings.TrimSpace(str) == "" {
			return nil, fieldErr(f.Name, "required")
		}

		return str, nil

	case TypeOptionalString:
		if !present {
			return nil, nil
		}

		str, ok := raw.(string)
		if !ok {
			return nil, fieldErr(f.Name, "want string or none, got %T", raw)
		}

		if !utf8.ValidString(str) {
			return nil, fieldErr(f.Name, "not valid UTF-8")
		}

		if str == "" {
			if f.Required {
				return nil, fieldErr(f.Name, "required")
			}

			return nil, nil
		}

		return str, nil

	case TypeStringList:
		if !present {
			if f.Required {
				return nil, fieldErr(f.Name, "required")
			}

			return []string{}, nil
		}

		return normalizeList(f.Name, raw)

	case TypeBool:
		if !present {
			if f.Required {
				return nil, fieldErr(f.Name, "required")
			}

			return false, nil
		}

		b, ok := raw.(bool)
		if !ok {
			return nil, fieldErr(f.Name, "want bool, got %T", raw)
		}

		return b, nil

	case TypeNumber:
		if !present {
			if f.Required {
				return nil, fieldErr(f.Name, "required")
			}

			return int64(0), nil
		}

		return normalizeNumber(f.Name, raw)
	}

	return nil, fieldErr(f.Name, "unsupported field type %s", f.Type)
}

func normalizeList(name string, raw any) ([]string, error) {
	switch list := raw.(type) {
	case []string:
		for i, item := range list {
			if !utf8.ValidString(item) {
				return nil, fieldErr(name, "item %d: not valid UTF-8", i)
			}
		}

		return slices.Clone(list), nil
	case []any:
		out := make([]string, 0, len(list))

		for i, item := range list {
			str, ok := item.(string)
			if !ok {
				return nil, fieldErr(name, "item %d: want string, got %T", i, item)
			}

			if !utf8.ValidString(str) {
				return nil, fieldErr(name, "item %d: not valid UTF-8", i)
			}

			out = append(out, str)
		}

		return out, nil
	}

	return nil, fieldErr(name, "want list of strings, got %T", raw)
}

func normalizeNumber(name string, raw any) (any, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fieldErr(name, "not a finite number")
		}

		return n, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}

		f, err := n.Float64()
		if err != nil {
			return nil, fieldErr(name, "not a number: %q", n.String())
		}

		return normalizeNumber(name, f)
	}

	return nil, fieldErr(name, "want number, got %T", raw)
}

func normalizeID(name string, v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		if n < 1 {
			return 0, fieldErr(name, "must be positive, got %d", n)
		}

		return n, nil
	case float64:
		if n != math.Trunc(n) || n < 1 || n > math.MaxInt64 {
			return 0, fieldErr(name, "must be a positive integer, got %v", n)
		}

		return int64(n), nil
	}

	return 0, fieldErr(name, "must be a positive integer, got %T", v)
}

// String renders a compact description of the schema for help output.
func (s *Schema) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s", s.Kind)

	if s.Storage == StorageLiteral {
		fmt.Fprintf(&b, " (collection %s, id %s)", s.Collection, s.IDField)
	} else {
		fmt.Fprintf(&b, " (files, id %s)", s.IDField)
	}

	for _, f := range s.Fields {
		req := ""
		if f.Required {
			req = ", required"
		}

		fmt.Fprintf(&b, "\n  %-16s %s%s", f.Name, f.Type, req)
	}

	return b.String()
}
