package content

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Registry holds the immutable set of schemas known to a process.
type Registry struct {
	schemas map[Kind]*Schema
	order   []Kind
}

// NewRegistry builds a registry from the given schemas. Kinds and literal
// collection names must be unique.
func NewRegistry(schemas ...Schema) (*Registry, error) {
	reg := &Registry{schemas: make(map[Kind]*Schema, len(schemas))}
	collections := make(map[string]Kind)

	for i := range schemas {
		s := schemas[i]
		s.Fields = slices.Clone(s.Fields)

		if err := checkSchema(&s); err != nil {
			return nil, err
		}

		if _, dup := reg.schemas[s.Kind]; dup {
			return nil, fmt.Errorf("kind %q registered twice", s.Kind)
		}

		if s.Storage == StorageLiteral {
			if other, dup := collections[s.Collection]; dup {
				return nil, fmt.Errorf("collection %q used by both %q and %q", s.Collection, other, s.Kind)
			}

			collections[s.Collection] = s.Kind
		}

		reg.schemas[s.Kind] = &s
		reg.order = append(reg.order, s.Kind)
	}

	return reg, nil
}

func checkSchema(s *Schema) error {
	if s.Kind == "" {
		return errors.New("schema without kind")
	}

	seen := make(map[string]bool, len(s.Fields))

	for _, f := range s.Fields {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("kind %q: empty or duplicate field name %q", s.Kind, f.Name)
		}

		if _, ok := fieldTypeNames[f.Type]; !ok {
			return fmt.Errorf("kind %q: field %q: unknown type", s.Kind, f.Name)
		}

		seen[f.Name] = true
	}

	switch s.Storage {
	case StorageLiteral:
		if s.Collection == "" {
			return fmt.Errorf("kind %q: literal storage needs a collection name", s.Kind)
		}

		id, ok := s.Field(s.IDField)
		if !ok || id.Type != TypeNumber || !id.Required {
			return fmt.Errorf("kind %q: id field %q must be a required number field", s.Kind, s.IDField)
		}
	case StorageFile:
		if s.IDField == "" || seen[s.IDField] {
			return fmt.Errorf("kind %q: derived id field %q must not be a declared field", s.Kind, s.IDField)
		}
	default:
		return fmt.Errorf("kind %q: unknown storage", s.Kind)
	}

	return nil
}

// Schema returns the schema for kind or an error wrapping [ErrUnknownKind].
func (r *Registry) Schema(kind Kind) (*Schema, error) {
	s, ok := r.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownKind, kind, r.kindList())
	}

	return s, nil
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	return slices.Clone(r.order)
}

func (r *Registry) kindList() string {
	names := make([]string, len(r.order))
	for i, k := range r.order {
		names[i] = string(k)
	}

	return strings.Join(names, ", ")
}

// BuiltinSchemas returns the site's content kinds. collections overrides the
// literal collection name per kind; nil keeps the defaults.
func BuiltinSchemas(collections map[Kind]string) []Schema {
	name := func(kind Kind, def string) string {
		if override := collections[kind]; override != "" {
			return override
		}

		return def
	}

	return []Schema{
		{
			Kind:       KindProject,
			Collection: name(KindProject, "PROJECTS"),
			Storage:    StorageLiteral,
			IDField:    "id",
			Fields: []Field{
				{Name: "id", Type: TypeNumber, Required: true},
				{Name: "title", Type: TypeString, Required: true},
				{Name: "description", Type: TypeString, Required: true},
				{Name: "technologies", Type: TypeStringList},
				{Name: "category", Type: TypeString},
				{Name: "github", Type: TypeOptionalString},
				{Name: "demo", Type: TypeOptionalString},
				{Name: "image", Type: TypeString},
				{Name: "featured", Type: TypeBool},
			},
		},
		{
			Kind:       KindProduct,
			Collection: name(KindProduct, "PRODUCTS"),
			Storage:    StorageLiteral,
			IDField:    "id",
			Fields: []Field{
				{Name: "id", Type: TypeNumber, Required: true},
				{Name: "name", Type: TypeString, Required: true},
				{Name: "description", Type: TypeString, Required: true},
				{Name: "price", Type: TypeNumber, Required: true},
				{Name: "type", Type: TypeString},
				{Name: "category", Type: TypeString},
				{Name: "features", Type: TypeStringList},
				{Name: "technologies", Type: TypeStringList},
				{Name: "purchase_link", Type: TypeOptionalString},
				{Name: "demo_link", Type: TypeOptionalString},
				{Name: "image", Type: TypeString},
			},
		},
		{
			Kind:       KindRPi,
			Collection: name(KindRPi, "RASPBERRY_PI_PROJECTS"),
			Storage:    StorageLiteral,
			IDField:    "id",
			Fields: []Field{
				{Name: "id", Type: TypeNumber, Required: true},
				{Name: "title", Type: TypeString, Required: true},
				{Name: "description", Type: TypeString, Required: true},
				{Name: "hardware", Type: TypeStringList},
				{Name: "technologies", Type: TypeStringList},
				{Name: "features", Type: TypeStringList},
				{Name: "github", Type: TypeOptionalString},
				{Name: "image", Type: TypeString},
			},
		},
		{
			Kind:    KindArticle,
			Storage: StorageFile,
			IDField: "slug",
			Fields: []Field{
				{Name: "title", Type: TypeString, Required: true},
				{Name: "excerpt", Type: TypeString},
				{Name: "author", Type: TypeString},
				{Name: "date", Type: TypeString},
				{Name: "category", Type: TypeString},
				{Name: "tags", Type: TypeStringList},
				{Name: "read_time", Type: TypeString},
				{Name: "image", Type: TypeOptionalString},
				{Name: "published", Type: TypeBool},
			},
		},
	}
}
