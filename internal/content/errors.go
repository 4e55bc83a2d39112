package content

import (
	"errors"
	"fmt"
)

// Error kinds shared by every content store. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrSchemaViolation      = errors.New("schema violation")
	ErrDuplicateID          = errors.New("duplicate id")
	ErrSlugCollision        = errors.New("slug collision")
	ErrAssetNameCollision   = errors.New("asset name collision")
	ErrRecordNotFound       = errors.New("record not found")
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrAmbiguousCollection  = errors.New("collection declared more than once")
	ErrMalformedCollection  = errors.New("malformed collection")
	ErrUnsupportedAssetType = errors.New("unsupported asset type")
	ErrUnknownKind          = errors.New("unknown content kind")
)

// FieldError reports which field of a record broke its schema.
// It unwraps to [ErrSchemaViolation].
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q: %s", ErrSchemaViolation, e.Field, e.Reason)
}

func (*FieldError) Unwrap() error {
	return ErrSchemaViolation
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsStructural reports whether err means the document itself no longer has
// the shape the engine understands. These are not fixed by retrying; the
// document has to be repaired by hand.
func IsStructural(err error) bool {
	return errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrAmbiguousCollection) ||
		errors.Is(err, ErrMalformedCollection)
}
