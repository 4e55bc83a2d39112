// Package collection rewrites one record of a collection literal inside a
// host document. Every operation is a pure text transform: it takes the
// whole document and returns the new document, leaving every byte outside
// the affected record and its separating comma untouched.
//
// All operations keep the collection in canonical comma form: records are
// separated by exactly one comma, with no leading comma, no doubled comma
// and no comma after the last record.
package collection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/internal/literal"
)

var errNotLiteral = errors.New("kind is not stored as a collection literal")

// Mutator edits the collection of one literal-stored kind.
type Mutator struct {
	schema *content.Schema
	indent string
}

// New returns a Mutator for schema. indent is the indentation used when the
// collection has no records to copy the layout from; empty means
// [literal.DefaultIndent].
func New(schema *content.Schema, indent string) (*Mutator, error) {
	if schema == nil {
		return nil, errors.New("nil schema")
	}

	if schema.Storage != content.StorageLiteral {
		return nil, fmt.Errorf("%w: %s", errNotLiteral, schema.Kind)
	}

	if indent == "" {
		indent = literal.DefaultIndent
	}

	return &Mutator{schema: schema, indent: indent}, nil
}

func (m *Mutator) locate(doc string) (literal.Span, []literal.Span, error) {
	region, err := literal.LocateCollection(doc, m.schema.Collection)
	if err != nil {
		return literal.Span{}, nil, err
	}

	spans, err := literal.Records(doc, region)
	if err != nil {
		return literal.Span{}, nil, fmt.Errorf("collection %s: %w", m.schema.Collection, err)
	}

	return region, spans, nil
}

// idKey converts the integer types callers tend to pass into the int64 the
// schema normalizes ids to.
func idKey(id any) any {
	switch v := id.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	}

	return id
}

func (m *Mutator) findRecord(doc string, region literal.Span, id any) (literal.Span, error) {
	id = idKey(id)

	span, err := literal.LocateRecord(doc, region, m.schema.IDField, id)
	if err != nil {
		return literal.Span{}, fmt.Errorf("%s %v: %w", m.schema.Kind, id, err)
	}

	return span, nil
}

// requireFreeID fails with [content.ErrDuplicateID] if a record with id
// already exists in region.
func (m *Mutator) requireFreeID(doc string, region literal.Span, id any) error {
	_, err := literal.LocateRecord(doc, region, m.schema.IDField, id)

	switch {
	case err == nil:
		return fmt.Errorf("%w: %s %s=%v", content.ErrDuplicateID, m.schema.Collection, m.schema.IDField, id)
	case errors.Is(err, content.ErrRecordNotFound):
		return nil
	default:
		return err
	}
}

// Insert appends rec as the last record of the collection and returns the
// new document together with the normalized record.
//
// The id must be present (see [Mutator.NextID]) and unused. The block is
// spliced in before the closing bracket: a comma is added after the
// previously last record, or an existing trailing comma is reused, so the
// new record itself carries none.
func (m *Mutator) Insert(doc string, rec content.Record) (string, content.Record, error) {
	valid, err := m.schema.Validate(rec)
	if err != nil {
		return "", nil, err
	}

	region, spans, err := m.locate(doc)
	if err != nil {
		return "", nil, err
	}

	id := valid[m.schema.IDField]

	dupErr := m.requireFreeID(doc, region, id)
	if dupErr != nil {
		return "", nil, dupErr
	}

	nl := literal.LineEnding(doc, region)

	if len(spans) == 0 {
		opts := literal.Options{Base: m.indent, Step: m.indent}

		block, formatErr := literal.Format(m.schema, valid, opts)
		if formatErr != nil {
			return "", nil, formatErr
		}

		block = withLineEnding(block, nl)

		body := region.Text(doc)
		if strings.TrimSpace(body) == "" {
			body = ""
		} else {
			// keep comments that are all the collection holds
			body = strings.TrimRight(body, " \t\r\n")
		}

		out := doc[:region.Start] + body + nl + opts.Base + block + nl + doc[region.End:]

		return out, valid, nil
	}

	last := spans[len(spans)-1]
	opts := literal.LayoutOf(doc, last)

	block, err := literal.Format(m.schema, valid, opts)
	if err != nil {
		return "", nil, err
	}

	block = withLineEnding(block, nl)

	var b strings.Builder

	b.Grow(len(doc) + len(block) + len(opts.Base) + 2)

	if comma, ok := literal.CommaAfter(doc, region, last); ok {
		at := literal.LineTail(doc, comma+1, region.End)
		b.WriteString(doc[:at])
		b.WriteString(nl)
		b.WriteString(opts.Base)
		b.WriteString(block)
		b.WriteString(doc[at:])
	} else {
		at := literal.LineTail(doc, last.End, region.End)
		b.WriteString(doc[:last.End])
		b.WriteString(",")
		b.WriteString(doc[last.End:at])
		b.WriteString(nl)
		b.WriteString(opts.Base)
		b.WriteString(block)
		b.WriteString(doc[at:])
	}

	return b.String(), valid, nil
}

// Update replaces the record whose id is id with rec, which may carry a new
// id. Only the bytes of the old record block change.
func (m *Mutator) Update(doc string, id any, rec content.Record) (string, content.Record, error) {
	valid, err := m.schema.Validate(rec)
	if err != nil {
		return "", nil, err
	}

	region, err := literal.LocateCollection(doc, m.schema.Collection)
	if err != nil {
		return "", nil, err
	}

	span, err := m.findRecord(doc, region, id)
	if err != nil {
		return "", nil, err
	}

	newID := valid[m.schema.IDField]
	if newID != idKey(id) {
		dupErr := m.requireFreeID(doc, region, newID)
		if dupErr != nil {
			return "", nil, dupErr
		}
	}

	block, err := literal.Format(m.schema, valid, literal.LayoutOf(doc, span))
	if err != nil {
		return "", nil, err
	}

	block = withLineEnding(block, literal.LineEnding(doc, region))

	return doc[:span.Start] + block + doc[span.End:], valid, nil
}

// Delete removes the record whose id is id together with exactly one
// adjacent comma: the one after it, or for the last record the one before
// it. Deleting the only record leaves an empty collection.
func (m *Mutator) Delete(doc string, id any) (string, error) {
	region, spans, err := m.locate(doc)
	if err != nil {
		return "", err
	}

	target, err := m.findRecord(doc, region, id)
	if err != nil {
		return "", err
	}

	k := indexOf(spans, target)

	switch {
	case len(spans) == 1:
		end := target.End
		if comma, ok := literal.CommaAfter(doc, region, target); ok {
			end = comma + 1
		}

		body := doc[region.Start:target.Start] + doc[end:region.End]
		if strings.TrimSpace(body) == "" {
			body = literal.LineEnding(doc, region)
		}

		return doc[:region.Start] + body + doc[region.End:], nil
	case k < len(spans)-1:
		// The record, its comma and everything up to the next record go;
		// the next record inherits the deleted one's leading whitespace.
		return doc[:target.Start] + doc[spans[k+1].Start:], nil
	default:
		end := target.End
		if comma, ok := literal.CommaAfter(doc, region, target); ok {
			end = comma + 1
		}

		return doc[:spans[k-1].End] + doc[end:], nil
	}
}

func indexOf(spans []literal.Span, target literal.Span) int {
	for i, s := range spans {
		if s == target {
			return i
		}
	}

	return -1
}

// List parses every record of the collection in document order.
func (m *Mutator) List(doc string) ([]content.Record, error) {
	_, spans, err := m.locate(doc)
	if err != nil {
		return nil, err
	}

	records := make([]content.Record, 0, len(spans))

	for _, span := range spans {
		rec, parseErr := literal.ParseRecord(m.schema, doc, span)
		if parseErr != nil {
			return nil, fmt.Errorf("collection %s: %w", m.schema.Collection, parseErr)
		}

		records = append(records, rec)
	}

	return records, nil
}

// Get parses the record whose id is id.
func (m *Mutator) Get(doc string, id any) (content.Record, error) {
	region, err := literal.LocateCollection(doc, m.schema.Collection)
	if err != nil {
		return nil, err
	}

	span, err := m.findRecord(doc, region, id)
	if err != nil {
		return nil, err
	}

	return literal.ParseRecord(m.schema, doc, span)
}

// NextID returns one more than the largest id in the collection, or 1 if it
// is empty. Gaps below the highest id are never filled.
func (m *Mutator) NextID(doc string) (int64, error) {
	records, err := m.List(doc)
	if err != nil {
		return 0, err
	}

	var highest int64

	for _, rec := range records {
		if id, ok := rec[m.schema.IDField].(int64); ok && id > highest {
			highest = id
		}
	}

	return highest + 1, nil
}

// Check verifies that the collection can be located, that every record
// parses against the schema, and that ids are unique. It returns the number
// of records.
func (m *Mutator) Check(doc string) (int, error) {
	records, err := m.List(doc)
	if err != nil {
		return 0, err
	}

	seen := make(map[any]int, len(records))

	for i, rec := range records {
		id := rec[m.schema.IDField]
		if first, dup := seen[id]; dup {
			return 0, fmt.Errorf("%w: %s %s=%v (records %d and %d)",
				content.ErrDuplicateID, m.schema.Collection, m.schema.IDField, id, first+1, i+1)
		}

		seen[id] = i
	}

	return len(records), nil
}

// withLineEnding rewrites the "\n" breaks of a formatted block to nl. String
// values are escaped, so every break in block is structural.
func withLineEnding(block, nl string) string {
	if nl == "\n" {
		return block
	}

	return strings.ReplaceAll(block, "\n", nl)
}
