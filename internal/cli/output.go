package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/sitecms/internal/cms"
	"github.com/calvinalkan/sitecms/internal/content"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// orderedRecord prints a record with its keys in schema order instead of
// the alphabetical order encoders use for maps.
type orderedRecord struct {
	keys   []string
	values content.Record
}

func orderRecord(schema *content.Schema, rec content.Record) orderedRecord {
	var keys []string

	if schema.Storage == content.StorageFile {
		keys = append(keys, schema.IDField)
	}

	keys = append(keys, schema.FieldNames()...)

	if _, ok := rec[cms.BodyField]; ok {
		keys = append(keys, cms.BodyField)
	}

	return orderedRecord{keys: keys, values: rec}
}

func (r orderedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}

		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (r orderedRecord) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	for _, k := range r.keys {
		var val yaml.Node
		if err := val.Encode(r.values[k]); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}

		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	}

	return node, nil
}

func addOutputFlag(fs *flag.FlagSet) *string {
	return fs.StringP("output", "o", formatJSON, "Output format: json|yaml")
}

func checkFormat(format string) error {
	if format != formatJSON && format != formatYAML {
		return fmt.Errorf("%w: --output %q (want json or yaml)", errInvalidValue, format)
	}

	return nil
}

func writeValue(o *IO, format string, v any) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(o)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	}

	enc := json.NewEncoder(o)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}

	return nil
}
