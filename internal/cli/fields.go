package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sitecms/internal/cms"
	"github.com/calvinalkan/sitecms/internal/content"
)

var (
	errInvalidValue   = errors.New("invalid value")
	errStdinTwice     = errors.New("stdin can feed only one of --json, --body-file and --interactive")
	errPromptAborted  = errors.New("prompt aborted")
	errMissingArgs    = errors.New("missing arguments")
	errTooManyArgs    = errors.New("too many arguments")
	errBodyNotAllowed = errors.New("--body-file is only valid for article kinds")
)

// fieldInput collects field values from flags, files and prompts.
type fieldInput struct {
	sets        []string
	jsonPath    string
	bodyFile    string
	interactive bool
}

func addFieldFlags(fs *flag.FlagSet) *fieldInput {
	fi := &fieldInput{}

	fs.StringArrayVar(&fi.sets, "set", nil, "Field value as key=value (repeatable; lists are comma-separated)")
	fs.StringVar(&fi.jsonPath, "json", "", "Read fields from a JSON object file (- for stdin)")
	fs.StringVar(&fi.bodyFile, "body-file", "", "Read the article body from a file (- for stdin)")
	fs.BoolVarP(&fi.interactive, "interactive", "i", false, "Prompt for each field")

	return fi
}

// collect layers, lowest first: base, --json, --set, --body-file, prompts.
func (fi *fieldInput) collect(o *IO, workDir string, schema *content.Schema, base content.Record) (content.Record, error) {
	stdinUsers := 0

	for _, used := range []bool{fi.jsonPath == "-", fi.bodyFile == "-", fi.interactive} {
		if used {
			stdinUsers++
		}
	}

	if stdinUsers > 1 {
		return nil, errStdinTwice
	}

	if fi.bodyFile != "" && schema.Storage != content.StorageFile {
		return nil, errBodyNotAllowed
	}

	fields := base.Clone()

	if fi.jsonPath != "" {
		data, err := readInput(o, workDir, fi.jsonPath)
		if err != nil {
			return nil, err
		}

		fromJSON, err := decodeJSONFields(data)
		if err != nil {
			return nil, err
		}

		for k, v := range fromJSON {
			fields[k] = v
		}
	}

	for _, set := range fi.sets {
		key, raw, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return nil, fmt.Errorf("%w: --set %q (want key=value)", errInvalidValue, set)
		}

		if err := setField(schema, fields, key, raw); err != nil {
			return nil, err
		}
	}

	if fi.bodyFile != "" {
		data, err := readInput(o, workDir, fi.bodyFile)
		if err != nil {
			return nil, err
		}

		fields[cms.BodyField] = string(data)
	}

	if fi.interactive {
		if err := promptFields(o, schema, fields); err != nil {
			return nil, err
		}
	}

	return fields, nil
}

func readInput(o *IO, workDir, path string) ([]byte, error) {
	if path == "-" {
		if o.in == nil {
			return nil, fmt.Errorf("%w: stdin is not available", errInvalidValue)
		}

		return io.ReadAll(o.in)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, nil
}

func decodeJSONFields(data []byte) (content.Record, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var fields map[string]any

	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: JSON fields: %w", errInvalidValue, err)
	}

	if fields == nil {
		return nil, fmt.Errorf("%w: JSON fields must be an object", errInvalidValue)
	}

	return content.Record(fields), nil
}

// setField parses raw according to the declared type of key. An empty raw
// value removes non-string fields so they fall back to their defaults.
func setField(schema *content.Schema, fields content.Record, key, raw string) error {
	f, ok := schema.Field(key)
	if !ok {
		// Validate names unknown keys; the body rides along as text.
		fields[key] = raw

		return nil
	}

	raw = strings.TrimSpace(raw)

	switch f.Type {
	case content.TypeString:
		fields[key] = raw
	case content.TypeOptionalString:
		if raw == "" || raw == "None" {
			fields[key] = nil
		} else {
			fields[key] = raw
		}
	case content.TypeStringList:
		items := []string{}

		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}

		fields[key] = items
	case content.TypeBool:
		if raw == "" {
			delete(fields, key)

			return nil
		}

		b, err := strconv.ParseBool(raw)
		if err != nil {
			return &content.FieldError{Field: key, Reason: fmt.Sprintf("want true or false, got %q", raw)}
		}

		fields[key] = b
	case content.TypeNumber:
		if raw == "" {
			delete(fields, key)

			return nil
		}

		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fields[key] = n

			return nil
		}

		fl, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &content.FieldError{Field: key, Reason: fmt.Sprintf("not a number: %q", raw)}
		}

		fields[key] = fl
	}

	return nil
}

// fieldText renders a value the way setField reads it back.
func fieldText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}

		return strings.Join(parts, ", ")
	}

	return fmt.Sprint(v)
}

type prompter interface {
	Prompt(label, current string) (string, error)
	Close() error
}

// linerPrompter edits each value in place on a terminal.
type linerPrompter struct {
	state *liner.State
}

func (p *linerPrompter) Prompt(label, current string) (string, error) {
	line, err := p.state.PromptWithSuggestion(label+": ", current, -1)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errPromptAborted
	}

	return line, err
}

func (p *linerPrompter) Close() error {
	return p.state.Close()
}

// linePrompter reads one answer per line; an empty answer keeps the
// current value. Used when input is not a terminal.
type linePrompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p *linePrompter) Prompt(label, current string) (string, error) {
	_, _ = fmt.Fprintf(p.w, "%s [%s]: ", label, current)

	line, err := p.r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", errPromptAborted
		}

		return "", err
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return current, nil
	}

	return line, nil
}

func (*linePrompter) Close() error {
	return nil
}

func newPrompter(o *IO) prompter {
	if f, ok := o.in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		state := liner.NewLiner()
		state.SetCtrlCAborts(true)

		return &linerPrompter{state: state}
	}

	in := o.in
	if in == nil {
		in = strings.NewReader("")
	}

	return &linePrompter{r: bufio.NewReader(in), w: o.errOut}
}

// promptFields asks for every schema field, offering the current value.
func promptFields(o *IO, schema *content.Schema, fields content.Record) error {
	p := newPrompter(o)
	defer func() { _ = p.Close() }()

	for _, f := range schema.Fields {
		label := fmt.Sprintf("%s (%s)", f.Name, f.Type)
		if f.Required {
			label += "*"
		}

		answer, err := p.Prompt(label, fieldText(fields[f.Name]))
		if err != nil {
			return err
		}

		if err := setField(schema, fields, f.Name, answer); err != nil {
			return err
		}
	}

	return nil
}
