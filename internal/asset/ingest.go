// Package asset stores uploaded images under collision-free names and
// returns the public path to reference them by.
package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/pkg/fs"
)

const (
	fallbackBase = "upload"
	maxBaseLen   = 100
	dirPerm      = 0o755
	filePerm     = 0o644
)

// Options configures an [Ingestor].
type Options struct {
	// Dir receives the stored files.
	Dir string
	// URLPrefix is prepended to the stored name in returned paths.
	URLPrefix string
	// Allowed restricts the accepted types to a subset of [Extensions];
	// empty accepts all of them.
	Allowed []string
	// Lock serializes ingests into Dir across processes.
	Lock        bool
	LockTimeout time.Duration
	// Now is the clock behind the name stamp; nil means time.Now.
	Now func() time.Time
}

// Ingestor validates and stores uploaded images.
type Ingestor struct {
	fs      fs.FS
	writer  *fs.AtomicWriter
	dir     string
	prefix  string
	allowed []string
	locker  *fs.Locker
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	lastStamp int64
}

// New returns an Ingestor. Allowed types outside [Extensions] are an
// error.
func New(fsys fs.FS, opts Options) (*Ingestor, error) {
	if opts.Dir == "" {
		return nil, errors.New("asset dir is empty")
	}

	allowed := slices.Clone(Extensions)

	if len(opts.Allowed) > 0 {
		allowed = allowed[:0:0]

		for _, ext := range opts.Allowed {
			norm := NormalizeExt(ext)
			if !slices.Contains(Extensions, norm) {
				return nil, fmt.Errorf("allowed asset type %q is not one of %s", ext, strings.Join(Extensions, ", "))
			}

			if !slices.Contains(allowed, norm) {
				allowed = append(allowed, norm)
			}
		}
	}

	ing := &Ingestor{
		fs:      fsys,
		writer:  fs.NewAtomicWriter(fsys),
		dir:     opts.Dir,
		prefix:  strings.TrimRight(opts.URLPrefix, "/"),
		allowed: allowed,
		timeout: opts.LockTimeout,
		now:     opts.Now,
	}

	if opts.Lock {
		ing.locker = fs.NewLocker(fsys)
	}

	if ing.timeout <= 0 {
		ing.timeout = 2 * time.Second
	}

	if ing.now == nil {
		ing.now = time.Now
	}

	return ing, nil
}

// Allowed returns the accepted extensions.
func (ing *Ingestor) Allowed() []string {
	return slices.Clone(ing.allowed)
}

// Ingest validates data as the image type its filename claims and stores it
// as "<base>_<unix-nanos>.<ext>". It returns "<prefix>/<stored name>".
//
// Unknown or disallowed extensions, empty payloads, content that does not
// match the extension and unsafe SVG documents are
// [content.ErrUnsupportedAssetType]. An existing file with the generated
// name is [content.ErrAssetNameCollision]; nothing is ever overwritten.
func (ing *Ingestor) Ingest(ctx context.Context, data []byte, filename string) (string, error) {
	base, ext, err := ing.validate(data, filename)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%d.%s", base, ing.stamp(), ext)
	path := filepath.Join(ing.dir, name)

	store := func() error {
		if mkErr := ing.fs.MkdirAll(ing.dir, dirPerm); mkErr != nil {
			return fmt.Errorf("creating asset dir: %w", mkErr)
		}

		writeErr := ing.writer.WriteNew(path, bytes.NewReader(data), fs.AtomicWriteOptions{SyncDir: true, Perm: filePerm})
		if errors.Is(writeErr, os.ErrExist) {
			return fmt.Errorf("%w: %s", content.ErrAssetNameCollision, name)
		}

		if writeErr != nil {
			return fmt.Errorf("writing asset: %w", writeErr)
		}

		return nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if ing.locker != nil {
		err = ing.locker.With(ctx, fs.LockPathFor(filepath.Clean(ing.dir)), ing.timeout, store)
	} else {
		err = store()
	}

	if err != nil {
		return "", err
	}

	return ing.prefix + "/" + name, nil
}

func (ing *Ingestor) validate(data []byte, filename string) (string, string, error) {
	stem, rawExt, ok := cutExt(filename)
	if !ok {
		return "", "", rejected("file extension is required")
	}

	ext := NormalizeExt(rawExt)
	if !slices.Contains(ing.allowed, ext) {
		return "", "", rejected("%q is not one of %s", rawExt, strings.Join(ing.allowed, ", "))
	}

	if len(data) == 0 {
		return "", "", rejected("uploaded file is empty")
	}

	detected := Detect(data)
	if detected == "" {
		return "", "", rejected("content is not a supported image format")
	}

	if detected != ext {
		return "", "", rejected("extension %s does not match %s content", ext, detected)
	}

	if ext == "svg" {
		if err := checkSVG(data); err != nil {
			return "", "", err
		}
	}

	return SanitizeBase(stem), ext, nil
}

// cutExt splits the last path element of filename at its final dot.
func cutExt(filename string) (string, string, bool) {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return "", "", false
	}

	return name[:dot], name[dot+1:], true
}

// SanitizeBase reduces a client-supplied file name stem to ASCII letters,
// digits, '.', '_' and '-': spaces become '_', anything else is dropped,
// and leading dots are removed. An empty result becomes "upload".
func SanitizeBase(stem string) string {
	if i := strings.LastIndexAny(stem, `/\`); i >= 0 {
		stem = stem[i+1:]
	}

	var b strings.Builder

	for _, r := range stem {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxBaseLen {
		out = out[:maxBaseLen]
	}

	if out == "" {
		return fallbackBase
	}

	return out
}

// stamp returns the current time in unix nanoseconds, bumped so that it is
// strictly greater than every stamp handed out before by this Ingestor.
func (ing *Ingestor) stamp() int64 {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	s := ing.now().UnixNano()
	if s <= ing.lastStamp {
		s = ing.lastStamp + 1
	}

	ing.lastStamp = s

	return s
}
