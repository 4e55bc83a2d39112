// Package article stores long-form posts as one "<slug>.md" file each,
// with a "key: value" header block followed by a free-form body.
//
// Files are replaced atomically, and all mutations of one directory are
// serialized with a sidecar flock. A rename (new title, new slug) writes the
// new file before removing the old one, so a crash in between leaves both
// rather than neither.
package article

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/pkg/fs"
)

const (
	fileExt = ".md"

	defaultAuthor   = "Admin"
	defaultCategory = "Uncategorized"
	wordsPerMinute  = 200

	dirPerm  = 0o755
	filePerm = 0o644
)

// Article is one parsed article file.
type Article struct {
	Slug   string
	Record content.Record
	Body   string
}

// Options configures a [Store].
type Options struct {
	// Lock serializes mutations with an flock next to the directory.
	Lock bool
	// LockTimeout bounds the wait for the lock.
	LockTimeout time.Duration
	// Now supplies the date default; nil means time.Now.
	Now func() time.Time
}

// Store manages the article files of one directory.
type Store struct {
	fs      fs.FS
	dir     string
	schema  *content.Schema
	locker  *fs.Locker
	timeout time.Duration
	now     func() time.Time
}

// New returns a Store for the articles in dir. schema must be a file kind.
func New(fsys fs.FS, dir string, schema *content.Schema, opts Options) (*Store, error) {
	if schema == nil || schema.Storage != content.StorageFile {
		return nil, errors.New("article store needs a file-stored schema")
	}

	s := &Store{
		fs:      fsys,
		dir:     dir,
		schema:  schema,
		timeout: opts.LockTimeout,
		now:     opts.Now,
	}

	if opts.Lock {
		s.locker = fs.NewLocker(fsys)
	}

	if s.timeout <= 0 {
		s.timeout = 2 * time.Second
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// Dir returns the directory the store manages.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file that holds the article with slug.
func (s *Store) Path(slug string) string {
	return filepath.Join(s.dir, slug+fileExt)
}

func (s *Store) checkSlug(slug string) error {
	if !validSlug(slug) {
		return &content.FieldError{Field: s.schema.IDField, Reason: fmt.Sprintf("invalid slug %q", slug)}
	}

	return nil
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.locker == nil {
		return fn()
	}

	return s.locker.With(ctx, fs.LockPathFor(filepath.Clean(s.dir)), s.timeout, fn)
}

// prepare fills defaults, validates and renders rec. It returns the slug,
// the normalized record and the file content.
func (s *Store) prepare(rec content.Record, body string) (string, content.Record, []byte, error) {
	rec = rec.Clone()

	for k, v := range rec {
		if str, ok := v.(string); ok {
			rec[k] = strings.TrimSpace(str)
		}
	}

	s.fillDefaults(rec, body)

	valid, err := s.schema.Validate(rec)
	if err != nil {
		return "", nil, nil, err
	}

	title, _ := valid["title"].(string)

	slug, err := Slug(title)
	if err != nil {
		return "", nil, nil, err
	}

	data, err := render(s.schema, valid, body)
	if err != nil {
		return "", nil, nil, err
	}

	valid[s.schema.IDField] = slug

	return slug, valid, data, nil
}

// fillDefaults supplies the values the admin form used to default: author,
// category, publication state, today's date, and a read time estimated
// from the body.
func (s *Store) fillDefaults(rec content.Record, body string) {
	setIfBlank := func(key, value string) {
		if _, declared := s.schema.Field(key); !declared {
			return
		}

		if str, _ := rec[key].(string); str == "" {
			rec[key] = value
		}
	}

	setIfBlank("author", defaultAuthor)
	setIfBlank("category", defaultCategory)
	setIfBlank("date", s.now().Format(time.DateOnly))
	setIfBlank("read_time", ReadTime(body))

	if _, declared := s.schema.Field("published"); declared {
		if _, set := rec["published"]; !set {
			rec["published"] = true
		}
	}
}

// ReadTime estimates reading time at 200 words per minute, rounded half to
// even, never less than one minute.
func ReadTime(body string) string {
	words := len(strings.Fields(body))
	minutes := max(1, int(math.RoundToEven(float64(words)/wordsPerMinute)))

	return fmt.Sprintf("%d min", minutes)
}

func (s *Store) write(path string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("creating articles dir: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing article: %w", err)
	}

	// New files come out of a temp file with mode 0600; the site has to
	// read them.
	if err := os.Chmod(path, filePerm); err != nil {
		return fmt.Errorf("setting article permissions: %w", err)
	}

	return nil
}

// Create writes a new article whose slug is derived from its title. An
// existing file with that slug is [content.ErrSlugCollision].
func (s *Store) Create(ctx context.Context, rec content.Record, body string) (Article, error) {
	slug, valid, data, err := s.prepare(rec, body)
	if err != nil {
		return Article{}, err
	}

	err = s.withLock(ctx, func() error {
		path := s.Path(slug)

		exists, existsErr := s.fs.Exists(path)
		if existsErr != nil {
			return fmt.Errorf("checking %s: %w", path, existsErr)
		}

		if exists {
			return fmt.Errorf("%w: %s", content.ErrSlugCollision, slug)
		}

		return s.write(path, data)
	})
	if err != nil {
		return Article{}, err
	}

	return Article{Slug: slug, Record: valid, Body: body}, nil
}

// Update replaces the article stored under oldSlug. If the title now yields
// a different slug the article moves: the new file is written first and
// the old one removed afterwards. Moving onto an existing file is
// [content.ErrSlugCollision] and leaves the old file in place.
func (s *Store) Update(ctx context.Context, oldSlug string, rec content.Record, body string) (Article, error) {
	return s.update(ctx, oldSlug, rec, &body)
}

// UpdateKeepBody is [Store.Update] with the body currently stored under
// oldSlug. The body is read under the same lock as the write.
func (s *Store) UpdateKeepBody(ctx context.Context, oldSlug string, rec content.Record) (Article, error) {
	return s.update(ctx, oldSlug, rec, nil)
}

// update writes rec under its slug; a nil body keeps the stored one.
func (s *Store) update(ctx context.Context, oldSlug string, rec content.Record, body *string) (Article, error) {
	if err := s.checkSlug(oldSlug); err != nil {
		return Article{}, err
	}

	var (
		slug  string
		valid content.Record
		data  []byte
		text  string
		err   error
	)

	if body != nil {
		text = *body

		slug, valid, data, err = s.prepare(rec, text)
		if err != nil {
			return Article{}, err
		}
	}

	err = s.withLock(ctx, func() error {
		oldPath := s.Path(oldSlug)

		if body == nil {
			old, readErr := s.read(oldSlug)
			if readErr != nil {
				return readErr
			}

			text = old.Body

			var prepErr error

			slug, valid, data, prepErr = s.prepare(rec, text)
			if prepErr != nil {
				return prepErr
			}
		} else {
			exists, existsErr := s.fs.Exists(oldPath)
			if existsErr != nil {
				return fmt.Errorf("checking %s: %w", oldPath, existsErr)
			}

			if !exists {
				return fmt.Errorf("%w: article %s", content.ErrRecordNotFound, oldSlug)
			}
		}

		if slug == oldSlug {
			return s.write(oldPath, data)
		}

		newPath := s.Path(slug)

		taken, takenErr := s.fs.Exists(newPath)
		if takenErr != nil {
			return fmt.Errorf("checking %s: %w", newPath, takenErr)
		}

		if taken {
			return fmt.Errorf("%w: %s (renaming from %s)", content.ErrSlugCollision, slug, oldSlug)
		}

		if writeErr := s.write(newPath, data); writeErr != nil {
			return writeErr
		}

		if removeErr := s.fs.Remove(oldPath); removeErr != nil {
			return fmt.Errorf("removing old article %s after rename: %w", oldSlug, removeErr)
		}

		return nil
	})
	if err != nil {
		return Article{}, err
	}

	return Article{Slug: slug, Record: valid, Body: text}, nil
}

// Delete removes the article stored under slug.
func (s *Store) Delete(ctx context.Context, slug string) error {
	if err := s.checkSlug(slug); err != nil {
		return err
	}

	return s.withLock(ctx, func() error {
		err := s.fs.Remove(s.Path(slug))
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: article %s", content.ErrRecordNotFound, slug)
		}

		if err != nil {
			return fmt.Errorf("removing article %s: %w", slug, err)
		}

		return nil
	})
}

// Get reads the article stored under slug.
func (s *Store) Get(slug string) (Article, error) {
	if err := s.checkSlug(slug); err != nil {
		return Article{}, err
	}

	return s.read(slug)
}

func (s *Store) read(slug string) (Article, error) {
	data, err := s.fs.ReadFile(s.Path(slug))
	if errors.Is(err, os.ErrNotExist) {
		return Article{}, fmt.Errorf("%w: article %s", content.ErrRecordNotFound, slug)
	}

	if err != nil {
		return Article{}, fmt.Errorf("reading article %s: %w", slug, err)
	}

	rec, body, err := parse(s.schema, data)
	if err != nil {
		return Article{}, fmt.Errorf("article %s: %w", slug, err)
	}

	rec[s.schema.IDField] = slug

	return Article{Slug: slug, Record: rec, Body: body}, nil
}

// Slugs returns the slugs of all article files, sorted. Files whose stem
// is not a valid slug are skipped.
func (s *Store) Slugs() ([]string, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading articles dir: %w", err)
	}

	var slugs []string

	for _, e := range entries {
		stem, ok := strings.CutSuffix(e.Name(), fileExt)
		if !ok || e.IsDir() || !validSlug(stem) {
			continue
		}

		slugs = append(slugs, stem)
	}

	return slugs, nil
}

// List reads every article, sorted by slug.
func (s *Store) List() ([]Article, error) {
	slugs, err := s.Slugs()
	if err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(slugs))

	for _, slug := range slugs {
		a, readErr := s.read(slug)
		if readErr != nil {
			return nil, readErr
		}

		articles = append(articles, a)
	}

	return articles, nil
}

// Check parses every article file and reports how many there are. Unlike
// [Store.List] it keeps going after a bad file and joins all errors.
func (s *Store) Check(ctx context.Context) (int, error) {
	slugs, err := s.Slugs()
	if err != nil {
		return 0, err
	}

	var errs []error

	for _, slug := range slugs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}

		if _, readErr := s.read(slug); readErr != nil {
			errs = append(errs, readErr)
		}
	}

	return len(slugs), errors.Join(errs...)
}
