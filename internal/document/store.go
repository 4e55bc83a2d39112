// Package document reads and rewrites the host document that embeds the
// catalog collections.
//
// Every write replaces the whole file through a temp file and rename, so a
// reader opening the document at any moment sees either the old or the new
// text. Writers are serialized with a sidecar flock unless locking is
// disabled, in which case concurrent writers race and the last rename wins.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/sitecms/pkg/fs"
)

// DefaultLockTimeout bounds how long [Store.Apply] waits for another
// writer.
const DefaultLockTimeout = 2 * time.Second

// Options configures a [Store].
type Options struct {
	// Lock serializes Apply calls across processes with an flock on
	// ".locks/<name>.lock" next to the document.
	Lock bool
	// LockTimeout bounds the wait for the lock; zero means
	// [DefaultLockTimeout].
	LockTimeout time.Duration
}

// Store applies read-modify-write cycles to documents.
type Store struct {
	fs      fs.FS
	writer  *fs.AtomicWriter
	locker  *fs.Locker
	timeout time.Duration
}

// New returns a Store over fsys.
func New(fsys fs.FS, opts Options) *Store {
	s := &Store{
		fs:      fsys,
		writer:  fs.NewAtomicWriter(fsys),
		timeout: opts.LockTimeout,
	}

	if opts.Lock {
		s.locker = fs.NewLocker(fsys)
	}

	if s.timeout <= 0 {
		s.timeout = DefaultLockTimeout
	}

	return s
}

// Read returns the current bytes of the document at path. Nothing is
// cached between calls.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	return data, nil
}

// Apply reads the document at path, passes its bytes to mutate and
// atomically replaces the file with the result.
//
// If mutate fails, or ctx ends before the write, nothing is written and the
// error is returned unchanged. If mutate returns the bytes it was given,
// the file is left alone. The file keeps its permission bits.
func (s *Store) Apply(ctx context.Context, path string, mutate func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.locker == nil {
		return s.apply(ctx, path, mutate)
	}

	return s.locker.With(ctx, fs.LockPathFor(path), s.timeout, func() error {
		return s.apply(ctx, path, mutate)
	})
}

// ApplyText is [Store.Apply] for mutators that work on text.
func (s *Store) ApplyText(ctx context.Context, path string, mutate func(string) (string, error)) error {
	return s.Apply(ctx, path, func(old []byte) ([]byte, error) {
		updated, err := mutate(string(old))
		if err != nil {
			return nil, err
		}

		return []byte(updated), nil
	})
}

func (s *Store) apply(ctx context.Context, path string, mutate func([]byte) ([]byte, error)) error {
	old, readErr := s.fs.ReadFile(path)
	if readErr != nil {
		return fmt.Errorf("reading document: %w", readErr)
	}

	updated, mutateErr := mutate(old)
	if mutateErr != nil {
		return mutateErr // nothing written
	}

	if updated == nil {
		return errors.New("mutation returned no document")
	}

	if bytes.Equal(old, updated) {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	opts := s.writer.DefaultOptions()

	info, statErr := s.fs.Stat(path)
	if statErr != nil {
		return fmt.Errorf("stat document: %w", statErr)
	}

	if perm := info.Mode().Perm(); perm != 0 {
		opts.Perm = perm
	}

	writeErr := s.writer.Write(path, bytes.NewReader(updated), opts)
	if writeErr != nil {
		return fmt.Errorf("writing document: %w", writeErr)
	}

	return nil
}
