package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is in place but durability is not guaranteed.
var ErrAtomicWriteDirSync = errors.New("dir sync")

// AtomicWriter replaces whole files via a temp file in the same directory
// followed by rename. Readers that open the path see either the old or the
// new content, never a mix.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
// Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures [AtomicWriter.Write] and [AtomicWriter.WriteNew].
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is synced after rename.
	SyncDir bool

	// Perm specifies the file permissions. Must be non-zero.
	// The temp file is chmod'd to this mode regardless of umask.
	Perm os.FileMode
}

// DefaultOptions returns the options used by [AtomicWriter.WriteBytes].
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{
		SyncDir: true,
		Perm:    0o644,
	}
}

// WriteBytes writes data to path atomically using [AtomicWriter.DefaultOptions].
func (w *AtomicWriter) WriteBytes(path string, data []byte) error {
	return w.Write(path, bytes.NewReader(data), w.DefaultOptions())
}

// Write writes everything from reader to path atomically and durably.
//
// The data goes to ".<base>.tmp-<n>" in the same directory, is synced, and
// is then renamed over path. The parent directory is synced afterwards when
// opts.SyncDir is set; a failure there satisfies
// errors.Is(err, ErrAtomicWriteDirSync). On any earlier failure the temp
// file is removed and path is untouched.
func (w *AtomicWriter) Write(path string, reader io.Reader, opts AtomicWriteOptions) error {
	return w.write(path, reader, opts, false)
}

// WriteNew is [AtomicWriter.Write] for a path that must not exist yet. The
// synced temp file is hard-linked to path instead of renamed over it, so an
// existing file is never replaced, whoever created it. That case satisfies
// errors.Is(err, os.ErrExist).
func (w *AtomicWriter) WriteNew(path string, reader io.Reader, opts AtomicWriteOptions) error {
	return w.write(path, reader, opts, true)
}

func (w *AtomicWriter) write(path string, reader io.Reader, opts AtomicWriteOptions, exclusive bool) error {
	if reader == nil {
		panic("reader is nil")
	}

	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createTempSibling(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	cleanup := func() error {
		return errors.Join(closeTemp(tmpPath, tmpFile), removeTemp(w.fs, tmpPath))
	}

	if err := tmpFile.Chmod(opts.Perm); err != nil {
		return errors.Join(fmt.Errorf("chmod temp file %q: %w", tmpPath, err), cleanup())
	}

	if _, err := io.Copy(tmpFile, reader); err != nil {
		return errors.Join(fmt.Errorf("write temp file %q: %w", tmpPath, err), cleanup())
	}

	if err := tmpFile.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync temp file %q: %w", tmpPath, err), cleanup())
	}

	if exclusive {
		if err := w.fs.Link(tmpPath, path); err != nil {
			return errors.Join(fmt.Errorf("link: %w", err), cleanup())
		}

		// path holds its own link to the data now.
		if err := cleanup(); err != nil {
			return err
		}
	} else {
		if err := w.fs.Rename(tmpPath, path); err != nil {
			return errors.Join(fmt.Errorf("rename: %w", err), cleanup())
		}

		// The temp path is gone after the rename; only the descriptor is left.
		_ = closeTemp(tmpPath, tmpFile)
	}

	if opts.SyncDir {
		return syncDir(w.fs, dir)
	}

	return nil
}

const tempMaxAttempts = 10000

var tempCounter atomic.Uint64

func createTempSibling(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range tempMaxAttempts {
		seq := tempCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func syncDir(fs FS, dir string) error {
	dirFd, err := fs.Open(dir)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	syncErr := dirFd.Sync()
	closeErr := dirFd.Close()

	if syncErr != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("%q: %w", dir, syncErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir %q: %w", dir, closeErr)
	}

	return nil
}

func closeTemp(path string, file File) error {
	err := file.Close()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return nil
	}

	return fmt.Errorf("close temp file %q: %w", path, err)
}

func removeTemp(fs FS, path string) error {
	err := fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
