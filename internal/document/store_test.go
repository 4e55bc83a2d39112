package document_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/internal/document"
	"github.com/calvinalkan/sitecms/pkg/fs"
)

const original = "PROJECTS = [\n    {'id': 1, 'title': 'a'}\n]\n"

func writeDoc(t *testing.T, perm os.FileMode) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.py")
	require.NoError(t, os.WriteFile(path, []byte(original), perm))

	return path
}

// dirEntries lists names in the document's directory, ignoring the lock
// directory.
func dirEntries(t *testing.T, path string) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)

	var names []string

	for _, e := range entries {
		if e.Name() != fs.LocksDirName {
			names = append(names, e.Name())
		}
	}

	return names
}

func TestApplyReplacesDocument(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o644)
	store := document.New(fs.NewReal(), document.Options{Lock: true})

	err := store.ApplyText(context.Background(), path, func(old string) (string, error) {
		return strings.Replace(old, "'a'", "'b'", 1), nil
	})
	require.NoError(t, err)

	got, err := store.Read(path)
	require.NoError(t, err)
	require.Equal(t, strings.Replace(original, "'a'", "'b'", 1), string(got))
	require.Equal(t, []string{"app.py"}, dirEntries(t, path))
}

func TestApplyWritesNothingWhenMutationFails(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o644)
	faults := fs.NewFaults(fs.NewReal())
	store := document.New(faults, document.Options{})

	violation := &content.FieldError{Field: "title", Reason: "required"}

	err := store.Apply(context.Background(), path, func([]byte) ([]byte, error) {
		return nil, violation
	})
	require.ErrorIs(t, err, content.ErrSchemaViolation)

	var fe *content.FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "title", fe.Field)

	got, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	require.Equal(t, original, string(got))
	require.Zero(t, faults.Calls(fs.OpOpenFile))
	require.Zero(t, faults.Calls(fs.OpRename))
}

func TestApplySkipsWriteForIdenticalBytes(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o644)
	faults := fs.NewFaults(fs.NewReal())
	store := document.New(faults, document.Options{})

	err := store.Apply(context.Background(), path, func(old []byte) ([]byte, error) {
		return append([]byte(nil), old...), nil
	})
	require.NoError(t, err)
	require.Zero(t, faults.Calls(fs.OpRename))
}

func TestApplyKeepsOriginalOnWriteFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op    fs.Op
		errno syscall.Errno
	}{
		{fs.OpWrite, syscall.ENOSPC},
		{fs.OpSync, syscall.EIO},
		{fs.OpRename, syscall.EXDEV},
	}

	for _, tc := range tests {
		t.Run(string(tc.op), func(t *testing.T) {
			t.Parallel()

			path := writeDoc(t, 0o644)
			faults := fs.NewFaults(fs.NewReal())
			faults.Fail(tc.op, tc.errno)
			store := document.New(faults, document.Options{})

			err := store.ApplyText(context.Background(), path, func(old string) (string, error) {
				return old + "# appended\n", nil
			})
			require.ErrorIs(t, err, tc.errno)

			got, readErr := os.ReadFile(path)
			require.NoError(t, readErr)
			require.Equal(t, original, string(got))
			require.Equal(t, []string{"app.py"}, dirEntries(t, path), "temp file left behind")
		})
	}
}

func TestApplyPreservesPermissions(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o600)
	store := document.New(fs.NewReal(), document.Options{})

	err := store.ApplyText(context.Background(), path, func(old string) (string, error) {
		return old + "\n", nil
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestApplyHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o644)
	store := document.New(fs.NewReal(), document.Options{Lock: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Apply(ctx, path, func(old []byte) ([]byte, error) {
		called = true

		return old, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestApplyTimesOutWhileLockIsHeld(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o644)
	store := document.New(fs.NewReal(), document.Options{Lock: true, LockTimeout: 30 * time.Millisecond})

	held, err := fs.NewLocker(fs.NewReal()).TryLock(fs.LockPathFor(path))
	require.NoError(t, err)

	t.Cleanup(func() { _ = held.Close() })

	err = store.ApplyText(context.Background(), path, func(old string) (string, error) {
		return old + "x", nil
	})
	require.ErrorIs(t, err, fs.ErrWouldBlock)

	got, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	require.Equal(t, original, string(got))

	unlocked := document.New(fs.NewReal(), document.Options{Lock: false})
	require.NoError(t, unlocked.ApplyText(context.Background(), path, func(old string) (string, error) {
		return old + "x", nil
	}))
}

func TestApplySerializesConcurrentWriters(t *testing.T) {
	t.Parallel()

	path := writeDoc(t, 0o644)
	store := document.New(fs.NewReal(), document.Options{Lock: true, LockTimeout: 10 * time.Second})

	const writers = 16

	var wg sync.WaitGroup

	errs := make(chan error, writers)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs <- store.ApplyText(context.Background(), path, func(old string) (string, error) {
				return old + fmt.Sprintf("# writer %d\n", i), nil
			})
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	for i := range writers {
		require.Contains(t, string(got), fmt.Sprintf("# writer %d\n", i))
	}
}

func TestReadMissingDocument(t *testing.T) {
	t.Parallel()

	store := document.New(fs.NewReal(), document.Options{})

	_, err := store.Read(filepath.Join(t.TempDir(), "missing.py"))
	require.True(t, errors.Is(err, os.ErrNotExist), "err=%v", err)
}
