package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/sitecms/pkg/fs"
)

func tempEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var tmps []string

	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			tmps = append(tmps, e.Name())
		}
	}

	return tmps
}

func TestAtomicWriteReplacesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")

	writer := fs.NewAtomicWriter(fs.NewReal())

	require.NoError(t, writer.WriteBytes(path, []byte("PROJECTS = []\n")))
	require.NoError(t, writer.WriteBytes(path, []byte("PROJECTS = [{'id': 1}]\n")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "PROJECTS = [{'id': 1}]\n", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	require.Empty(t, tempEntries(t, dir))
}

func TestAtomicWriteHonorsPerm(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.Write(path, strings.NewReader("x"), fs.AtomicWriteOptions{Perm: 0o600})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAtomicWriteRejectsBadArguments(t *testing.T) {
	t.Parallel()

	writer := fs.NewAtomicWriter(fs.NewReal())

	require.Error(t, writer.WriteBytes("", []byte("x")))
	require.Error(t, writer.Write(filepath.Join(t.TempDir(), "f"), strings.NewReader("x"), fs.AtomicWriteOptions{}))
	require.Error(t, writer.WriteBytes(t.TempDir()+string(filepath.Separator), []byte("x")))
}

func TestAtomicWriteFailuresLeaveOriginal(t *testing.T) {
	t.Parallel()

	for _, op := range []fs.Op{fs.OpWrite, fs.OpSync, fs.OpRename, fs.OpOpenFile} {
		t.Run(string(op), func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := filepath.Join(dir, "app.py")
			require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o644))

			faults := fs.NewFaults(fs.NewReal())
			faults.Fail(op, syscall.ENOSPC)

			err := fs.NewAtomicWriter(faults).WriteBytes(path, []byte("replacement that never lands\n"))
			require.ErrorIs(t, err, syscall.ENOSPC)
			require.Equal(t, 1, faults.Calls(op))

			got, readErr := os.ReadFile(path)
			require.NoError(t, readErr)
			require.Equal(t, "original\n", string(got))
			require.Empty(t, tempEntries(t, dir))
		})
	}
}

func TestAtomicWriteDirSyncFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")

	faults := fs.NewFaults(fs.NewReal())
	faults.Fail(fs.OpOpen, syscall.EIO)

	err := fs.NewAtomicWriter(faults).WriteBytes(path, []byte("new\n"))
	require.ErrorIs(t, err, fs.ErrAtomicWriteDirSync)

	// The rename already happened.
	got, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	require.Equal(t, "new\n", string(got))
}

func TestFaultsClearAndCount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	faults := fs.NewFaults(fs.NewReal())

	faults.Fail(fs.OpMkdirAll, syscall.EACCES)

	err := faults.MkdirAll(filepath.Join(dir, "a"), 0o755)

	var pathErr *os.PathError

	require.True(t, errors.As(err, &pathErr))
	require.Equal(t, "mkdir", pathErr.Op)
	require.ErrorIs(t, err, syscall.EACCES)

	faults.Fail(fs.OpMkdirAll, 0)
	require.NoError(t, faults.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.Equal(t, 2, faults.Calls(fs.OpMkdirAll))

	exists, err := faults.Exists(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = faults.Exists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFaultyWriteIsTorn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "torn.txt")
	faults := fs.NewFaults(fs.NewReal())

	f, err := faults.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	require.NoError(t, err)

	faults.Fail(fs.OpWrite, syscall.EIO)

	n, err := f.Write([]byte("abcdef"))
	require.ErrorIs(t, err, syscall.EIO)
	require.Equal(t, 3, n)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestWriteNewCreatesOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "photo_1.png")
	writer := fs.NewAtomicWriter(fs.NewReal())
	opts := fs.AtomicWriteOptions{Perm: 0o644}

	require.NoError(t, writer.WriteNew(path, strings.NewReader("first"), opts))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	err = writer.WriteNew(path, strings.NewReader("second"), opts)
	require.ErrorIs(t, err, os.ErrExist)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))
	require.Empty(t, tempEntries(t, dir))
}

func TestWriteNewLinkFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "photo_1.png")

	faults := fs.NewFaults(fs.NewReal())
	faults.Fail(fs.OpLink, syscall.ENOSPC)

	err := fs.NewAtomicWriter(faults).WriteNew(path, strings.NewReader("x"), fs.AtomicWriteOptions{Perm: 0o644})
	require.ErrorIs(t, err, syscall.ENOSPC)
	require.Equal(t, 1, faults.Calls(fs.OpLink))
	require.Zero(t, faults.Calls(fs.OpRename))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
