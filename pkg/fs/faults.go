package fs

import (
	"os"
	"sync"
	"syscall"
)

// Op names an [FS] or [File] operation that [Faults] can fail.
type Op string

// Operations that can be failed.
const (
	OpOpen     Op = "open"
	OpOpenFile Op = "openfile"
	OpReadFile Op = "read"
	OpReadDir  Op = "readdir"
	OpMkdirAll Op = "mkdir"
	OpStat     Op = "stat"
	OpRemove   Op = "remove"
	OpRename   Op = "rename"
	OpWrite    Op = "write"
	OpSync     Op = "sync"
	OpLink     Op = "link"
)

// Faults wraps an [FS] and fails chosen operations with real errno values
// wrapped in [os.PathError], so callers see what a failing disk would give
// them. It also counts calls per operation.
//
// An OpWrite fault writes the first half of the buffer before failing, the
// way a crash mid-write leaves a torn file.
type Faults struct {
	fs FS

	mu    sync.Mutex
	fails map[Op]syscall.Errno
	calls map[Op]int
}

// NewFaults wraps fsys. No operation fails until [Faults.Fail] is called.
func NewFaults(fsys FS) *Faults {
	return &Faults{
		fs:    fsys,
		fails: make(map[Op]syscall.Errno),
		calls: make(map[Op]int),
	}
}

// Fail makes every later call of op fail with errno. Zero clears the fault.
func (f *Faults) Fail(op Op, errno syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errno == 0 {
		delete(f.fails, op)

		return
	}

	f.fails[op] = errno
}

// Calls returns how many times op was invoked, failed or not.
func (f *Faults) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faults) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	if errno, ok := f.fails[op]; ok {
		return &os.PathError{Op: string(op), Path: path, Err: errno}
	}

	return nil
}

func (f *Faults) wrap(file File, path string) File {
	return &faultyFile{File: file, faults: f, path: path}
}

// Open implements [FS].
func (f *Faults) Open(path string) (File, error) {
	if err := f.check(OpOpen, path); err != nil {
		return nil, err
	}

	file, err := f.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return f.wrap(file, path), nil
}

// OpenFile implements [FS].
func (f *Faults) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	file, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return f.wrap(file, path), nil
}

// ReadFile implements [FS].
func (f *Faults) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

// ReadDir implements [FS].
func (f *Faults) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}

	return f.fs.ReadDir(path)
}

// MkdirAll implements [FS].
func (f *Faults) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

// Stat implements [FS].
func (f *Faults) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

// Exists implements [FS]. It counts as OpStat.
func (f *Faults) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

// Remove implements [FS].
func (f *Faults) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.fs.Remove(path)
}

// Rename implements [FS].
func (f *Faults) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, newpath); err != nil {
		return &os.LinkError{Op: string(OpRename), Old: oldpath, New: newpath, Err: err.(*os.PathError).Err}
	}

	return f.fs.Rename(oldpath, newpath)
}

// Link implements [FS].
func (f *Faults) Link(oldpath, newpath string) error {
	if err := f.check(OpLink, newpath); err != nil {
		return &os.LinkError{Op: string(OpLink), Old: oldpath, New: newpath, Err: err.(*os.PathError).Err}
	}

	return f.fs.Link(oldpath, newpath)
}

type faultyFile struct {
	File

	faults *Faults
	path   string
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if err := ff.faults.check(OpWrite, ff.path); err != nil {
		n, _ := ff.File.Write(p[:len(p)/2])

		return n, err
	}

	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	if err := ff.faults.check(OpSync, ff.path); err != nil {
		return err
	}

	return ff.File.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Faults)(nil)
	_ File = (*faultyFile)(nil)
)
