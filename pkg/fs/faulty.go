package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
)

// Op names an operation [Faulty] can fail.
type Op string

const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpReadDir         Op = "readdir"
	OpMkdirAll        Op = "mkdirall"
	OpStat            Op = "stat"
	OpRemove          Op = "remove"

	// OpWrite and OpSync apply to files returned by [Faulty.OpenFile].
	OpWrite Op = "write"
	OpSync  Op = "sync"
)

// InjectedError marks an error produced by [Faulty]. It wraps an
// *os.PathError carrying EIO, so os helpers keep working.
type InjectedError struct {
	Err error
}

func (e *InjectedError) Error() string { return e.Err.Error() }

func (e *InjectedError) Unwrap() error { return e.Err }

// IsInjected reports whether err (or any wrapped error) came from [Faulty].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Faulty wraps an [FS] and fails operations on request.
//
// Faults are deterministic: a rule fails every matching call until it is
// removed with [Faulty.Reset]. Paths match by substring, so "users" matches
// both "users.json" and "users.jsonl".
//
//	fsys := fs.NewFaulty(fs.NewReal())
//	fsys.Fail(fs.OpWriteFileAtomic, "users")
type Faulty struct {
	fs FS

	mu    sync.Mutex
	rules []faultRule
	calls map[Op]int
}

type faultRule struct {
	op   Op
	path string
}

// NewFaulty returns a Faulty passing everything through to underlying until a
// rule is added.
func NewFaulty(underlying FS) *Faulty {
	return &Faulty{fs: underlying, calls: map[Op]int{}}
}

// Fail makes every op on a path containing pathSubstr fail. An empty
// pathSubstr matches every path.
func (f *Faulty) Fail(op Op, pathSubstr string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, path: pathSubstr})
}

// Reset removes all rules. Call counts are kept.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

// Calls returns how many times op was attempted, failed or not.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	for _, r := range f.rules {
		if r.op == op && strings.Contains(path, r.path) {
			return &InjectedError{Err: &os.PathError{Op: string(op), Path: path, Err: syscall.EIO}}
		}
	}

	return nil
}

func (f *Faulty) Open(path string) (File, error) {
	if err := f.check(OpOpen, path); err != nil {
		return nil, err
	}

	return f.fs.Open(path)
}

// OpenFile returns a file whose Write and Sync also honour the rules.
func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	file, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f, path: path}, nil
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}

	return f.fs.ReadDir(path)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.fs.Remove(path)
}

type faultyFile struct {
	File

	owner *Faulty
	path  string
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if err := ff.owner.check(OpWrite, ff.path); err != nil {
		return 0, err
	}

	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	if err := ff.owner.check(OpSync, ff.path); err != nil {
		return err
	}

	return ff.File.Sync()
}
