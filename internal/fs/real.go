package fs

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// Real is the [FS] ck uses outside tests. Reads, listings and removals go
// straight to [os]; generated files go through [Real.WriteFileAtomic].
type Real struct{}

var _ FS = (*Real)(nil)

func NewReal() *Real {
	return &Real{}
}

// WriteFileAtomic replaces path in one rename, so a bring-up.sh or instance
// config is either the previous generation or the new one. The temp file
// atomic creates is 0600 and a replaced file keeps its old mode, hence the
// chmod afterwards: bring-up.sh and warm-up.sh must end up 0755.
func (*Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	return nil
}

// Exists is Stat without the not-found error. Anything else, such as a
// permission error on a pmem mount, is returned.
func (*Real) Exists(path string) (bool, error) {
	switch _, err := os.Stat(path); {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (*Real) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (*Real) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (*Real) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (*Real) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (*Real) Remove(path string) error { return os.Remove(path) }

func (*Real) Chmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }

// OpenFile backs the .ck.lock descriptor and streaming log reads.
func (*Real) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
