// Package fs provides the filesystem abstraction used by the generator,
// the warm-up poller and the test runner.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [Real]: production implementation using [os] package
//
// Example usage:
//
//	fsys := fs.NewReal()
//	if err := fsys.MkdirAll("test/config", 0o755); err != nil {
//	    return err
//	}
//
//	err := fsys.WriteFileAtomic("test/config/twemcache-12300.config", data, 0o644)
package fs

import (
	"os"
)

// FS defines filesystem operations for reading, writing, and managing files.
//
// All methods mirror their [os] package equivalents but can be intercepted
// in tests.
//
// Paths use OS semantics (like the os package and path/filepath), not the
// slash-separated paths used by the standard library io/fs package.
type FS interface {
	// --- Convenience Methods ---

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically and sets its mode
	// to perm. Uses a temp file + rename so readers never see a partial
	// file, and regeneration simply replaces the previous content.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// OpenFile opens a file with the given flags and mode. See [os.OpenFile].
	// Used for lock files, which need a descriptor for flock.
	OpenFile(path string, flag int, perm os.FileMode) (*os.File, error)

	// --- Directory Operations ---

	// ReadDir reads a directory and returns its entries. See [os.ReadDir].
	// Entries are sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// --- Metadata ---

	// Stat returns file info. See [os.Stat].
	// Returns [os.ErrNotExist] if file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// --- Mutations ---

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Chmod changes the mode of a file. See [os.Chmod].
	Chmod(path string, mode os.FileMode) error
}
