// Package host inspects the machine the scripts are generated on.
package host

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/cpu"
	"golang.org/x/sys/unix"
)

var (
	ErrBinaryMissing       = errors.New("server binary not found")
	ErrBinaryNotExecutable = errors.New("server binary is not executable")
	ErrBinaryIsDir         = errors.New("server binary is a directory")
)

// CountFunc reports CPU counts; logical selects hyperthreads.
type CountFunc func(logical bool) (int, error)

// ThreadsPerSocket returns the offset between a physical thread and its
// hyperthread sibling as Linux numbers them: the number of physical cores.
// If counting fails it returns fallback and the error.
func ThreadsPerSocket(count CountFunc, fallback int) (int, error) {
	if count == nil {
		count = cpu.Counts
	}

	physical, err := count(false)
	if err != nil {
		return fallback, fmt.Errorf("count physical cores: %w", err)
	}

	if physical < 1 {
		return fallback, fmt.Errorf("count physical cores: got %d", physical)
	}

	return physical, nil
}

// CheckExecutable verifies that path exists, is a regular file and is
// executable by the current user.
func CheckExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBinaryMissing, path)
		}

		return fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrBinaryIsDir, path)
	}

	if err := unix.Access(path, unix.X_OK); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotExecutable, path)
	}

	return nil
}
