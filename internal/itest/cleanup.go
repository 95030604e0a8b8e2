package itest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/servercfg"
)

// DefaultPmemPath is the shared-memory file used as datapool when no pmem
// device is mounted.
const DefaultPmemPath = "/dev/shm/pmem"

// Cleanup resolves and removes the datapool a test run leaves behind.
type Cleanup interface {
	// Path returns the artifact location.
	Path(fsys fs.FS) (string, error)

	// Clean removes the artifact if it exists and reports whether it did.
	// An absent artifact is not an error.
	Clean(fsys fs.FS) (bool, error)
}

// FixedPath cleans a known location.
type FixedPath struct {
	Target string
}

func (c FixedPath) Path(fs.FS) (string, error) {
	return c.Target, nil
}

func (c FixedPath) Clean(fsys fs.FS) (bool, error) {
	return removeIfExists(fsys, c.Target)
}

// FromConfig cleans the datapool named in a server config file. A relative
// datapool path is resolved against the server's run directory: the parent
// of the config/ directory holding the file, or the file's own directory
// when it does not live under config/.
type FromConfig struct {
	ConfigPath string
}

func (c FromConfig) Path(fsys fs.FS) (string, error) {
	data, err := fsys.ReadFile(c.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("read server config: %w", err)
	}

	srv, err := servercfg.ParseServer(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.ConfigPath, err)
	}

	if srv.Datapool() == "" {
		return "", fmt.Errorf("%w: %s", servercfg.ErrNoDatapool, c.ConfigPath)
	}

	pool := srv.Datapool()
	if filepath.IsAbs(pool) {
		return pool, nil
	}

	return filepath.Join(runDir(c.ConfigPath), pool), nil
}

func runDir(configPath string) string {
	dir := filepath.Dir(configPath)
	if filepath.Base(dir) == servercfg.ConfigDir {
		return filepath.Dir(dir)
	}

	return dir
}

func (c FromConfig) Clean(fsys fs.FS) (bool, error) {
	path, err := c.Path(fsys)
	if err != nil {
		return false, err
	}

	return removeIfExists(fsys, path)
}

func removeIfExists(fsys fs.FS, path string) (bool, error) {
	ok, err := fsys.Exists(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	if !ok {
		return false, nil
	}

	if err := fsys.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("remove %s: %w", path, err)
	}

	return true, nil
}
