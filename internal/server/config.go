package server

import (
	"fmt"
	"path/filepath"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/servercfg"
	"github.com/cachekit/ck/internal/topology"
)

// TestSlabMem is the slab memory of a self-hosted test server.
const TestSlabMem = 64 << 20

// Instance describes a single self-hosted server for a test run.
type Instance struct {
	Engine     topology.Engine
	AdminPort  int
	ServerPort int

	// Datapool, when set, is the pmem file the server maps.
	Datapool string
}

// Config returns the config of inst: the generated single-instance config
// with the server kept in the foreground and prefill disabled.
func (inst Instance) Config() (servercfg.File, error) {
	topo := topology.Topology{
		Instances:      1,
		AdminPortBase:  inst.AdminPort,
		ServerPortBase: inst.ServerPort,
		Bind:           topology.BindNone,
	}

	if inst.Datapool != "" {
		topo.PmemPaths = []string{inst.Datapool}
	}

	if err := topo.Validate(); err != nil {
		return servercfg.File{}, err
	}

	d, err := topology.Sizing{ValueSize: topology.DefaultValueSize, SlabMem: TestSlabMem}.Derive()
	if err != nil {
		return servercfg.File{}, err
	}

	f := servercfg.Build(inst.Engine, topo, d, 0)

	return f.With("daemonize", "no").With("prefill", "no"), nil
}

// WriteConfig writes the config of inst under dir and creates the log
// directory it refers to. It returns the config path.
func WriteConfig(fsys fs.FS, dir string, inst Instance) (string, error) {
	f, err := inst.Config()
	if err != nil {
		return "", err
	}

	for _, d := range []string{servercfg.ConfigDir, servercfg.LogDir} {
		if err := fsys.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", d, err)
		}
	}

	path := filepath.Join(dir, filepath.FromSlash(f.Path()))
	if err := fsys.WriteFileAtomic(path, servercfg.Render(f), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

// NewProcess returns a process running inst from the config written under
// dir by [WriteConfig].
func NewProcess(binary, dir, configPath string, inst Instance) *Process {
	return &Process{
		Binary:     binary,
		ConfigPath: configPath,
		Dir:        dir,
		Addr:       fmt.Sprintf("127.0.0.1:%d", inst.ServerPort),
	}
}
