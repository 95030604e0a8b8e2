package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/host"
	"github.com/cachekit/ck/internal/itest"
	"github.com/cachekit/ck/internal/server"
	"github.com/cachekit/ck/internal/settings"
	"github.com/cachekit/ck/internal/topology"
)

const (
	cleanupFixed  = "fixed"
	cleanupConfig = "config"
)

// TestCmd returns the test command.
func TestCmd(cfg *settings.Settings, fsys fs.FS) *Command {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.TestFlags(flags)
	variant := flags.String("variant", "all", "Variants to run: generic, pmem or all")
	cleanup := flags.String("cleanup", cleanupFixed, "Datapool cleanup: fixed (--pmem-path) or config (--server-config)")
	serverConfig := flags.String("server-config", "", "Server config whose datapool is removed with --cleanup config")
	timeout := flags.Duration("timeout", itest.DefaultTimeout, "Timeout of each client request")

	return &Command{
		Flags: flags,
		Usage: "test [flags]",
		Short: "Run the integration test cases",
		Stage: StageRun,
		Examples: []string{
			"test --addr 127.0.0.1:12300",
			"test --binary ./twemcache --pmem-path /mnt/pmem0/pool",
		},
		Long: `Run every case file in the case directory (default: a directory named
after the engine) twice: as a generic test and as a pmem test. Sub-directories
and dot files are skipped. A case that fails to load fails on its own.

Without --binary the server must already be running at --addr. With --binary
the runner starts its own server per test, and the pmem test restarts it to
check that stored values are recovered from the datapool.

The datapool is removed after the run. Cleanup problems are printed as\nnotes and do not change the exit code.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(args, " "))
			}

			clean, err := cleanupFor(cfg, *cleanup, *serverConfig)
			if err != nil {
				return err
			}

			variants, err := itest.ParseVariants(*variant)
			if err != nil {
				return err
			}

			return execTest(ctx, o, cfg, fsys, variants, clean, *timeout)
		},
	}
}

func cleanupFor(cfg *settings.Settings, mode, serverConfig string) (itest.Cleanup, error) {
	switch mode {
	case cleanupFixed:
		return itest.FixedPath{Target: cfg.Abs(cfg.PmemCleanupPath)}, nil
	case cleanupConfig:
		if serverConfig == "" {
			return nil, ErrServerConfigRequired
		}

		return itest.FromConfig{ConfigPath: cfg.Abs(serverConfig)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCleanup, mode)
	}
}

func execTest(ctx context.Context, o *IO, cfg *settings.Settings, fsys fs.FS, variants []itest.Variant, clean itest.Cleanup, timeout time.Duration) error {
	engine, err := topology.ParseEngine(cfg.Engine)
	if err != nil {
		return err
	}

	envs := map[itest.Variant]itest.Env{
		itest.Generic: {FS: fsys, Addr: cfg.Addr, Timeout: timeout},
		itest.Pmem:    {FS: fsys, Addr: cfg.Addr, Timeout: timeout},
	}

	if cfg.Binary != "" {
		dir, err := os.MkdirTemp("", "ck-test-")
		if err != nil {
			return fmt.Errorf("create server dir: %w", err)
		}

		defer func() { _ = os.RemoveAll(dir) }()

		envs, err = selfHosted(fsys, dir, cfg, engine, timeout)
		if err != nil {
			return err
		}
	}

	suite, err := itest.Build(fsys, cfg.CasesPath(), variants, envs)
	if err != nil {
		return err
	}

	sum := suite.Run(ctx, itest.NewReporter(o.Out()))

	cleanPmem(o, fsys, clean)

	if !sum.OK() {
		return fmt.Errorf("%w: %d of %d", ErrTestsFailed, sum.Failed, suite.Len())
	}

	return nil
}

// selfHosted writes one config per variant under dir and returns envs whose
// servers the runner starts and stops. The pmem server maps the cleanup
// path as its datapool.
func selfHosted(fsys fs.FS, dir string, cfg *settings.Settings, engine topology.Engine, timeout time.Duration) (map[itest.Variant]itest.Env, error) {
	binary := cfg.BinaryPath()
	if strings.ContainsRune(binary, '/') {
		if err := host.CheckExecutable(binary); err != nil {
			return nil, err
		}
	}

	datapool := cfg.Abs(cfg.PmemCleanupPath)
	envs := make(map[itest.Variant]itest.Env, 2)

	for _, v := range []itest.Variant{itest.Generic, itest.Pmem} {
		inst := server.Instance{Engine: engine, AdminPort: cfg.AdminPort, ServerPort: cfg.ServerPort}
		if v == itest.Pmem {
			inst.Datapool = datapool
		}

		vdir := filepath.Join(dir, v.String())

		path, err := server.WriteConfig(fsys, vdir, inst)
		if err != nil {
			return nil, err
		}

		proc := server.NewProcess(binary, vdir, path, inst)

		env := itest.Env{FS: fsys, Addr: proc.Addr, Timeout: timeout, Server: proc}
		if v == itest.Pmem {
			env.Reset = itest.FixedPath{Target: datapool}
		}

		envs[v] = env
	}

	return envs, nil
}

// cleanPmem removes the datapool after a run. Cleanup is best effort:
// problems are reported on stderr and never change the exit code.
func cleanPmem(o *IO, fsys fs.FS, clean itest.Cleanup) {
	path, err := clean.Path(fsys)
	if err != nil {
		o.ErrPrintln("note: pmem cleanup skipped:", err)

		return
	}

	removed, err := clean.Clean(fsys)
	if err != nil {
		o.ErrPrintln("note: pmem cleanup failed:", err, "(remove "+path+" manually)")

		return
	}

	if removed {
		o.Println("removed", path)
	}
}
