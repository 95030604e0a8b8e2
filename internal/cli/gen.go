package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/generate"
	"github.com/cachekit/ck/internal/host"
	"github.com/cachekit/ck/internal/settings"
	"github.com/cachekit/ck/internal/topology"
)

// genLockTimeout bounds how long gen waits for a concurrent gen on the same
// prefix.
const genLockTimeout = 5 * time.Second

// GenCmd returns the gen command.
func GenCmd(cfg *settings.Settings, fsys fs.FS) *Command {
	flags := flag.NewFlagSet("gen", flag.ContinueOnError)
	cfg.GenFlags(flags)

	return &Command{
		Flags: flags,
		Usage: "gen --binary <path> [flags]",
		Short: "Write instance configs, bring-up.sh and warm-up.sh",
		Stage: StagePrepare,
		Examples: []string{
			"gen --binary ./twemcache --instances 4 --vsize 64",
			"gen --binary ./slimcache --engine slimcache --pmem /mnt/pmem0 --pmem /mnt/pmem1",
		},
		Long: `Write one config file per instance under <prefix>/config, create
<prefix>/log, and write <prefix>/bring-up.sh and <prefix>/warm-up.sh.

All instances share one sizing derived from --vsize and --slab-mem. With
--pmem paths, instance i uses path i mod len(paths). --bind auto pins
instances to NUMA nodes when pmem paths are given.

Existing directories are reused; files of the same name are replaced.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(args, " "))
			}

			return execGen(o, cfg, fsys)
		},
	}
}

func execGen(o *IO, cfg *settings.Settings, fsys fs.FS) error {
	req, err := buildRequest(o, cfg)
	if err != nil {
		return err
	}

	if strings.ContainsRune(req.Binary, '/') {
		if err := host.CheckExecutable(req.Binary); err != nil {
			o.Warn(err.Error(), "build the server or pass the right --binary before running bring-up.sh")
		}
	}

	plan, err := generate.NewPlan(req)
	if err != nil {
		return err
	}

	root := cfg.Abs(cfg.Prefix)

	lock, err := fs.NewLocker(fsys).LockWithTimeout(filepath.Join(root, fs.LockFileName), genLockTimeout)
	if err != nil {
		return fmt.Errorf("another gen is writing %s: %w", root, err)
	}
	defer lock.Close()

	written, err := generate.Write(fsys, root, plan.Artifacts())
	if err != nil {
		return err
	}

	for _, path := range written {
		o.Println(path)
	}

	return nil
}

// buildRequest turns resolved settings into a generation request. A zero
// threads-per-socket is detected from the host when cores binding needs it.
func buildRequest(o *IO, cfg *settings.Settings) (generate.Request, error) {
	engine, err := topology.ParseEngine(cfg.Engine)
	if err != nil {
		return generate.Request{}, err
	}

	bind, err := topology.ParseBindMode(cfg.Bind)
	if err != nil {
		return generate.Request{}, err
	}

	topo := topology.Topology{
		Instances:        cfg.Instances,
		AdminPortBase:    cfg.AdminPort,
		ServerPortBase:   cfg.ServerPort,
		PmemPaths:        cfg.PmemPaths,
		Bind:             bind,
		ThreadsPerSocket: cfg.ThreadsPerSocket,
	}

	if topo.EffectiveBind() == topology.BindCores && topo.ThreadsPerSocket == 0 {
		n, err := host.ThreadsPerSocket(nil, topology.DefaultThreadsPerSocket)
		if err != nil {
			o.Warn(fmt.Sprintf("cannot detect threads per socket (%v), using %d", err, n),
				"pass --threads-per-socket")
		}

		topo.ThreadsPerSocket = n
	}

	return generate.Request{
		Binary:   cfg.BinaryPath(),
		Engine:   engine,
		Topology: topo,
		Sizing:   topology.Sizing{ValueSize: cfg.ValueSize, SlabMem: int64(cfg.SlabMem)},
	}, nil
}
