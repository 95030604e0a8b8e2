package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/runscript"
	"github.com/cachekit/ck/internal/settings"
	"github.com/cachekit/ck/internal/topology"
	"github.com/cachekit/ck/internal/warmup"
)

// WarmUpCmd returns the warm-up command.
func WarmUpCmd(cfg *settings.Settings, fsys fs.FS) *Command {
	flags := flag.NewFlagSet("warm-up", flag.ContinueOnError)
	cfg.PrefixFlag(flags)
	flags.StringVar(&cfg.Engine, "engine", cfg.Engine, "Cache engine: twemcache or slimcache")
	flags.IntVar(&cfg.Instances, "instances", cfg.Instances, "Number of server instances")
	flags.IntVar(&cfg.ServerPort, "server-port", cfg.ServerPort, "First server port")
	interval := flags.Duration("interval", runscript.PollInterval, "Poll interval")
	timeout := flags.Duration("timeout", 0, "Give up after this long (0 = wait until interrupted)")

	return &Command{
		Flags: flags,
		Usage: "warm-up [flags]",
		Short: "Wait until every instance has finished prefill",
		Stage: StageRun,
		Examples: []string{
			"warm-up --prefix test --interval 2s",
		},
		Long: `Poll the debug log of every instance under <prefix>/log until each one
reports that prefill finished, like warm-up.sh does. Instances must already be
running (see bring-up.sh). Progress is printed after every poll.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(args, " "))
			}

			return execWarmUp(ctx, o, cfg, fsys, *interval, *timeout)
		},
	}
}

func execWarmUp(ctx context.Context, o *IO, cfg *settings.Settings, fsys fs.FS, interval, timeout time.Duration) error {
	engine, err := topology.ParseEngine(cfg.Engine)
	if err != nil {
		return err
	}

	topo := topology.Topology{
		Instances:      cfg.Instances,
		AdminPortBase:  cfg.AdminPort,
		ServerPortBase: cfg.ServerPort,
		Bind:           topology.BindNone,
	}
	if err := topo.Validate(); err != nil {
		return err
	}

	root := cfg.Abs(cfg.Prefix)
	params := runscript.Params{Engine: engine, Topology: topo}

	logs := params.LogPaths()
	for i, l := range logs {
		logs[i] = filepath.Join(root, filepath.FromSlash(l))
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p := &warmup.Poller{FS: fsys, Logs: logs, Marker: engine.WarmMarker(), Interval: interval}

	st, err := p.Wait(ctx, func(st warmup.Status) {
		o.Printf("%s: %d/%d instances warm\n", st.Time.Format(time.TimeOnly), st.Ready, st.Total)
	})
	if err != nil {
		if isCancelled(err) {
			return fmt.Errorf("interrupted with %d/%d instances warm", st.Ready, st.Total)
		}

		return fmt.Errorf("warm-up: %d/%d instances warm: %w", st.Ready, st.Total, err)
	}

	o.Println("all instances warm")

	return nil
}
