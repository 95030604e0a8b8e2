package cli

import (
	"context"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/itest"
	"github.com/cachekit/ck/internal/settings"
)

// CleanPmemCmd returns the clean-pmem command.
func CleanPmemCmd(cfg *settings.Settings, fsys fs.FS) *Command {
	flags := flag.NewFlagSet("clean-pmem", flag.ContinueOnError)
	path := flags.String("path", "", "Datapool path to remove (default: pmem_cleanup_path setting)")
	serverConfig := flags.String("server-config", "", "Remove the datapool named in this server config")

	return &Command{
		Flags: flags,
		Usage: "clean-pmem [--path <p> | --server-config <file>]",
		Short: "Remove a datapool left behind by a test run",
		Stage: StageRun,
		Examples: []string{
			"clean-pmem --path /mnt/pmem0/pool",
		},
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(args, " "))
			}

			if *path != "" && *serverConfig != "" {
				return ErrCleanupConflict
			}

			var clean itest.Cleanup

			switch {
			case *serverConfig != "":
				clean = itest.FromConfig{ConfigPath: cfg.Abs(*serverConfig)}
			case *path != "":
				clean = itest.FixedPath{Target: cfg.Abs(*path)}
			default:
				clean = itest.FixedPath{Target: cfg.Abs(cfg.PmemCleanupPath)}
			}

			target, err := clean.Path(fsys)
			if err != nil {
				return err
			}

			removed, err := clean.Clean(fsys)
			if err != nil {
				return err
			}

			if removed {
				o.Println("removed", target)
			} else {
				o.Println("nothing to remove at", target)
			}

			return nil
		},
	}
}
