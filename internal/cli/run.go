// Package cli implements the ck command line: generation of multi-instance
// run directories for the cache server, and the integration test runner.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/fs"
	"github.com/cachekit/ck/internal/settings"
)

// Run is the main entry point. Returns exit code.
// sigCh receives OS signals; the first one cancels the running command.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("ck", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, nil)

		return 1
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out, nil)

		return 0
	}

	cfg, err := settings.Load(settings.LoadInput{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	commands := allCommands(&cfg, fs.NewReal())

	cmdName := commandAndArgs[0]

	var cmd *Command

	for _, c := range commands {
		if c.Name() == cmdName {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, cmdName))
		printUsage(errOut, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	code := cmd.Run(ctx, o, commandAndArgs[1:])

	return max(code, o.Finish())
}

func allCommands(cfg *settings.Settings, fsys fs.FS) []*Command {
	return []*Command{
		GenCmd(cfg, fsys),
		PlanCmd(cfg),
		WarmUpCmd(cfg, fsys),
		TestCmd(cfg, fsys),
		CleanPmemCmd(cfg, fsys),
		PrintConfigCmd(cfg),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, commands []*Command) {
	if commands == nil {
		cfg := settings.Default()
		commands = allCommands(&cfg, nil)
	}

	fprintln(w, `ck - cache server run directory generator and test runner

Usage: ck [options] <command> [args]

Options:
  -C, --cwd <dir>    Run as if started in <dir>
  -c, --config       Use specified config file
  -h, --help         Show help

Commands:`)

	for _, stage := range []Stage{StagePrepare, StageRun} {
		fprintln(w)
		fprintln(w, stage.title()+":")

		for _, c := range commands {
			if c.Stage == stage {
				fprintln(w, c.HelpLine())
			}
		}
	}

	fprintln(w, `
Run 'ck <command> --help' for command flags.`)
}

// isCancelled reports whether err comes from an interrupted command.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
