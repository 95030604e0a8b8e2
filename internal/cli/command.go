package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Stage groups commands in the top-level usage listing.
type Stage int

const (
	// StagePrepare covers commands that derive or write a run directory.
	StagePrepare Stage = iota
	// StageRun covers commands that act on running servers or their leftovers.
	StageRun
)

func (s Stage) title() string {
	if s == StageRun {
		return "Running and testing"
	}

	return "Preparing a run"
}

// Command is one ck subcommand. Its flags are bound to the loaded settings
// before it runs, so flag defaults shown in help are the resolved values.
type Command struct {
	Flags *flag.FlagSet

	// Usage starts with the command name, e.g. "gen --binary <path> [flags]".
	Usage string
	Short string
	Long  string
	Stage Stage

	// Examples are full command lines printed under the description.
	Examples []string

	Exec func(ctx context.Context, o *IO, args []string) error
}

func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's row in the top-level listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-44s %s", c.Usage, c.Short)
}

// PrintHelp writes "ck <cmd> --help" output to stdout.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: ck", c.Usage)
	o.Println()

	if c.Long != "" {
		o.Println(strings.TrimRight(c.Long, "\n"))
	} else {
		o.Println(c.Short)
	}

	if len(c.Examples) > 0 {
		o.Println()
		o.Println("Examples:")

		for _, ex := range c.Examples {
			o.Println("  ck", ex)
		}
	}

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	var buf strings.Builder

	c.Flags.SetOutput(&buf)
	c.Flags.PrintDefaults()

	o.Println()
	o.Println("Flags (defaults reflect the loaded config files):")
	o.Printf("%s", buf.String())
}

// Run parses args and runs Exec, returning the process exit code. Flag
// errors point at --help rather than printing the flag table.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	switch err := c.Flags.Parse(args); {
	case errors.Is(err, flag.ErrHelp):
		c.PrintHelp(o)

		return 0
	case err != nil:
		o.ErrPrintln("error:", err)
		o.ErrPrintln("Run 'ck " + c.Name() + " --help' for usage.")

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}
