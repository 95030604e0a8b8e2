package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/settings"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *settings.Settings) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Stage: StagePrepare,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(o, cfg)
		},
	}
}

func execPrintConfig(o *IO, cfg *settings.Settings) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("format config: %w", err)
	}

	o.Println(string(data))

	o.Println("")
	o.Println("# Sources:")

	src := cfg.Sources

	if src.Global != "" {
		o.Println("#   global:", src.Global)
	}

	if src.Project != "" {
		o.Println("#   project:", src.Project)
	}

	if src.Explicit != "" {
		o.Println("#   explicit:", src.Explicit)
	}

	if src == (settings.Sources{}) {
		o.Println("#   (using defaults only)")
	}

	return nil
}
