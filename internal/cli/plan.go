package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/cachekit/ck/internal/generate"
	"github.com/cachekit/ck/internal/settings"
)

// PlanCmd returns the plan command.
func PlanCmd(cfg *settings.Settings) *Command {
	flags := flag.NewFlagSet("plan", flag.ContinueOnError)
	cfg.GenFlags(flags)

	return &Command{
		Flags: flags,
		Usage: "plan [flags]",
		Short: "Show derived sizing and instance layout without writing",
		Stage: StagePrepare,
		Examples: []string{
			"plan --instances 8 --bind nodes",
		},
		Long: `Validate the same flags as gen and print the shared sizing and the
per-instance ports, config file, datapool and launch line. Nothing is written.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", ErrUnexpectedArgs, strings.Join(args, " "))
			}

			req, err := buildRequest(o, cfg)
			if err != nil {
				return err
			}

			if req.Binary == "" {
				req.Binary = "<binary>"
			}

			plan, err := generate.NewPlan(req)
			if err != nil {
				return err
			}

			printPlan(o, plan)

			return nil
		},
	}
}

func printPlan(o *IO, plan *generate.Plan) {
	req, d := plan.Request, plan.Derived

	o.Printf("engine:      %s\n", req.Engine)
	o.Printf("instances:   %d\n", req.Topology.Instances)
	o.Printf("bind:        %s\n", req.Topology.EffectiveBind())
	o.Printf("slab_mem:    %d (%s)\n", d.SlabMem, humanize.IBytes(uint64(d.SlabMem)))
	o.Printf("vsize:       %d\n", d.ValueSize)
	o.Printf("item_size:   %d\n", d.ItemSize)
	o.Printf("nkey:        %d (%s)\n", d.NKey, humanize.Comma(d.NKey))
	o.Printf("hash_power:  %d\n", d.HashPower)
	o.Println()

	for i, c := range plan.Configs {
		pmem := "-"
		if req.Topology.HasPmem() {
			pmem = req.Topology.PmemPath(i)
		}

		o.Printf("%d  admin=%d  server=%d  %s  pmem=%s\n",
			i, req.Topology.AdminPort(i), req.Topology.ServerPort(i), c.Path(), pmem)
		o.Printf("   %s\n", plan.Scripts.LaunchLine(i))
	}

	if req.Topology.HasPmem() {
		o.Println()
		o.Println("note: sizing is shared by all instances; pmem devices of different capacity are not accounted for")
	}
}
