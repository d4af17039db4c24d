package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Toepfer-Lab/mmon-gcm/internal/sweep"
)

func (a *app) newPlanCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "plan [cores]",
		Short: "Print every planned invocation without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cores := "1"
			if len(args) == 1 {
				cores = args[0]
			}
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			planCfg, err := cfg.PlanConfig(cores)
			if err != nil {
				return err
			}
			plan, err := sweep.NewPlan(planCfg)
			if err != nil {
				return err
			}
			runner, err := a.newRunner(cfg, a.newExecutor(cfg, true, false))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCOMBINATION\tDISPATCH\tCOMMAND")
			for _, t := range plan.Tasks() {
				dispatch := "yes"
				if !t.Reference && !cfg.GetDispatchSweep() {
					dispatch = "no"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.Index, t.Label(), dispatch, runner.CommandLine(t))
			}
			return tw.Flush()
		},
	}
	f.registerPlan(cmd)
	return cmd
}
