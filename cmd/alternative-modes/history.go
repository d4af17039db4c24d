package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Toepfer-Lab/mmon-gcm/internal/config"
	"github.com/Toepfer-Lab/mmon-gcm/internal/store"
)

func openStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := st.MigrateUp(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sweep runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if runID != "" {
				return a.printRun(st, runID)
			}

			runs, err := st.ListRuns(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tCORES\tTASKS\tEXIT")
			for _, r := range runs {
				exit := "-"
				if r.ExitCode != nil {
					exit = fmt.Sprint(*r.ExitCode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Cores, r.TotalTasks, exit)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDatabase, "Run database")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 = all)")
	cmd.Flags().StringVar(&runID, "run", "", "Show the invocations of one run")
	return cmd
}

func (a *app) printRun(st *store.Store, runID string) error {
	rec, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "run %s: %s, cores %s, %d tasks\n", rec.RunID, rec.Status, rec.Cores, rec.TotalTasks)
	if rec.Error != "" {
		fmt.Fprintf(a.stdout, "error: %s\n", rec.Error)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLIGHT\tATPASE\tSTARCH\tSTATUS\tEXIT\tDURATION\tOUTPUT")
	for _, inv := range rec.Invocations {
		idx := fmt.Sprint(inv.TaskIndex)
		if inv.Reference {
			idx += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			idx, inv.LightColour, inv.ATPaseConstrained, inv.StarchKnockout,
			inv.Status, inv.ExitCode, inv.Duration, inv.OutputPath)
	}
	return tw.Flush()
}
