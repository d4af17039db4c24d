package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Toepfer-Lab/mmon-gcm/internal/config"
	"github.com/Toepfer-Lab/mmon-gcm/internal/store"
)

func (a *app) newMigrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Manage the run database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			switch args[0] {
			case "up":
				if err := st.MigrateUp(); err != nil {
					return err
				}
			case "down":
				if err := st.MigrateDown(); err != nil {
					return err
				}
			case "status":
			default:
				return fmt.Errorf("unknown migrate action %q (want up, down or status)", args[0])
			}

			v, dirty, err := st.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "schema version %d", v)
			if dirty {
				fmt.Fprint(a.stdout, " (dirty)")
			}
			fmt.Fprintln(a.stdout)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDatabase, "Run database")
	return cmd
}
