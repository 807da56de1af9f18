package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/hubsync/internal/injector"
)

func newPendingCommand(root *rootOptions) *cobra.Command {
	var briefcaseID int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect lock and code releases still owed to the hub",
	}
	cmd.PersistentFlags().IntVar(&briefcaseID, "briefcase", 0, "Briefcase id; defaults to hub.briefcase_id from the configuration")

	resolve := func(configured int) int {
		if briefcaseID > 0 {
			return briefcaseID
		}
		return configured
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending releases, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, cleanup, err := injector.InitializeStateStore(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := store.List(cmd.Context(), resolve(cfg.Hub.BriefcaseID))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tLOCKS\tCODES\tCREATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.Kind, len(r.Request.Locks), len(r.Request.Codes), r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending release of the briefcase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, cleanup, err := injector.InitializeStateStore(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := store.Clear(cmd.Context(), resolve(cfg.Hub.BriefcaseID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d pending release(s)\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}
