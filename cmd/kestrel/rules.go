package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect confidence rules",
	}
	cmd.AddCommand(listRulesCmd())
	return cmd
}

func listRulesCmd() *cobra.Command {
	var tf tenantFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's active rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			active, err := a.rules.ListActive(cmd.Context(), tf.tenant)
			if err != nil {
				return err
			}
			if len(active) == 0 {
				fmt.Println("No active rules. Create one with POST /rules.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "PRIORITY\tTYPE\tFACTOR\tNAME\tID")
			for _, r := range active {
				fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\t%s\n", r.Priority, r.Type, r.AdjustmentFactor, r.Name, r.ID)
			}
			return nil
		},
	}
	tf.register(cmd)
	return cmd
}
