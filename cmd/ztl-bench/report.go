package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var group uint32
	cmd := &cobra.Command{
		Use:   "report-zones",
		Short: "Report state and write pointer for every zone in a group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore()
			if err != nil {
				return err
			}
			defer core.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ZONE\tSTATE\tWP\tCAPACITY")
			for z := uint32(0); z < rootFlags.zonesPerGroup; z++ {
				info, err := core.Report(group, z)
				if err != nil {
					return fmt.Errorf("report zone %d: %w", z, err)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", z, info.State, info.WP, info.Capacity)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Uint32Var(&group, "group", 0, "zone group to report")
	return cmd
}
