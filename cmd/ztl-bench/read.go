package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	var group, zone uint32
	var sector uint64
	var nsec uint32
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read sectors directly from a (group, zone, sector) address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore()
			if err != nil {
				return err
			}
			defer core.Close()

			buf := make([]byte, int(nsec)*int(rootFlags.sectorSize))
			if err := core.ReadZone(group, zone, sector, nsec, buf); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			fmt.Printf("read %d sector(s) from group=%d zone=%d sector=%d\n", nsec, group, zone, sector)
			fmt.Printf("%x\n", buf[:min(64, len(buf))])
			return nil
		},
	}
	cmd.Flags().Uint32Var(&group, "group", 0, "zone group")
	cmd.Flags().Uint32Var(&zone, "zone", 0, "zone within the group")
	cmd.Flags().Uint64Var(&sector, "sector", 0, "starting sector within the zone")
	cmd.Flags().Uint32Var(&nsec, "nsec", 1, "number of sectors to read")
	return cmd
}
