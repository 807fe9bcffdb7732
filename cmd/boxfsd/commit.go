package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boxfs/boxfs/pkg/ctl"
)

func newCommitCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <box>",
		Short: "Seal the named box's working tree into a new record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			if err := c.Commit(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "committed %q\n", args[0])
			return nil
		},
	}
}
