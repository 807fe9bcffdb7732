package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxfs/boxfs/pkg/ctl"
)

func newBoxCmd(storageDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "box",
		Short: "Enumerate, create and inspect boxes",
	}
	cmd.AddCommand(
		newBoxLsCmd(storageDir),
		newBoxCreateCmd(storageDir),
		newBoxLogCmd(storageDir),
	)
	return cmd
}

func newBoxLsCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List every box this storage has touched",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			for _, name := range c.Boxes() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newBoxCreateCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create (or open, if it exists) a box",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			if _, err := c.CreateBox(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created box %q\n", args[0])
			return nil
		},
	}
}

func newBoxLogCmd(storageDir *string) *cobra.Command {
	var oneline bool
	cmd := &cobra.Command{
		Use:   "log <name>",
		Short: "List the records reachable from a box's head, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			records, err := c.ListRecords(args[0])
			if err != nil {
				return err
			}
			for _, r := range records {
				if oneline {
					fmt.Fprintf(cmd.OutOrStdout(), "%s parents=%d\n", r.Hash.Short(), r.ParentCount)
					continue
				}
				when := time.Unix(r.CommitterTime, 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  parents=%d\n", r.Hash, when, r.ParentCount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format using abbreviated hashes")
	return cmd
}
