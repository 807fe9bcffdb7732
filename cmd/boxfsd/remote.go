package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/boxfs/boxfs/pkg/ctl"
)

func newRemoteCmd(storageDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Add, remove and list configured remotes",
	}
	cmd.AddCommand(
		newRemoteAddCmd(storageDir),
		newRemoteRmCmd(storageDir),
		newRemoteLsCmd(storageDir),
	)
	return cmd
}

func newRemoteAddCmd(storageDir *string) *cobra.Command {
	var weight int
	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Register a remote (tcp://, ssh://user@host?key=path, or local:///path)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			return c.AddRemote(args[0], args[1], weight)
		},
	}
	cmd.Flags().IntVar(&weight, "weight", 0, "selection priority; higher wins ties across remotes")
	return cmd
}

func newRemoteRmCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a configured remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			return c.RemoveRemote(args[0])
		},
	}
}

func newRemoteLsCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List configured remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			for _, r := range c.ListRemotes() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tweight=%s\n", r.Name, r.URL, strconv.Itoa(r.Weight))
			}
			return nil
		},
	}
}
