package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boxfs/boxfs/pkg/ctl"
	"github.com/boxfs/boxfs/pkg/transport"
)

func newServeCmd(storageDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer remote fetch/push requests against this storage",
	}
	cmd.AddCommand(newServeTCPCmd(storageDir))
	return cmd
}

func newServeTCPCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tcp <addr>",
		Short: "Listen for anonymous tcp:// peers on addr (host:port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "boxfsd: serving %s on tcp %s\n", *storageDir, args[0])
			return transport.ListenAndServeTCP(args[0], c.Storage())
		},
	}
}
