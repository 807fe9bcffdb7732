package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	bconfig "github.com/boxfs/boxfs/pkg/config"
	"github.com/boxfs/boxfs/pkg/ctl"
)

func newConfigCmd(storageDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write box configuration",
	}
	cmd.AddCommand(
		newConfigGetCmd(storageDir),
		newConfigSetCmd(storageDir),
	)
	return cmd
}

func newConfigGetCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <box>",
		Short: "Print a box's configured options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			opts := c.Config().Box(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "prefetch=%t\n", opts.Prefetch)
			return nil
		},
	}
}

func newConfigSetCmd(storageDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <box> <key> <value>",
		Short: "Set a box option (currently only \"prefetch\")",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, key, value := args[0], args[1], args[2]
			if key != "prefetch" {
				return fmt.Errorf("config set: unknown key %q", key)
			}
			prefetch, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("config set: %w", err)
			}
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			return c.SetBoxConfig(box, bconfig.BoxOptions{Prefetch: prefetch})
		},
	}
}
