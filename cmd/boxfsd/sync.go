package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxfs/boxfs/pkg/ctl"
	"github.com/boxfs/boxfs/pkg/sync"
)

func newSyncCmd(storageDir *string) *cobra.Command {
	var once bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending commits and fetch remote updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctl.Open(*storageDir)
			if err != nil {
				return err
			}
			if once {
				return runSyncOnce(c)
			}
			return runSyncDaemon(cmd, c, interval)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "push and fetch once, then exit, instead of running the background syncer")
	cmd.Flags().DurationVar(&interval, "interval", sync.DefaultInterval, "periodic fetch interval for the background syncer")
	return cmd
}

func runSyncOnce(c *ctl.Controller) error {
	if err := c.Push(); err != nil {
		return fmt.Errorf("sync: push: %w", err)
	}
	if err := c.Fetch(); err != nil {
		return fmt.Errorf("sync: fetch: %w", err)
	}
	if err := c.Storage().FetchBlobs(); err != nil {
		return fmt.Errorf("sync: fetch-blobs: %w", err)
	}
	for _, name := range c.Boxes() {
		b, err := c.CreateBox(name)
		if err != nil {
			return fmt.Errorf("sync: box %s: %w", name, err)
		}
		candidates, err := c.Storage().RemoteHeadsForBox(name)
		if err != nil {
			return fmt.Errorf("sync: box %s: remote heads: %w", name, err)
		}
		if err := b.UpdateFromRemotes(candidates); err != nil {
			return fmt.Errorf("sync: box %s: update from remotes: %w", name, err)
		}
	}
	return nil
}

func runSyncDaemon(cmd *cobra.Command, c *ctl.Controller, interval time.Duration) error {
	syncer := sync.New(c.Storage(), interval)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(cmd.ErrOrStderr(), "boxfsd: syncing every %s; press ctrl-c to stop\n", interval)
	err := syncer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
