// Command boxfsd is the control-plane CLI for a boxfs storage
// directory: enumerate/create/mount boxes, list records, manage
// remotes, read/write configuration, request a commit or sync.
// Grounded on the teacher's cmd/got/main.go root-command-assembly
// pattern (cobra.Command tree, AddCommand, Execute with a stderr
// message and exit 1 on failure).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "boxfsd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var storageDir string

	root := &cobra.Command{
		Use:   "boxfsd",
		Short: "Control plane for a boxfs storage directory",
	}
	root.PersistentFlags().StringVar(&storageDir, "storage", defaultStorageDir(), "path to the storage directory")

	root.AddCommand(
		newBoxCmd(&storageDir),
		newRemoteCmd(&storageDir),
		newConfigCmd(&storageDir),
		newCommitCmd(&storageDir),
		newSyncCmd(&storageDir),
		newServeCmd(&storageDir),
	)
	return root
}
