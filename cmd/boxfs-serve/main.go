// Command boxfs-serve is the remote end of the ssh:// transport: an
// sshd ForceCommand target that speaks the frame protocol over its
// stdin/stdout against one storage directory, the counterpart to
// pkg/transport.DialSSH's boxfsServeCommand.
package main

import (
	"fmt"
	"os"

	"github.com/boxfs/boxfs/pkg/storage"
	"github.com/boxfs/boxfs/pkg/transport"
)

func main() {
	dir := os.Getenv("BOXFS_STORAGE")
	if dir == "" {
		fmt.Fprintln(os.Stderr, "boxfs-serve: BOXFS_STORAGE must name a storage directory")
		os.Exit(1)
	}
	s, err := storage.Open(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "boxfs-serve:", err)
		os.Exit(1)
	}
	if err := transport.ServeSSH(s); err != nil {
		fmt.Fprintln(os.Stderr, "boxfs-serve:", err)
		os.Exit(1)
	}
}
