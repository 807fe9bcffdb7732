package main

import (
	"os"
	"path/filepath"
)

// defaultStorageDir resolves the per-user data directory spec.md §6
// names ("Per-user data directory per XDG base-directory conventions;
// one storage per directory"): $XDG_DATA_HOME/boxfs, falling back to
// ~/.local/share/boxfs when XDG_DATA_HOME is unset.
func defaultStorageDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "boxfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".boxfs")
	}
	return filepath.Join(home, ".local", "share", "boxfs")
}
