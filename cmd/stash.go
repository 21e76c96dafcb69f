package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stephnangue/stash/cmd/server"
)

var stashCmd = &cobra.Command{
	Use:   "stash",
	Short: "Stash is a key-value storage server with pluggable drivers",
	Long: `Stash serves a key-value storage instance over HTTP. Drivers can be
mounted at base paths, prefix views scope keys, and snapshots capture
and restore whole subtrees.`,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := stashCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	stashCmd.AddCommand(server.ServerCmd)
}
