// Package cli wires configuration into the store, the query surface and the
// front ends, and exposes them as cobra commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the ragstore command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "ragstore",
		Short:        "Persistent semantic retrieval store for retrieval-augmented prompting",
		SilenceUsage: true, // don't print usage on operational errors
		Long: `ragstore builds a vector store from a fixed corpus once, persists it as a
snapshot, and answers similarity queries and prompt assembly requests from it.`,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config file (defaults to ./ragstore.yaml or ~/.config/ragstore/config.yaml)")

	root.AddCommand(
		newBuildCmd(opts),
		newQueryCmd(opts),
		newPromptCmd(opts),
		newAnswerCmd(opts),
		newServeCmd(opts),
		newTUICmd(opts),
	)
	return root
}

// Execute is called by main.go.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
