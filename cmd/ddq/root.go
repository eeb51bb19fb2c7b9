package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/diligence/internal/bootstrap"
	"github.com/OFFIS-RIT/diligence/internal/util"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ddq",
	Short: "Answer and score due-diligence questionnaires locally",
	Long: `ddq runs the question answering pipeline over a directory of extracted
documents without the queue, bucket or database. Model access is configured
through the same AI_* environment as the worker.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.LoadEnv()
		bootstrap.Logger()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, scoreCmd)
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
