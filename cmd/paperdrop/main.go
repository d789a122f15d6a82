// Package main is the paperdrop CLI: sign in, upload and review exam papers,
// save them to the Persistence API and watch session and API health.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	server     string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "paperdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "paperdrop",
		Short: "Upload exam papers and save their questions",
		Long: `paperdrop signs in to the Persistence API, sends PDF exam papers to the parse
service, lets you review the extracted questions and saves them as a paper with
one record per question.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default ~/.config/paperdrop/config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.server, "server", "", "Persistence API base URL")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.AddCommand(
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newStatusCmd(flags),
		newUploadCmd(flags),
		newPapersCmd(flags),
		newQuestionsCmd(flags),
		newSourceCmd(flags),
		newWatchCmd(flags),
	)
	return cmd
}
