package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mediarender/internal/client"
)

// cliContext carries the persistent flags to every subcommand.
type cliContext struct {
	server     string
	jsonOutput bool
}

func (c *cliContext) client() *client.Client {
	return client.New(c.server, nil)
}

func defaultServer() string {
	if s := strings.TrimSpace(os.Getenv("RENDER_SERVER")); s != "" {
		return s
	}
	return client.DefaultServer
}

func newRootCommand() *cobra.Command {
	ctx := &cliContext{}

	rootCmd := &cobra.Command{
		Use:           "renderctl",
		Short:         "Command line client for renderd",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", defaultServer(), "renderd base URL (env RENDER_SERVER)")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOutput, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newDownloadCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newFontsCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}
