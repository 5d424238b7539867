package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pgmcp "github.com/rickchristie/postgres-mcp-server"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = pgmcp.DefaultServiceVersion

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgmcpserver",
		Short: "PostgreSQL MCP server",
		Long: `pgmcpserver exposes a PostgreSQL database to AI agents over the Model
Context Protocol. The MCP session runs on stdin/stdout; an HTTP listener
serves a health check, Prometheus metrics and, optionally, the streamable
HTTP transport.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newDoctorCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", pgmcp.DefaultServiceName, version)
		},
	}
}
