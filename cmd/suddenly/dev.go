package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/dev"
)

func devCmd() *cobra.Command {
	var (
		port    int
		host    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development session",
		Long: `Compile the server, bundle the client, and keep both fresh.

The session recompiles on change, restarts your server when the
compiled output changes, and reloads connected browsers.

Examples:
  suddenly dev
  suddenly dev --port=8080
  suddenly dev --host=0.0.0.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(port, host, verbose)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to serve on (default from suddenly.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from suddenly.json)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every change and step timing")

	return cmd
}

func runDev(port int, host string, verbose bool) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	if port > 0 {
		cfg.Dev.Port = port
		cfg.Dev.AssetPort = port + 2
	}
	if host != "" {
		cfg.Dev.Host = host
	}
	if verbose {
		cfg.Verbose = true
	}

	printBanner()
	fmt.Println("  dev")
	fmt.Println()

	session := dev.NewSession(cfg)
	return session.Run(context.Background())
}
