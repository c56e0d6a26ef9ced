package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	suderrors "github.com/nathanhoad/suddenly-compiler/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┬ ┬┌┬┐┌┬┐┌─┐┌┐┌┬  ┬ ┬
  └─┐│ │ ││ ││├┤ │││└┐┌┘
  └─┘└─┘─┴┘─┴┘└─┘┘└┘┴└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "suddenly",
		Short: "Build, serve, and reload your app while you work on it",
		Long: `Suddenly compiles your server, bundles your client, and keeps
both fresh while you develop.

  • One command compiles the server and bundles the client
  • The dev session restarts your server when the output changes
  • Connected browsers reload automatically
  • Bundle references are injected into your HTML template`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		devCmd(),
		buildCmd(),
		deployCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if _, ok := err.(*suderrors.SuddenlyError); ok {
			suderrors.PrintError(err)
		} else {
			fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		}
		os.Exit(1)
	}
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
