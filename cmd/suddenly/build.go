package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathanhoad/suddenly-compiler/internal/build"
	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/inject"
	"github.com/nathanhoad/suddenly-compiler/internal/loader"
)

func buildCmd() *cobra.Command {
	var (
		output string
		clean  bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build for production",
		Long: `Compile the server and bundle the client once, with no watchers.

This command:
  • Compiles the server sources into the output directory
  • Runs the pre-bundle hook, if configured
  • Bundles the client script and stylesheet
  • Injects bundle references into your HTML template

Examples:
  suddenly build
  suddenly build --output=dist
  suddenly build --clean`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(output, clean)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default from suddenly.json)")
	cmd.Flags().BoolVar(&clean, "clean", false, "Remove the output directory first")

	return cmd
}

func runBuild(output string, clean bool) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	if output != "" {
		cfg.Build.Output = output
	}
	// A one-shot build never starts watchers, whatever the mode says.
	cfg.Production = true

	fmt.Println("  Building...")
	fmt.Println()

	if clean {
		info("Cleaning %s/", cfg.Build.Output)
		if err := os.RemoveAll(cfg.OutputPath()); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var rendered *inject.Result
	pipeline := build.NewPipeline(cfg, build.Options{
		OnArtifact: func(artifact inject.Artifact) error {
			var views []string
			if handle, err := loader.Load(cfg); err == nil {
				views = handle.SourceViews(cfg.OutputPath())
			}

			result, err := inject.Render(cfg, views, artifact)
			if err != nil {
				return err
			}
			rendered = result
			return nil
		},
		Logf: func(format string, args ...interface{}) {
			info(format, args...)
		},
	})

	start := time.Now()
	if err := pipeline.Run(ctx); err != nil {
		return err
	}

	fmt.Println()
	success("Build complete in %s", time.Since(start).Round(time.Millisecond))
	fmt.Println()
	fmt.Println("  Output:")
	fmt.Printf("    %s/\n", cfg.Build.Output)
	fmt.Printf("    ├── server.json\n")
	fmt.Printf("    └── public/\n")
	fmt.Printf("        ├── bundle.js\n")
	if cfg.Client.Stylesheet != "" {
		fmt.Printf("        ├── bundle.css\n")
	}
	if rendered != nil {
		fmt.Printf("        └── %s\n", filepath.Base(rendered.OutputPath))
		if rendered.UsedFallback {
			warn("No HTML template found, used the built-in fallback")
		}
	}
	fmt.Println()
	return nil
}
