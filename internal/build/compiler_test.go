package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompilerRunSuccess(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Build.Compiler = writeScript(t, cfg.Dir(), "compile.sh", "echo done")

	result := NewCompiler(cfg).Run(context.Background())
	if !result.Success {
		t.Fatalf("Run() failed: %v", result.Error)
	}
	if !strings.Contains(result.Output, "done") {
		t.Errorf("Output = %q, want it to contain %q", result.Output, "done")
	}
	if result.Duration <= 0 {
		t.Error("Duration was not measured")
	}
}

func TestCompilerRunFailure(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Build.Compiler = writeScript(t, cfg.Dir(), "compile.sh",
		"echo 'app.ts:3:7: error TS2304' >&2; exit 1")

	result := NewCompiler(cfg).Run(context.Background())
	if result.Success {
		t.Fatal("Run() succeeded, want failure")
	}
	if !errors.HasCode(result.Error, errors.CodeCompileFailed) {
		t.Fatalf("Error = %v, want %s", result.Error, errors.CodeCompileFailed)
	}

	serr := errors.FromError(result.Error, errors.CodeCompileFailed)
	if serr.Location == nil {
		t.Fatal("no source location extracted from compiler output")
	}
	if serr.Location.File != "app.ts" || serr.Location.Line != 3 {
		t.Errorf("Location = %+v, want app.ts:3", serr.Location)
	}
}

func TestCompilerRunWithoutCommand(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Build.Compiler = "   "

	result := NewCompiler(cfg).Run(context.Background())
	if result.Success {
		t.Fatal("Run() succeeded with no command")
	}
	if !errors.HasCode(result.Error, errors.CodeCompileFailed) {
		t.Errorf("Error = %v, want %s", result.Error, errors.CodeCompileFailed)
	}
}

func TestCompilerWatchLifecycle(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Build.Compiler = "sleep 30"
	cfg.Build.CompilerWatchArg = " "

	c := NewCompiler(cfg)
	if c.IsWatching() {
		t.Fatal("IsWatching() = true before StartWatch")
	}

	if err := c.StartWatch(context.Background()); err != nil {
		t.Fatalf("StartWatch() error = %v", err)
	}
	if !c.IsWatching() {
		t.Fatal("IsWatching() = false after StartWatch")
	}

	// Idempotent while running.
	if err := c.StartWatch(context.Background()); err != nil {
		t.Fatalf("second StartWatch() error = %v", err)
	}

	c.StopWatch()
	if c.IsWatching() {
		t.Error("IsWatching() = true after StopWatch")
	}
}
