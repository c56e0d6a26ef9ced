package build

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

// CompileResult contains the result of one server compile run.
type CompileResult struct {
	// Success indicates if the compile succeeded.
	Success bool

	// Duration is how long the compile took.
	Duration time.Duration

	// Output is the compiler output.
	Output string

	// Error is the compile error, if any.
	Error error
}

// Compiler invokes the delegated type-checking compiler subprocess: a
// one-shot run with no extra arguments, and a supervised persistent
// watch process for recompile-on-change outside production.
type Compiler struct {
	command  []string
	watchArg []string
	dir      string

	mu       sync.Mutex
	watchCmd *exec.Cmd
	done     chan struct{}
}

// NewCompiler creates a compiler from the configured command.
func NewCompiler(cfg *config.Config) *Compiler {
	return &Compiler{
		command:  strings.Fields(cfg.Build.Compiler),
		watchArg: strings.Fields(cfg.Build.CompilerWatchArg),
		dir:      cfg.Dir(),
	}
}

// Run performs a one-shot compile.
func (c *Compiler) Run(ctx context.Context) CompileResult {
	start := time.Now()

	if len(c.command) == 0 {
		return CompileResult{
			Duration: time.Since(start),
			Error:    errors.New(errors.CodeCompileFailed).WithDetail("No compiler command configured"),
		}
	}

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	output := stderr.String()
	if output == "" {
		output = stdout.String()
	}

	if err != nil {
		return CompileResult{
			Success:  false,
			Duration: duration,
			Output:   output,
			Error: errors.New(errors.CodeCompileFailed).
				WithDetail(output).
				WithLocationFromOutput(output).
				Wrap(err),
		}
	}

	return CompileResult{
		Success:  true,
		Duration: duration,
		Output:   output,
	}
}

// StartWatch starts the persistent recompile watcher as an owned child.
// Its lifetime is tied to the session: StopWatch is always called during
// teardown, so the watcher never outlives the process that started it.
func (c *Compiler) StartWatch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watchCmd != nil {
		return nil
	}

	args := append(append([]string{}, c.command[1:]...), c.watchArg...)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	cmd.Dir = c.dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return errors.New(errors.CodeCompileFailed).
			WithDetail("Failed to start compile watcher: " + strings.Join(c.command, " ")).
			Wrap(err)
	}

	c.watchCmd = cmd
	c.done = make(chan struct{})
	done := c.done
	go func() {
		cmd.Wait()
		close(done)
	}()

	return nil
}

// StopWatch terminates the recompile watcher and waits for it to exit.
func (c *Compiler) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watchCmd == nil || c.watchCmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(c.watchCmd.Process.Pid)
	if err == nil {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		c.watchCmd.Process.Kill()
	}

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		if pgid > 0 {
			syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			c.watchCmd.Process.Kill()
		}
		<-c.done
	}

	c.watchCmd = nil
	c.done = nil
}

// IsWatching reports whether the recompile watcher is running.
func (c *Compiler) IsWatching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchCmd != nil
}
