package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
	"github.com/nathanhoad/suddenly-compiler/internal/inject"
	"github.com/nathanhoad/suddenly-compiler/internal/metrics"
)

const tracerName = "suddenly-compiler"

// ServerCompiler compiles the server sources. Satisfied by Compiler;
// tests substitute fakes.
type ServerCompiler interface {
	Run(ctx context.Context) CompileResult
	StartWatch(ctx context.Context) error
	StopWatch()
}

// ClientBundler builds the client bundle. Satisfied by Bundler.
type ClientBundler interface {
	Build(ctx context.Context) (inject.Artifact, error)
	StartWatch(ctx context.Context, events WatchEvents) error
	Stop()
}

// Options configures a Pipeline. Zero fields get working defaults.
type Options struct {
	// Compiler overrides the exec-based server compiler.
	Compiler ServerCompiler

	// Bundler overrides the exec-based client bundler.
	Bundler ClientBundler

	// Metrics receives compile and bundle observations. When nil a
	// throwaway registry is used.
	Metrics *metrics.Metrics

	// OnArtifact is called with each bundle artifact, including the
	// first. Returning an error marks the delivery failed.
	OnArtifact func(artifact inject.Artifact) error

	// OnProblem is called when a rebuild fails after the first build.
	OnProblem func(err error)

	// OnProblemResolved is called once when a rebuild succeeds after
	// one or more failures.
	OnProblemResolved func()

	// Logf receives progress lines.
	Logf func(format string, args ...interface{})
}

// Pipeline coordinates the full build: server compile, optional hook,
// then client bundle, strictly in that order. During the first build
// any failure is fatal. Afterwards the pipeline degrades to advisory
// reporting: rebuild failures are surfaced and remembered, and the
// first success after a failure emits a single resolved notice.
type Pipeline struct {
	cfg        *config.Config
	compiler   ServerCompiler
	bundler    ClientBundler
	metrics    *metrics.Metrics
	onArtifact func(inject.Artifact) error
	onProblem  func(error)
	onResolved func()
	logf       func(string, ...interface{})
	tracer     trace.Tracer

	mu            sync.Mutex
	built         bool
	lastProblemAt *time.Time
}

// NewPipeline creates a pipeline for the configured project.
func NewPipeline(cfg *config.Config, opts Options) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		compiler:   opts.Compiler,
		bundler:    opts.Bundler,
		metrics:    opts.Metrics,
		onArtifact: opts.OnArtifact,
		onProblem:  opts.OnProblem,
		onResolved: opts.OnProblemResolved,
		logf:       opts.Logf,
		tracer:     otel.Tracer(tracerName),
	}

	if p.compiler == nil {
		p.compiler = NewCompiler(cfg)
	}
	if p.bundler == nil {
		p.bundler = NewBundler(cfg)
	}
	if p.metrics == nil {
		p.metrics = metrics.New(prometheus.NewRegistry())
	}
	if p.onProblem == nil {
		p.onProblem = func(err error) { errors.PrintError(err) }
	}
	if p.logf == nil {
		p.logf = func(format string, args ...interface{}) {
			fmt.Printf("[%s] "+format+"\n", append([]interface{}{time.Now().Format("15:04:05")}, args...)...)
		}
	}

	return p
}

// Run performs the first build. The client bundle step does not start
// until the server compile and the pre-bundle hook have both finished.
// Outside production it then starts the recompile and rebundle
// watchers. Any error here is fatal: the caller must not proceed.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.compile(ctx); err != nil {
		return err
	}

	if err := p.runHook(ctx); err != nil {
		return err
	}

	artifact, err := p.bundle(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.built = true
	p.mu.Unlock()

	if p.onArtifact != nil {
		if err := p.onArtifact(artifact); err != nil {
			return err
		}
	}

	if p.cfg.Production {
		return nil
	}

	if err := p.compiler.StartWatch(ctx); err != nil {
		return err
	}
	return p.bundler.StartWatch(ctx, WatchEvents{
		OnBuildStart: func() {
			if p.cfg.Verbose {
				p.logf("Client changed, rebundling...")
			}
		},
		OnBuildComplete: p.handleRebuild,
		OnBuildError:    p.handleProblem,
	})
}

// Built reports whether the first build has completed.
func (p *Pipeline) Built() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built
}

// Stop tears the watchers down. The bundler is stopped first and
// awaited, then the recompile watcher.
func (p *Pipeline) Stop() {
	p.bundler.Stop()
	p.compiler.StopWatch()
}

func (p *Pipeline) compile(ctx context.Context) error {
	_, span := p.tracer.Start(ctx, "compile")
	defer span.End()

	result := p.compiler.Run(ctx)
	p.metrics.CompileDuration.Observe(result.Duration.Seconds())
	p.metrics.CompileTotal.WithLabelValues(metrics.ObserveResult(result.Error)).Inc()

	if !result.Success {
		err := result.Error
		if err == nil {
			err = errors.New(errors.CodeCompileFailed).WithDetail(result.Output)
		}
		span.SetStatus(codes.Error, "compile failed")
		return err
	}

	if p.cfg.Verbose {
		p.logf("Server compiled in %s", result.Duration.Round(time.Millisecond))
	}
	return nil
}

func (p *Pipeline) runHook(ctx context.Context) error {
	command := strings.Fields(p.cfg.Build.Hook)
	if len(command) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = p.cfg.Dir()

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return errors.New(errors.CodeHookFailed).
			WithDetail(output.String()).
			Wrap(err)
	}
	return nil
}

func (p *Pipeline) bundle(ctx context.Context) (inject.Artifact, error) {
	_, span := p.tracer.Start(ctx, "bundle")
	defer span.End()

	start := time.Now()
	artifact, err := p.bundler.Build(ctx)
	p.metrics.BundleDuration.Observe(time.Since(start).Seconds())
	p.metrics.BundleTotal.WithLabelValues(metrics.ObserveResult(err)).Inc()

	if err != nil {
		span.SetStatus(codes.Error, "bundle failed")
		return inject.Artifact{}, err
	}

	if p.cfg.Verbose {
		p.logf("Client bundled in %s", time.Since(start).Round(time.Millisecond))
	}
	return artifact, nil
}

// handleRebuild delivers a post-first-build artifact. A delivery error
// counts as a problem; a clean delivery after a problem emits the
// resolved notice exactly once.
func (p *Pipeline) handleRebuild(artifact inject.Artifact, duration time.Duration) {
	p.metrics.BundleDuration.Observe(duration.Seconds())
	p.metrics.BundleTotal.WithLabelValues(metrics.ResultOK).Inc()

	if p.cfg.Verbose {
		p.logf("Client bundled in %s", duration.Round(time.Millisecond))
	}

	if p.onArtifact != nil {
		if err := p.onArtifact(artifact); err != nil {
			p.problem(err)
			return
		}
	}

	p.mu.Lock()
	resolved := p.lastProblemAt != nil
	p.lastProblemAt = nil
	p.mu.Unlock()

	if resolved {
		p.logf("Problem resolved")
		p.metrics.ProblemsResolved.Inc()
		if p.onResolved != nil {
			p.onResolved()
		}
	}
}

// handleProblem surfaces a failed rebuild without stopping anything.
func (p *Pipeline) handleProblem(err error) {
	p.metrics.BundleTotal.WithLabelValues(metrics.ResultFailed).Inc()
	p.problem(err)
}

func (p *Pipeline) problem(err error) {
	now := time.Now()
	p.mu.Lock()
	p.lastProblemAt = &now
	p.mu.Unlock()

	p.onProblem(err)
}
