package build

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
	"github.com/nathanhoad/suddenly-compiler/internal/inject"
)

// recorder collects step markers across fakes.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recorder) index(step string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.steps {
		if s == step {
			return i
		}
	}
	return -1
}

type fakeCompiler struct {
	rec    *recorder
	result CompileResult
	delay  time.Duration
}

func (f *fakeCompiler) Run(ctx context.Context) CompileResult {
	f.rec.add("compile:start")
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.rec.add("compile:done")
	return f.result
}

func (f *fakeCompiler) StartWatch(ctx context.Context) error {
	f.rec.add("compile:watch")
	return nil
}

func (f *fakeCompiler) StopWatch() {
	f.rec.add("compile:stopwatch")
}

type fakeBundler struct {
	rec     *recorder
	buildFn func(ctx context.Context) (inject.Artifact, error)

	mu     sync.Mutex
	events WatchEvents
}

func (f *fakeBundler) Build(ctx context.Context) (inject.Artifact, error) {
	f.rec.add("bundle:start")
	defer f.rec.add("bundle:done")
	if f.buildFn != nil {
		return f.buildFn(ctx)
	}
	return inject.Artifact{Script: "<script src=\"/public/bundle.js\"></script>"}, nil
}

func (f *fakeBundler) StartWatch(ctx context.Context, events WatchEvents) error {
	f.rec.add("bundle:watch")
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
	return nil
}

func (f *fakeBundler) Stop() {
	f.rec.add("bundle:stop")
}

func (f *fakeBundler) watchEvents() WatchEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func quietLogf(string, ...interface{}) {}

func TestPipelineCompileFinishesBeforeBundleStarts(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}, delay: 50 * time.Millisecond}
	bundler := &fakeBundler{rec: rec}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	compileDone := rec.index("compile:done")
	bundleStart := rec.index("bundle:start")
	if compileDone == -1 || bundleStart == -1 {
		t.Fatalf("missing steps, got %v", rec.steps)
	}
	if bundleStart < compileDone {
		t.Errorf("bundle started before compile finished: %v", rec.steps)
	}

	if !p.Built() {
		t.Error("Built() = false after successful Run")
	}
}

func TestPipelineCompileFailureIsFatal(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{
		Success: false,
		Output:  "app.ts:3:7: error TS2304",
		Error:   errors.New(errors.CodeCompileFailed).WithDetail("app.ts:3:7: error TS2304"),
	}}
	bundler := &fakeBundler{rec: rec}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	err := p.Run(context.Background())
	if !errors.HasCode(err, errors.CodeCompileFailed) {
		t.Fatalf("Run() error = %v, want %s", err, errors.CodeCompileFailed)
	}

	if rec.index("bundle:start") != -1 {
		t.Errorf("bundler ran after failed compile: %v", rec.steps)
	}
	if p.Built() {
		t.Error("Built() = true after failed Run")
	}
}

func TestPipelineHookRunsAfterCompileBeforeBundle(t *testing.T) {
	cfg := newTestConfig(t)
	hookFile := filepath.Join(cfg.Dir(), "hooked")
	cfg.Build.Hook = "touch " + hookFile

	rec := &recorder{}
	hookedAtBundle := false
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec, buildFn: func(ctx context.Context) (inject.Artifact, error) {
		if _, err := os.Stat(hookFile); err == nil {
			hookedAtBundle = true
		}
		return inject.Artifact{}, nil
	}}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !hookedAtBundle {
		t.Error("hook had not run when bundling started")
	}
}

func TestPipelineHookFailureIsFatal(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Build.Hook = "false"

	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	err := p.Run(context.Background())
	if !errors.HasCode(err, errors.CodeHookFailed) {
		t.Fatalf("Run() error = %v, want %s", err, errors.CodeHookFailed)
	}

	if rec.index("bundle:start") != -1 {
		t.Errorf("bundler ran after failed hook: %v", rec.steps)
	}
}

func TestPipelineBundleFailureIsFatalOnFirstBuild(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec, buildFn: func(ctx context.Context) (inject.Artifact, error) {
		return inject.Artifact{}, errors.New(errors.CodeBundleFailed).WithDetail("boom")
	}}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	err := p.Run(context.Background())
	if !errors.HasCode(err, errors.CodeBundleFailed) {
		t.Fatalf("Run() error = %v, want %s", err, errors.CodeBundleFailed)
	}
	if p.Built() {
		t.Error("Built() = true after failed first bundle")
	}
}

func TestPipelineDeliversArtifact(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	want := inject.Artifact{
		Script: "<script src=\"/public/bundle.js\"></script>",
		Style:  "<link rel=\"stylesheet\" href=\"/public/bundle.css\">",
	}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec, buildFn: func(ctx context.Context) (inject.Artifact, error) {
		return want, nil
	}}

	var got inject.Artifact
	p := NewPipeline(cfg, Options{
		Compiler: compiler,
		Bundler:  bundler,
		Logf:     quietLogf,
		OnArtifact: func(artifact inject.Artifact) error {
			got = artifact
			return nil
		},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != want {
		t.Errorf("artifact = %+v, want %+v", got, want)
	}
}

func TestPipelineProductionSkipsWatchers(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Production = true

	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.index("compile:watch") != -1 || rec.index("bundle:watch") != -1 {
		t.Errorf("watchers started in production: %v", rec.steps)
	}
}

func TestPipelineResolvedNoticeAfterProblem(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec}

	var problems, resolved int
	p := NewPipeline(cfg, Options{
		Compiler:          compiler,
		Bundler:           bundler,
		Logf:              quietLogf,
		OnProblem:         func(err error) { problems++ },
		OnProblemResolved: func() { resolved++ },
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := bundler.watchEvents()
	if events.OnBuildError == nil || events.OnBuildComplete == nil {
		t.Fatal("watch events were not wired")
	}

	events.OnBuildError(errors.New(errors.CodeBundleFailed).WithDetail("syntax error"))
	if problems != 1 {
		t.Fatalf("problems = %d, want 1", problems)
	}
	if resolved != 0 {
		t.Fatalf("resolved = %d before any success, want 0", resolved)
	}

	events.OnBuildComplete(inject.Artifact{}, time.Millisecond)
	if resolved != 1 {
		t.Fatalf("resolved = %d after recovery, want 1", resolved)
	}

	// Further clean rebuilds stay quiet.
	events.OnBuildComplete(inject.Artifact{}, time.Millisecond)
	if resolved != 1 {
		t.Errorf("resolved = %d after second clean rebuild, want 1", resolved)
	}
}

func TestPipelineRepeatedFailuresEmitNoResolvedNotice(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec}

	var problems, resolved int
	p := NewPipeline(cfg, Options{
		Compiler:          compiler,
		Bundler:           bundler,
		Logf:              quietLogf,
		OnProblem:         func(err error) { problems++ },
		OnProblemResolved: func() { resolved++ },
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := bundler.watchEvents()
	events.OnBuildError(errors.New(errors.CodeBundleFailed))
	events.OnBuildError(errors.New(errors.CodeBundleFailed))

	if problems != 2 {
		t.Errorf("problems = %d, want 2", problems)
	}
	if resolved != 0 {
		t.Errorf("resolved = %d, want 0", resolved)
	}
}

func TestPipelineDeliveryFailureCountsAsProblem(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec}

	var deliveries, problems, resolved int
	p := NewPipeline(cfg, Options{
		Compiler: compiler,
		Bundler:  bundler,
		Logf:     quietLogf,
		OnArtifact: func(artifact inject.Artifact) error {
			deliveries++
			if deliveries == 2 {
				return errors.New(errors.CodeTemplateMissing)
			}
			return nil
		},
		OnProblem:         func(err error) { problems++ },
		OnProblemResolved: func() { resolved++ },
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := bundler.watchEvents()
	events.OnBuildComplete(inject.Artifact{}, time.Millisecond)
	if problems != 1 {
		t.Fatalf("problems = %d after failed delivery, want 1", problems)
	}

	events.OnBuildComplete(inject.Artifact{}, time.Millisecond)
	if resolved != 1 {
		t.Errorf("resolved = %d after clean delivery, want 1", resolved)
	}
}

func TestPipelineStopOrder(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &recorder{}
	compiler := &fakeCompiler{rec: rec, result: CompileResult{Success: true}}
	bundler := &fakeBundler{rec: rec}

	p := NewPipeline(cfg, Options{Compiler: compiler, Bundler: bundler, Logf: quietLogf})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Stop()

	bundleStop := rec.index("bundle:stop")
	compileStop := rec.index("compile:stopwatch")
	if bundleStop == -1 || compileStop == -1 {
		t.Fatalf("missing stop steps: %v", rec.steps)
	}
	if bundleStop > compileStop {
		t.Errorf("bundler stopped after compiler watcher: %v", rec.steps)
	}
}
