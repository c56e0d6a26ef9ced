package dev

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathanhoad/suddenly-compiler/internal/build"
	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
	"github.com/nathanhoad/suddenly-compiler/internal/inject"
	"github.com/nathanhoad/suddenly-compiler/internal/loader"
	"github.com/nathanhoad/suddenly-compiler/internal/metrics"
)

// Session is one `suddenly dev` run: the first build, the asset server,
// the supervised server process, and the watchers, torn down together.
type Session struct {
	cfg  *config.Config
	logf func(string, ...interface{})

	mu     sync.Mutex
	reload *ReloadServer
	ready  bool
}

// NewSession creates a session for the configured project.
func NewSession(cfg *config.Config) *Session {
	return &Session{
		cfg: cfg,
		logf: func(format string, args ...interface{}) {
			fmt.Printf("[%s] "+format+"\n", append([]interface{}{time.Now().Format("15:04:05")}, args...)...)
		},
	}
}

// Run drives the session until interrupted. In production mode it is a
// clean no-op: deployed environments run the compiled server directly.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Production {
		s.logf("Production mode, nothing to supervise")
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// Stale compiled output from an older session could load a server
	// that no longer matches the sources.
	if err := os.RemoveAll(s.cfg.OutputPath()); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var reload *ReloadServer
	if s.cfg.Dev.HotReload {
		reload = NewReloadServer()
	}
	s.mu.Lock()
	s.reload = reload
	s.mu.Unlock()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline := build.NewPipeline(s.cfg, build.Options{
		Metrics:    m,
		OnArtifact: s.deliverArtifact,
		OnProblem: func(err error) {
			errors.PrintError(err)
			if reload != nil {
				reload.NotifyError(errors.FromError(err, errors.CodeBundleFailed).FormatCompact())
			}
		},
		OnProblemResolved: func() {
			if reload != nil {
				reload.ClearError()
			}
		},
	})

	s.logf("Building...")
	if err := pipeline.Run(ctx); err != nil {
		return err
	}
	defer pipeline.Stop()

	assets := NewAssetServer(s.cfg, registry)
	assets.Start()
	defer assets.Stop()

	supervisor := NewSupervisor(s.cfg, SupervisorOptions{
		Metrics: m,
		Reload:  reload,
	})
	defer supervisor.Stop()
	if reload != nil {
		defer reload.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- supervisor.Start(ctx)
	}()

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	go s.watchKeyboard(cancel)
	s.logf("Press q to quit")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// deliverArtifact turns a fresh bundle into rendered pages. Once the
// session is serving, a redelivery also refreshes connected browsers.
func (s *Session) deliverArtifact(artifact inject.Artifact) error {
	var views []string
	if handle, err := loader.Load(s.cfg); err == nil {
		views = handle.SourceViews(s.cfg.OutputPath())
	}

	result, err := inject.Render(s.cfg, views, artifact)
	if err != nil {
		return err
	}
	if result.UsedFallback && s.cfg.Verbose {
		s.logf("No template found, using the built-in fallback")
	}

	s.mu.Lock()
	reload := s.reload
	ready := s.ready
	s.mu.Unlock()

	if ready && reload != nil {
		reload.NotifyReload()
	}
	return nil
}

// watchKeyboard quits the session on q, mirroring ctrl-c.
func (s *Session) watchKeyboard(cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := scanner.Text(); line == "q" || line == "quit" {
			cancel()
			return
		}
	}
}
