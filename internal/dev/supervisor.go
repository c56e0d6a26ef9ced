package dev

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
	"github.com/nathanhoad/suddenly-compiler/internal/loader"
	"github.com/nathanhoad/suddenly-compiler/internal/metrics"
	"github.com/nathanhoad/suddenly-compiler/internal/watch"
)

// ServerUnit is one running server the supervisor can stop and replace.
// Satisfied by loader.ServerHandle.
type ServerUnit interface {
	Start(ctx context.Context, port int) error
	Stop()
}

// SupervisorOptions configures a Supervisor. Zero fields get defaults.
type SupervisorOptions struct {
	// Metrics receives reload observations.
	Metrics *metrics.Metrics

	// Reload is the browser notification channel. Nil disables it.
	Reload *ReloadServer

	// Load produces a fresh server unit from the compiled output.
	Load func() (ServerUnit, error)

	// OnReload is called after each successful swap.
	OnReload func(clients int)

	// OnProblem is called when a reload fails.
	OnProblem func(err error)

	// OnProblemResolved is called once when a reload succeeds after one
	// or more failures.
	OnProblemResolved func()

	// Logf receives progress lines.
	Logf func(format string, args ...interface{})
}

// Supervisor owns the running server process and the front listener.
// When the compiled output changes it tears the old process down, loads
// the manifest fresh, starts the replacement, and only then tells
// browsers to reload. Change bursts are coalesced so each settles into
// a single teardown, a single start, and a single notification.
type Supervisor struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	reload     *ReloadServer
	load       func() (ServerUnit, error)
	onReload   func(int)
	onProblem  func(error)
	onResolved func()
	logf       func(string, ...interface{})

	watcher    *watch.Watcher
	changeCh   chan watch.Change
	httpServer *http.Server

	mu            sync.Mutex
	running       bool
	unit          ServerUnit
	lastProblemAt *time.Time
}

// NewSupervisor creates a supervisor for the configured project.
func NewSupervisor(cfg *config.Config, opts SupervisorOptions) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		metrics:    opts.Metrics,
		reload:     opts.Reload,
		load:       opts.Load,
		onReload:   opts.OnReload,
		onProblem:  opts.OnProblem,
		onResolved: opts.OnProblemResolved,
		logf:       opts.Logf,
	}

	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	if s.load == nil {
		s.load = func() (ServerUnit, error) {
			return loader.Load(cfg)
		}
	}
	if s.onProblem == nil {
		s.onProblem = func(err error) { errors.PrintError(err) }
	}
	if s.logf == nil {
		s.logf = func(format string, args ...interface{}) {
			fmt.Printf("[%s] "+format+"\n", append([]interface{}{time.Now().Format("15:04:05")}, args...)...)
		}
	}

	return s
}

// Start loads and runs the server, then serves the front listener until
// the context is canceled. The very first load is fatal: a project that
// never came up has nothing to keep alive.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.loadAndStart(ctx); err != nil {
		s.markStopped()
		return err
	}

	s.changeCh = make(chan watch.Change, 64)
	s.watcher = watch.New(watch.Config{
		Root:   s.cfg.OutputPath(),
		Ignore: append(append([]string{}, watch.DefaultIgnore...), s.cfg.Dev.Ignore...),
	})
	s.watcher.OnChange(func(change watch.Change) {
		select {
		case s.changeCh <- change:
		default:
		}
	})

	go s.watcher.Start(ctx)
	go s.processChanges(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.DevAddress(),
		Handler: s.frontHandler(),
	}

	s.logf("Serving at %s", s.cfg.DevURL())

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// Stop tears the session's server side down: the front listener goes
// first, dropping any open connections, then the server process.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	watcher := s.watcher
	httpServer := s.httpServer
	unit := s.unit
	s.unit = nil
	s.mu.Unlock()

	if httpServer != nil {
		httpServer.Close()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if unit != nil {
		unit.Stop()
	}
}

func (s *Supervisor) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// loadAndStart reads the manifest fresh and starts the server process.
func (s *Supervisor) loadAndStart(ctx context.Context) error {
	unit, err := s.load()
	if err != nil {
		return err
	}
	if err := unit.Start(ctx, s.cfg.AppPort()); err != nil {
		return err
	}

	s.mu.Lock()
	s.unit = unit
	s.mu.Unlock()
	return nil
}

// processChanges serializes change handling and coalesces bursts.
func (s *Supervisor) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.changeCh:
			changes := []watch.Change{change}
			draining := true
			for draining {
				select {
				case next := <-s.changeCh:
					changes = append(changes, next)
				default:
					draining = false
				}
			}
			s.handleChanges(ctx, changes)
		}
	}
}

// handleChanges reloads the server once for a batch of output changes.
// Client bundle output under public/ never triggers a server reload;
// browsers hear about those through the bundle pipeline instead.
func (s *Supervisor) handleChanges(ctx context.Context, changes []watch.Change) {
	relevant := 0
	for _, change := range changes {
		if isPublicOutput(change.Rel) {
			continue
		}
		if s.cfg.Verbose {
			s.logf("Changed: %s", change.Rel)
		}
		relevant++
	}
	if relevant == 0 {
		return
	}

	s.swap(ctx)
}

// swap replaces the running server: drain the old process, load the
// manifest fresh, start the new process, then notify browsers. The
// notification never happens before the new process is up.
func (s *Supervisor) swap(ctx context.Context) {
	s.logf("Server changed, reloading...")

	s.mu.Lock()
	unit := s.unit
	s.unit = nil
	s.mu.Unlock()
	if unit != nil {
		unit.Stop()
	}

	if err := s.loadAndStart(ctx); err != nil {
		s.problem(err)
		return
	}

	s.metrics.ReloadTotal.WithLabelValues(metrics.ResultOK).Inc()

	s.mu.Lock()
	resolved := s.lastProblemAt != nil
	s.lastProblemAt = nil
	s.mu.Unlock()

	if resolved {
		s.logf("Problem resolved")
		s.metrics.ProblemsResolved.Inc()
		if s.reload != nil {
			s.reload.ClearError()
		}
		if s.onResolved != nil {
			s.onResolved()
		}
	}

	s.notifyReload()
}

// problem records a failed reload and surfaces it. The session stays
// up: the developer fixes the source and the next change tries again.
func (s *Supervisor) problem(err error) {
	s.metrics.ReloadTotal.WithLabelValues(metrics.ResultFailed).Inc()

	now := time.Now()
	s.mu.Lock()
	s.lastProblemAt = &now
	s.mu.Unlock()

	if s.reload != nil {
		s.reload.NotifyError(errors.FromError(err, errors.CodeLoadFailed).FormatCompact())
	}
	s.onProblem(err)
}

// NotifyReload tells every connected browser to refresh.
func (s *Supervisor) NotifyReload() {
	s.notifyReload()
}

func (s *Supervisor) notifyReload() {
	if s.reload == nil {
		s.logf("Reload complete (hot reload disabled)")
		return
	}

	s.reload.NotifyReload()
	clients := s.reload.ClientCount()
	if s.onReload != nil {
		s.onReload(clients)
	}
	s.logf("Reloaded %d browsers", clients)
}

// isPublicOutput reports whether an output-relative path is part of the
// client bundle output.
func isPublicOutput(rel string) bool {
	rel = strings.TrimPrefix(rel, "./")
	return rel == "public" || strings.HasPrefix(rel, "public/")
}

// frontHandler builds the front listener: the reload websocket, the
// public asset proxy, and the app proxy for everything else.
func (s *Supervisor) frontHandler() http.Handler {
	mux := http.NewServeMux()

	if s.reload != nil {
		mux.HandleFunc(ReloadPath, s.reload.HandleWebSocket)
	}

	prefix := s.cfg.Client.PublicPrefix
	assetURL, _ := url.Parse("http://" + s.cfg.AssetAddress())
	mux.Handle(prefix+"/", httputil.NewSingleHostReverseProxy(assetURL))

	mux.HandleFunc("/", s.proxyToApp)
	return mux
}

// proxyToApp forwards a request to the server process, injecting the
// reload client into HTML responses.
func (s *Supervisor) proxyToApp(w http.ResponseWriter, r *http.Request) {
	target, _ := url.Parse(fmt.Sprintf("http://localhost:%d", s.cfg.AppPort()))
	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.ModifyResponse = func(resp *http.Response) error {
		if s.reload == nil {
			return nil
		}
		if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return nil
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		resp.Body.Close()

		html := string(body)
		if idx := strings.LastIndex(html, "</body>"); idx != -1 {
			html = html[:idx] + ClientScript + html[idx:]
		} else {
			html += ClientScript
		}

		resp.Body = io.NopCloser(strings.NewReader(html))
		resp.ContentLength = int64(len(html))
		resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(html)))
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)

		script := ""
		if s.reload != nil {
			script = ClientScript
		}
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>suddenly</title></head>
<body style="font-family: system-ui; padding: 40px; background: #1a1a1a; color: #fff;">
<h1 style="color: #ff5555;">Server Not Running</h1>
<p>The server process is not responding. It may still be starting, or the
last reload may have failed &mdash; check your terminal.</p>
<p style="color: #888;">This page reloads automatically once the server is back.</p>
%s
</body>
</html>`, script)
	}

	proxy.ServeHTTP(w, r)
}
