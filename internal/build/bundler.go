package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
	"github.com/nathanhoad/suddenly-compiler/internal/inject"
	"github.com/nathanhoad/suddenly-compiler/internal/watch"
)

// WatchEvents contains callbacks invoked by the bundler watch loop.
// Callbacks run on the watch goroutine, one at a time.
type WatchEvents struct {
	// OnBuildStart is called when a rebuild begins.
	OnBuildStart func()

	// OnBuildComplete is called after a successful rebuild.
	OnBuildComplete func(artifact inject.Artifact, duration time.Duration)

	// OnBuildError is called when a rebuild fails.
	OnBuildError func(err error)
}

// Bundler produces the client bundle: script and optional stylesheet,
// emitted under the public output directory, plus the markup artifact
// that references them. The two entry points are concatenated into one
// synthetic build input so a single delimiter separates the script
// markup from the style markup.
type Bundler struct {
	cfg *config.Config

	mu      sync.Mutex
	watcher *watch.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBundler creates a bundler for the configured project.
func NewBundler(cfg *config.Config) *Bundler {
	return &Bundler{cfg: cfg}
}

// Build runs the bundler once and returns the split markup artifact.
func (b *Bundler) Build(ctx context.Context) (inject.Artifact, error) {
	publicDir := b.cfg.PublicOutputPath()
	if err := os.MkdirAll(publicDir, 0755); err != nil {
		return inject.Artifact{}, errors.New(errors.CodeBundleFailed).
			WithDetail("Failed to create " + publicDir).
			Wrap(err)
	}

	entry, err := b.writeSyntheticEntry(publicDir)
	if err != nil {
		return inject.Artifact{}, err
	}

	if err := b.runBundler(ctx, b.cfg.ClientEntryPath(), filepath.Join(publicDir, "bundle.js")); err != nil {
		return inject.Artifact{}, err
	}
	if style := b.cfg.StylesheetPath(); style != "" {
		if err := b.runBundler(ctx, style, filepath.Join(publicDir, "bundle.css")); err != nil {
			return inject.Artifact{}, err
		}
	}

	return b.artifact(entry)
}

// writeSyntheticEntry emits the combined build input: the script entry
// and the style entry joined by the split delimiter. The delimiter
// survives into the output markup, which is what lets the injector tell
// the two halves apart later.
func (b *Bundler) writeSyntheticEntry(publicDir string) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<script src=%q></script>\n", b.cfg.Client.Entry)
	buf.WriteString(inject.SplitDelimiter + "\n")
	if b.cfg.Client.Stylesheet != "" {
		fmt.Fprintf(&buf, "<link rel=\"stylesheet\" href=%q>\n", b.cfg.Client.Stylesheet)
	}

	path := filepath.Join(publicDir, "entry.html")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", errors.New(errors.CodeBundleFailed).
			WithDetail("Failed to write bundle entry " + path).
			Wrap(err)
	}
	return path, nil
}

// runBundler invokes the configured bundler command for one entry.
func (b *Bundler) runBundler(ctx context.Context, entry, outfile string) error {
	command := strings.Fields(b.cfg.Build.Bundler)
	if len(command) == 0 {
		return errors.New(errors.CodeBundleFailed).WithDetail("No bundler command configured")
	}

	args := append(append([]string{}, command[1:]...), entry, "--bundle", "--outfile="+outfile)
	for _, name := range b.cfg.Client.PassEnv {
		args = append(args, fmt.Sprintf("--define:process.env.%s=%q", name, os.Getenv(name)))
	}

	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Dir = b.cfg.Dir()

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return errors.New(errors.CodeBundleFailed).
			WithDetail(output.String()).
			WithLocationFromOutput(output.String()).
			Wrap(err)
	}
	return nil
}

// artifact reads the synthetic entry back and rewrites the source entry
// references to their bundled output URLs, split on the delimiter.
func (b *Bundler) artifact(entryPath string) (inject.Artifact, error) {
	data, err := os.ReadFile(entryPath)
	if err != nil {
		return inject.Artifact{}, errors.New(errors.CodeBundleFailed).
			WithDetail("Failed to read bundle entry " + entryPath).
			Wrap(err)
	}

	markup := string(data)
	markup = strings.ReplaceAll(markup, b.cfg.Client.Entry, b.cfg.Client.PublicPrefix+"/bundle.js")
	if b.cfg.Client.Stylesheet != "" {
		markup = strings.ReplaceAll(markup, b.cfg.Client.Stylesheet, b.cfg.Client.PublicPrefix+"/bundle.css")
	}

	return inject.SplitBundle(markup), nil
}

// watchRoot returns the directory watched for client changes: the entry
// directory, widened to cover the stylesheet when it lives elsewhere.
func (b *Bundler) watchRoot() string {
	root := filepath.Dir(b.cfg.ClientEntryPath())
	style := b.cfg.StylesheetPath()
	if style == "" {
		return root
	}

	styleDir := filepath.Dir(style)
	for !strings.HasPrefix(styleDir+string(filepath.Separator), root+string(filepath.Separator)) {
		parent := filepath.Dir(root)
		if parent == root {
			break
		}
		root = parent
	}
	return root
}

// StartWatch starts rebuilding the client bundle whenever the client
// sources change. Changes are funneled through a capacity-one request
// channel so a burst of edits collapses into a single rebuild and no
// two rebuilds ever overlap.
func (b *Bundler) StartWatch(ctx context.Context, events WatchEvents) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watcher != nil {
		return nil
	}

	watcher := watch.New(watch.Config{
		Root:   b.watchRoot(),
		Ignore: b.cfg.Dev.Ignore,
	})

	rebuild := make(chan struct{}, 1)
	watcher.OnChange(func(watch.Change) {
		select {
		case rebuild <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go watcher.Start(ctx)
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-rebuild:
				b.runRebuild(ctx, events)
			}
		}
	}()

	b.watcher = watcher
	b.cancel = cancel
	b.done = done
	return nil
}

func (b *Bundler) runRebuild(ctx context.Context, events WatchEvents) {
	if events.OnBuildStart != nil {
		events.OnBuildStart()
	}

	start := time.Now()
	artifact, err := b.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if events.OnBuildError != nil {
			events.OnBuildError(err)
		}
		return
	}
	if events.OnBuildComplete != nil {
		events.OnBuildComplete(artifact, time.Since(start))
	}
}

// Stop shuts the watch loop down and waits for any in-flight rebuild to
// finish, so teardown never races a half-written bundle.
func (b *Bundler) Stop() {
	b.mu.Lock()
	watcher := b.watcher
	cancel := b.cancel
	done := b.done
	b.watcher = nil
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	if watcher == nil {
		return
	}

	cancel()
	watcher.Stop()
	<-done
}
