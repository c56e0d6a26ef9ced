package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

// Manifest describes one compiled server unit. The compile step writes it
// as server.json in the output directory.
type Manifest struct {
	// Main is the server binary path, relative to the output directory.
	Main string `json:"main"`

	// Listen declares the request-listening capability.
	Listen bool `json:"listen"`

	// Views lists template directories, relative to the project root.
	Views []string `json:"views,omitempty"`

	// Env contains extra environment for the server process.
	Env map[string]string `json:"env,omitempty"`
}

// manifestFile supports the wrapped form {"default": {...}} some compile
// toolchains emit alongside the plain form.
type manifestFile struct {
	Default *Manifest `json:"default"`
	Manifest
}

// ServerHandle is one loaded server unit: validated manifest plus the
// process-control surface the supervisor drives.
type ServerHandle struct {
	// ManifestPath is the resolved path the manifest was read from.
	ManifestPath string

	// Binary is the absolute path to the server binary.
	Binary string

	// Views are the absolute view directories from the manifest.
	Views []string

	env     []string
	workDir string

	mu      sync.Mutex
	process *os.Process
	done    chan struct{}
}

// Load reads the server manifest fresh from disk and validates its shape.
// There is deliberately no caching layer: every call observes the current
// compiled output, so a reload after a recompile always sees the new unit.
//
// A missing or unreadable manifest, or a missing binary, is a load error
// (E110). A manifest without the listen capability is a shape error (E111).
func Load(cfg *config.Config) (*ServerHandle, error) {
	path := cfg.ManifestPath()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeLoadFailed).
			WithDetail("Cannot read server manifest at " + path).
			WithSuggestion("Run the compile step first").
			Wrap(err)
	}

	var file manifestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.New(errors.CodeLoadFailed).
			WithDetail("Server manifest at " + path + " is not valid JSON: " + err.Error()).
			Wrap(err)
	}

	manifest := file.Manifest
	if file.Default != nil {
		manifest = *file.Default
	}

	if !manifest.Listen {
		return nil, errors.New(errors.CodeBadServerShape).
			WithDetail("The server at " + path + " does not expose listen").
			WithSuggestion(`Set "listen": true in the server manifest`)
	}

	if manifest.Main == "" {
		return nil, errors.New(errors.CodeLoadFailed).
			WithDetail("Server manifest at " + path + " has no main entry")
	}

	binary := manifest.Main
	if !filepath.IsAbs(binary) {
		binary = filepath.Join(cfg.OutputPath(), binary)
	}
	if _, err := os.Stat(binary); err != nil {
		return nil, errors.New(errors.CodeLoadFailed).
			WithDetail("Server binary " + binary + " referenced by " + path + " does not exist").
			Wrap(err)
	}

	views := make([]string, 0, len(manifest.Views))
	for _, view := range manifest.Views {
		if !filepath.IsAbs(view) {
			view = filepath.Join(cfg.Dir(), view)
		}
		views = append(views, filepath.Clean(view))
	}

	env := make([]string, 0, len(manifest.Env))
	for key, value := range manifest.Env {
		env = append(env, key+"="+value)
	}

	return &ServerHandle{
		ManifestPath: path,
		Binary:       binary,
		Views:        views,
		env:          env,
		workDir:      cfg.Dir(),
	}, nil
}

// SourceViews returns the view directories that refer to source files,
// excluding anything under the compiled output directory. The template
// injector reads templates from source, never from compiled output.
func (h *ServerHandle) SourceViews(outputDir string) []string {
	output := filepath.Clean(outputDir)
	var views []string
	for _, view := range h.Views {
		if view == output || strings.HasPrefix(view, output+string(os.PathSeparator)) {
			continue
		}
		views = append(views, view)
	}
	return views
}

// Start runs the server binary with the given port. The process is placed
// in its own group so children die with it.
func (h *ServerHandle) Start(ctx context.Context, port int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.process != nil {
		h.killLocked()
	}

	cmd := exec.CommandContext(ctx, h.Binary)
	cmd.Dir = h.workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), h.env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", port), "SUDDENLY_DEV=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return errors.New(errors.CodeLoadFailed).
			WithDetail("Failed to start " + h.Binary).
			Wrap(err)
	}

	h.process = cmd.Process
	h.done = make(chan struct{})
	done := h.done
	go func() {
		cmd.Wait()
		close(done)
	}()

	return nil
}

// Stop kills the server process and its children.
func (h *ServerHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killLocked()
}

// IsRunning reports whether the server process is running.
func (h *ServerHandle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.process != nil
}

func (h *ServerHandle) killLocked() {
	if h.process == nil {
		return
	}

	pgid, err := syscall.Getpgid(h.process.Pid)
	if err == nil {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		h.process.Kill()
	}

	if h.done != nil {
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			if pgid > 0 {
				syscall.Kill(-pgid, syscall.SIGKILL)
			} else {
				h.process.Kill()
			}
			<-h.done
		}
	}

	h.process = nil
	h.done = nil
}
