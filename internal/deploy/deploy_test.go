package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

type fakePutter struct {
	mu      sync.Mutex
	puts    []s3.PutObjectInput
	failKey string
}

func (f *fakePutter) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failKey != "" && *input.Key == f.failKey {
		return nil, os.ErrPermission
	}
	f.puts = append(f.puts, *input)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, put := range f.puts {
		keys = append(keys, *put.Key)
	}
	return keys
}

func newDeployProject(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	public := cfg.PublicOutputPath()
	if err := os.MkdirAll(filepath.Join(public, "fonts"), 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"bundle.js":       "console.log('hi');",
		"bundle.css":      "body {}",
		"index.html":      "<html></html>",
		"fonts/sans.woff": "fontdata",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(public, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func TestDeployUploadsPublicOutput(t *testing.T) {
	cfg := newDeployProject(t)
	putter := &fakePutter{}

	d, err := New(cfg, Options{
		Bucket: "assets",
		Prefix: "app",
		Client: putter,
		Logf:   func(string, ...interface{}) {},
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Files != 4 {
		t.Errorf("Files = %d, want 4", result.Files)
	}

	want := map[string]bool{
		"app/bundle.js":       true,
		"app/bundle.css":      true,
		"app/index.html":      true,
		"app/fonts/sans.woff": true,
	}
	for _, key := range putter.keys() {
		if !want[key] {
			t.Errorf("unexpected key %q", key)
		}
		delete(want, key)
	}
	for key := range want {
		t.Errorf("missing key %q", key)
	}

	for _, put := range putter.puts {
		switch *put.Key {
		case "app/index.html":
			if *put.CacheControl != "no-cache" {
				t.Errorf("index.html CacheControl = %q", *put.CacheControl)
			}
		case "app/bundle.js":
			if *put.CacheControl == "no-cache" {
				t.Error("bundle.js should be long-cacheable")
			}
		}
	}
}

func TestDeployRequiresBucket(t *testing.T) {
	cfg := newDeployProject(t)

	_, err := New(cfg, Options{Client: &fakePutter{}})
	if !errors.HasCode(err, errors.CodeDeployFailed) {
		t.Fatalf("New() error = %v, want %s", err, errors.CodeDeployFailed)
	}
}

func TestDeployRequiresBuiltOutput(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg, Options{Bucket: "assets", Client: &fakePutter{}, Logf: func(string, ...interface{}) {}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Run(context.Background()); !errors.HasCode(err, errors.CodeDeployFailed) {
		t.Fatalf("Run() error = %v, want %s", err, errors.CodeDeployFailed)
	}
}

func TestDeployUploadFailure(t *testing.T) {
	cfg := newDeployProject(t)
	putter := &fakePutter{failKey: "bundle.js"}

	d, err := New(cfg, Options{Bucket: "assets", Client: putter, Logf: func(string, ...interface{}) {}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Run(context.Background()); !errors.HasCode(err, errors.CodeDeployFailed) {
		t.Fatalf("Run() error = %v, want %s", err, errors.CodeDeployFailed)
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"bundle.css", "text/css; charset=utf-8"},
		{"data.json", "application/json"},
		{"blob.bin", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := contentType(tt.path); got != tt.want {
			t.Errorf("contentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCacheControl(t *testing.T) {
	if got := cacheControl("index.html"); got != "no-cache" {
		t.Errorf("cacheControl(index.html) = %q", got)
	}
	if got := cacheControl("bundle.js"); got == "no-cache" {
		t.Error("bundle.js should be long-cacheable")
	}
}
