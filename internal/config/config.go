package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "suddenly.json"

	// EnvFileName is the optional dotenv file loaded from the project root.
	EnvFileName = ".env"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default compiled output directory.
	DefaultOutput = "dist"

	// DefaultPublicPrefix is the URL prefix for bundled client assets.
	DefaultPublicPrefix = "/public"

	// ModeEnvVar selects production vs development behavior.
	ModeEnvVar = "SUDDENLY_ENV"

	// PortEnvVar overrides the configured development port.
	PortEnvVar = "PORT"
)

// Config represents the complete suddenly.json configuration.
// After Load returns, every field has a usable value; downstream
// components never see partial configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Production selects production behavior: no watchers, no clean skip.
	// Usually set via SUDDENLY_ENV=production rather than the file.
	Production bool `json:"production,omitempty"`

	// Verbose enables step-timing and per-change logging.
	Verbose bool `json:"verbose,omitempty"`

	// Paths contains source path configuration.
	Paths PathsConfig `json:"paths,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// Build contains compile and bundle configuration.
	Build BuildConfig `json:"build,omitempty"`

	// Client contains client bundle and template configuration.
	Client ClientConfig `json:"client,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// PathsConfig contains source path configuration.
type PathsConfig struct {
	// Server is the server source directory watched for reloads.
	Server string `json:"server,omitempty"`

	// Views is the server-rendered template directory.
	Views string `json:"views,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port the supervised front listener binds.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// AssetPort is the fixed port for the static asset server.
	AssetPort int `json:"assetPort,omitempty"`

	// Ignore contains watch patterns to skip.
	Ignore []string `json:"ignore,omitempty"`

	// HotReload enables the websocket browser-reload channel.
	HotReload bool `json:"hotReload,omitempty"`
}

// BuildConfig contains compile and bundle settings.
type BuildConfig struct {
	// Output is the compiled output directory.
	Output string `json:"output,omitempty"`

	// Compiler is the server compile command, run one-shot with no
	// extra arguments.
	Compiler string `json:"compiler,omitempty"`

	// CompilerWatchArg is appended for the persistent recompile watcher.
	CompilerWatchArg string `json:"compilerWatchArg,omitempty"`

	// Bundler is the client bundler command.
	Bundler string `json:"bundler,omitempty"`

	// Hook is an optional command run after compile, before bundling.
	Hook string `json:"hook,omitempty"`
}

// ClientConfig contains client bundle and template settings.
type ClientConfig struct {
	// Entry is the client script entry point.
	Entry string `json:"entry,omitempty"`

	// Stylesheet is the optional stylesheet entry point.
	Stylesheet string `json:"stylesheet,omitempty"`

	// Template is an explicitly configured HTML template path.
	Template string `json:"template,omitempty"`

	// PublicPrefix is the URL prefix for bundled assets.
	PublicPrefix string `json:"publicPrefix,omitempty"`

	// PassEnv lists environment variable names exposed to the bundler.
	PassEnv []string `json:"passEnv,omitempty"`

	// NoFallbackTemplate makes a missing template fatal instead of
	// falling back to the built-in one.
	NoFallbackTemplate bool `json:"noFallbackTemplate,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Paths: PathsConfig{
			Server: "src/server",
			Views:  "src/server/views",
		},
		Dev: DevConfig{
			Port:      DefaultPort,
			Host:      DefaultHost,
			AssetPort: DefaultPort + 2,
			HotReload: true,
		},
		Build: BuildConfig{
			Output:           DefaultOutput,
			Compiler:         "tsc",
			CompilerWatchArg: "--watch",
			Bundler:          "esbuild",
		},
		Client: ClientConfig{
			Entry:        "src/client/index.js",
			PublicPrefix: DefaultPublicPrefix,
		},
	}
}

// Load reads configuration from the specified directory. It looks for
// suddenly.json in the directory, loads an optional .env file alongside
// it, and applies environment overrides.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	return LoadFile(configPath)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path)).
				WithSuggestion("Create " + ConfigFileName + " at the project root")
		}
		return nil, errors.New(errors.CodeConfigInvalid).Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigInvalid).
			WithDetail("Failed to parse " + ConfigFileName + ": " + err.Error()).
			WithSuggestion("Check that " + ConfigFileName + " is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	// .env loading is best effort; a missing file is the common case.
	_ = godotenv.Load(filepath.Join(cfg.Dir(), EnvFileName))
	cfg.applyEnv()

	return cfg, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the project root directory.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Paths.Server == "" {
		c.Paths.Server = "src/server"
	}
	if c.Paths.Views == "" {
		c.Paths.Views = filepath.Join(c.Paths.Server, "views")
	}

	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.AssetPort == 0 {
		c.Dev.AssetPort = c.Dev.Port + 2
	}

	if c.Build.Output == "" {
		c.Build.Output = DefaultOutput
	}
	if c.Build.Compiler == "" {
		c.Build.Compiler = "tsc"
	}
	if c.Build.CompilerWatchArg == "" {
		c.Build.CompilerWatchArg = "--watch"
	}
	if c.Build.Bundler == "" {
		c.Build.Bundler = "esbuild"
	}

	if c.Client.Entry == "" {
		c.Client.Entry = "src/client/index.js"
	}
	if c.Client.PublicPrefix == "" {
		c.Client.PublicPrefix = DefaultPublicPrefix
	}
}

// applyEnv applies environment overrides: SUDDENLY_ENV=production and PORT.
func (c *Config) applyEnv() {
	if os.Getenv(ModeEnvVar) == "production" {
		c.Production = true
	}
	if port := os.Getenv(PortEnvVar); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			c.Dev.Port = n
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New(errors.CodeBadPort).
			WithDetail("dev.port is " + strconv.Itoa(c.Dev.Port))
	}
	if c.Dev.AssetPort < 0 || c.Dev.AssetPort > 65535 {
		return errors.New(errors.CodeBadPort).
			WithDetail("dev.assetPort is " + strconv.Itoa(c.Dev.AssetPort))
	}
	if c.Dev.AssetPort == c.Dev.Port {
		return errors.New(errors.CodeBadPort).
			WithDetail("dev.assetPort must differ from dev.port")
	}
	return nil
}

// DevAddress returns the address string for the front dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the front dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress()
}

// AssetAddress returns the address string for the asset server.
func (c *Config) AssetAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.AssetPort)
}

// AppPort returns the port the supervised server child binds. It sits
// next to the front port so the proxy target is predictable.
func (c *Config) AppPort() int {
	return c.Dev.Port + 1
}

// OutputPath returns the absolute path to the compiled output directory.
func (c *Config) OutputPath() string {
	return c.resolve(c.Build.Output)
}

// PublicOutputPath returns the public/ subdirectory of the output.
func (c *Config) PublicOutputPath() string {
	return filepath.Join(c.OutputPath(), "public")
}

// ServerSourcePath returns the absolute path to the server sources.
func (c *Config) ServerSourcePath() string {
	return c.resolve(c.Paths.Server)
}

// ViewsPath returns the absolute path to the template directory.
func (c *Config) ViewsPath() string {
	return c.resolve(c.Paths.Views)
}

// ClientEntryPath returns the absolute path to the client entry.
func (c *Config) ClientEntryPath() string {
	return c.resolve(c.Client.Entry)
}

// StylesheetPath returns the absolute stylesheet entry path, or "" when
// no stylesheet entry is configured.
func (c *Config) StylesheetPath() string {
	if c.Client.Stylesheet == "" {
		return ""
	}
	return c.resolve(c.Client.Stylesheet)
}

// TemplatePath returns the explicitly configured template path, or ""
// when the template should be discovered.
func (c *Config) TemplatePath() string {
	if c.Client.Template == "" {
		return ""
	}
	return c.resolve(c.Client.Template)
}

// ManifestPath returns the path to the compiled server manifest.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.OutputPath(), "server.json")
}

func (c *Config) resolve(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing suddenly.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(errors.CodeConfigNotFound).
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory").
				WithSuggestion("Run suddenly from inside a project, or create " + ConfigFileName)
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}
