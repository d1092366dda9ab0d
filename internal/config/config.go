package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level autopilot config.
	WorkspaceDirName = ".autopilot"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the autopilot MCP server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Engine    EngineConfig    `yaml:"engine"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Facts     FactsConfig     `yaml:"facts"`
	MCP       MCPConfig       `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to the host UI's Chromium instance.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start the host in detached mode with debugging enabled.
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server attaches to the host UI at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls headless mode when launching (default: false; the host UI is visible).
	Headless *bool `yaml:"headless"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Interval for draining the injected mutation buffer (e.g., "250ms").
	DrainInterval string `yaml:"drain_interval"`
}

// EngineConfig tunes the detection pipeline.
type EngineConfig struct {
	// Quiet period after a relevant mutation before scanning (e.g., "500ms").
	Debounce string `yaml:"debounce"`
	// Minimum spacing between scans (e.g., "1s").
	ScanCooldown string `yaml:"scan_cooldown"`
	// Minimum spacing between equivalent triggers (e.g., "2s").
	TriggerCooldown string `yaml:"trigger_cooldown"`
	// Time-bucket width for analytics operation dedup (e.g., "5s").
	OperationWindow string `yaml:"operation_window"`
	// Action types the engine may trigger. Empty means all known types.
	EnabledTypes []string `yaml:"enabled_types"`
}

// AnalyticsConfig controls durable session analytics.
type AnalyticsConfig struct {
	// Path to the SQLite database holding the analytics snapshot.
	StorePath string `yaml:"store_path"`
	// Directory for rotating decision traces. Empty disables tracing.
	TraceDir string `yaml:"trace_dir"`
}

// FactsConfig controls the embedded deductive telemetry engine.
type FactsConfig struct {
	Enable      bool   `yaml:"enable"`
	SchemaPath  string `yaml:"schema_path"`
	BufferLimit int    `yaml:"buffer_limit"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "autopilot-mcp",
			Version: "0.1.0",
			LogFile: "autopilot-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:            false,
			DefaultAttachTimeout: "10s",
			DrainInterval:        "250ms",
		},
		Engine: EngineConfig{
			Debounce:        "500ms",
			ScanCooldown:    "1s",
			TriggerCooldown: "2s",
			OperationWindow: "5s",
		},
		Analytics: AnalyticsConfig{
			StorePath: "data/analytics.db",
			TraceDir:  "data/traces",
		},
		Facts: FactsConfig{
			Enable:      true,
			BufferLimit: 5000,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .autopilot/config.yaml file.
// Returns the workspace root directory (parent of .autopilot/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .autopilot/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .autopilot/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	// Check if already exists
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	// Create directory structure
	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write template config
	templateConfig := `# Autopilot project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# engine:
#   debounce: "500ms"
#   trigger_cooldown: "2s"
#   enabled_types:
#     - accept
#     - accept_all

# analytics:
#   store_path: ".autopilot/data/analytics.db"

# facts:
#   schema_path: ".autopilot/schemas/telemetry.mg"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Write .gitignore for data directory
	gitignoreContent := "# Runtime data (logs, analytics, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Analytics.StorePath = resolve(cfg.Analytics.StorePath)
	cfg.Analytics.TraceDir = resolve(cfg.Analytics.TraceDir)
	cfg.Facts.SchemaPath = resolve(cfg.Facts.SchemaPath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Analytics.StorePath == "" {
		return errors.New("analytics.store_path is required")
	}
	return nil
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// PollInterval returns the parsed mutation drain interval with a sane default.
func (b BrowserConfig) PollInterval() time.Duration {
	return parseDuration(b.DrainInterval, 250*time.Millisecond)
}

// IsHeadless returns whether the host launches headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// DebounceDuration returns the parsed debounce window with a sane default.
func (e EngineConfig) DebounceDuration() time.Duration {
	return parseDuration(e.Debounce, 500*time.Millisecond)
}

// ScanCooldownDuration returns the parsed scan cooldown with a sane default.
func (e EngineConfig) ScanCooldownDuration() time.Duration {
	return parseDuration(e.ScanCooldown, time.Second)
}

// TriggerCooldownDuration returns the parsed trigger cooldown with a sane default.
func (e EngineConfig) TriggerCooldownDuration() time.Duration {
	return parseDuration(e.TriggerCooldown, 2*time.Second)
}

// OperationWindowDuration returns the parsed operation window with a sane default.
func (e EngineConfig) OperationWindowDuration() time.Duration {
	return parseDuration(e.OperationWindow, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
