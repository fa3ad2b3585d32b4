// Package config provides configuration management for genforge-service.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the service configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	API        APIConfig        `toml:"api"`
	Providers  ProvidersConfig  `toml:"providers"`
	Storage    StorageConfig    `toml:"storage"`
	Stream     StreamConfig     `toml:"stream"`
	Generation GenerationConfig `toml:"generation"`
	Logging    LoggingConfig    `toml:"logging"`
	Security   SecurityConfig   `toml:"security"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	DataDir         string `toml:"data_dir"`
	PIDFile         string `toml:"pid_file"`
	ShutdownTimeout int    `toml:"shutdown_timeout_seconds"`
	MaxRequestSize  int64  `toml:"max_request_size_bytes"`
}

// APIConfig contains HTTP transport settings (§6).
type APIConfig struct {
	Enabled        bool     `toml:"enabled"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit_per_minute"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RequestTimeout int      `toml:"request_timeout_seconds"`
}

// BackendCredentials holds one backend's connection settings (§4.2
// Credentials): endpoint/model/generation parameters plus an API key, which
// is read from environment expansion rather than committed to disk.
type BackendCredentials struct {
	APIKey          string  `toml:"api_key"`
	Endpoint        string  `toml:"endpoint"`
	ModelID         string  `toml:"model_id"`
	Temperature     float64 `toml:"temperature"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	SafetyLevel     string  `toml:"safety_level"`
}

// ProvidersConfig configures the ProviderRegistry (C2, §4.2): a default
// backend, optional per-task overrides, and one credential block per
// backend.
type ProvidersConfig struct {
	DefaultProvider string `toml:"default_provider"`

	SchemaExtractionProvider string `toml:"schema_extraction_provider"`
	CodeGenerationProvider   string `toml:"code_generation_provider"`
	CodeReviewProvider       string `toml:"code_review_provider"`
	DocumentationProvider    string `toml:"documentation_provider"`

	Gemini      BackendCredentials `toml:"gemini"`
	HuggingFace BackendCredentials `toml:"huggingface"`
	Local       BackendCredentials `toml:"local"`
}

// StorageConfig configures the ArtifactStore (C4, §4.4).
type StorageConfig struct {
	StorageRoot             string `toml:"storage_root"`
	RetentionKeepLatest     int    `toml:"retention_keep_latest"`
	RetentionArchiveAgeDays int    `toml:"retention_archive_age_days"`
}

// StreamConfig configures the StreamGateway (C11, §4.5).
type StreamConfig struct {
	HeartbeatSeconds   int `toml:"heartbeat_seconds"`
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
}

// GenerationConfig tunes the orchestrator/iteration/auto-project pipeline
// (§4.9, §4.10, §5, §4.8).
type GenerationConfig struct {
	IterationDataLossThreshold float64 `toml:"iteration_data_loss_threshold"`
	AllowDataLossWarningOnly   bool    `toml:"allow_data_loss_warning_only"`
	SchemaExtractionTimeoutMs  int     `toml:"schema_extraction_timeout_ms"`
	CodeGenerationTimeoutMs    int     `toml:"code_generation_timeout_ms"`
	CodeReviewTimeoutMs        int     `toml:"code_review_timeout_ms"`
	DocumentationTimeoutMs     int     `toml:"documentation_timeout_ms"`
	AutoProjectDedupWindowSecs int     `toml:"auto_project_dedup_window_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string      `toml:"level"`
	Format     string      `toml:"format"`
	Output     StringSlice `toml:"output"`
	TimeFormat string      `toml:"time_format"`
	MaxSizeMB  int         `toml:"max_size_mb"`
	MaxBackups int         `toml:"max_backups"`
	MaxAgeDays int         `toml:"max_age_days"`
	Compress   bool        `toml:"compress"`
}

// StringSlice is a custom type that can unmarshal from either a string or []string.
type StringSlice []string

// UnmarshalTOML implements toml.Unmarshaler for flexible config parsing.
func (s *StringSlice) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = []string{v}
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string in array, got %T", item)
			}
			result[i] = str
		}
		*s = result
	default:
		return fmt.Errorf("expected string or array, got %T", data)
	}
	return nil
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	TLSEnabled  bool   `toml:"tls_enabled"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	CORSEnabled bool   `toml:"cors_enabled"`
}

// DefaultConfig returns the default configuration with all values set.
// Environment variables GENFORGE_HOST and GENFORGE_PORT can override defaults.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	host := "127.0.0.1"
	if envHost := os.Getenv("GENFORGE_HOST"); envHost != "" {
		host = envHost
	}

	port := 8420
	if envPort := os.Getenv("GENFORGE_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		}
	}

	return &Config{
		Service: ServiceConfig{
			Host:            host,
			Port:            port,
			DataDir:         dataDir,
			PIDFile:         filepath.Join(dataDir, "genforge-service.pid"),
			ShutdownTimeout: 30,
			MaxRequestSize:  10 * 1024 * 1024, // 10MB
		},
		API: APIConfig{
			Enabled:        true,
			APIKey:         "", // Empty = no auth for localhost
			RateLimit:      100,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			RequestTimeout: 60,
		},
		Providers: ProvidersConfig{
			DefaultProvider: "gemini",
			Gemini: BackendCredentials{
				APIKey:          os.Getenv("GEMINI_API_KEY"),
				ModelID:         "gemini-1.5-flash",
				Temperature:     0.3,
				MaxOutputTokens: 8192,
				SafetyLevel:     "default",
			},
			HuggingFace: BackendCredentials{
				APIKey:      os.Getenv("HUGGINGFACE_API_KEY"),
				ModelID:     "bigcode/starcoder2-15b",
				Temperature: 0.3,
			},
			Local: BackendCredentials{
				Endpoint: "http://127.0.0.1:11434",
				ModelID:  "codellama",
			},
		},
		Storage: StorageConfig{
			StorageRoot:             filepath.Join(dataDir, "projects"),
			RetentionKeepLatest:     10,
			RetentionArchiveAgeDays: 90,
		},
		Stream: StreamConfig{
			HeartbeatSeconds:   15,
			IdleTimeoutSeconds: 300,
		},
		Generation: GenerationConfig{
			IterationDataLossThreshold: 0.8,
			AllowDataLossWarningOnly:   false,
			SchemaExtractionTimeoutMs:  int(5 * minuteMs),
			CodeGenerationTimeoutMs:    int(10 * minuteMs),
			CodeReviewTimeoutMs:        int(5 * minuteMs),
			DocumentationTimeoutMs:     int(5 * minuteMs),
			AutoProjectDedupWindowSecs: 3600,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     StringSlice{"file"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Security: SecurityConfig{
			TLSEnabled:  false,
			TLSCertFile: "",
			TLSKeyFile:  "",
			CORSEnabled: true,
		},
	}
}

const minuteMs = 60 * 1000

// DefaultDataDir returns the default data directory based on OS.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "genforge-service")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "genforge-service")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "genforge-service")
	default: // linux and others
		xdgData := os.Getenv("XDG_DATA_HOME")
		if xdgData != "" {
			return filepath.Join(xdgData, "genforge-service")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".genforge-service")
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.toml")
}

// Load loads configuration from a file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if no config file exists
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Expand tilde in paths
	cfg.expandPaths()

	return cfg, nil
}

// LoadFromString loads configuration from a TOML string, merging with defaults.
func LoadFromString(tomlStr string) (*Config, error) {
	cfg := DefaultConfig()

	// Expand environment variables
	expanded := os.ExpandEnv(tomlStr)

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config string: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// expandPaths expands tilde in path fields.
func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()

	expandTilde := func(path string) string {
		if strings.HasPrefix(path, "~/") {
			return filepath.Join(home, path[2:])
		}
		return path
	}

	c.Service.DataDir = expandTilde(c.Service.DataDir)
	c.Service.PIDFile = expandTilde(c.Service.PIDFile)
	c.Storage.StorageRoot = expandTilde(c.Storage.StorageRoot)
	c.Security.TLSCertFile = expandTilde(c.Security.TLSCertFile)
	c.Security.TLSKeyFile = expandTilde(c.Security.TLSKeyFile)
}

// Save saves the configuration to a file in TOML format.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// WriteExampleConfig writes an example config file with comments.
func WriteExampleConfig(path string) error {
	example := `# genforge-service configuration file
# All values shown are defaults - uncomment and modify as needed

[service]
# Host to bind the HTTP server to
host = "127.0.0.1"
# Port to listen on
port = 8420
# Directory for service data (projects, generation db, logs)
# data_dir = "~/.genforge-service"
# PID file location
# pid_file = "~/.genforge-service/genforge-service.pid"
# Graceful shutdown timeout in seconds
shutdown_timeout_seconds = 30
# Maximum request body size in bytes (10MB default)
max_request_size_bytes = 10485760

[api]
# Enable the REST API
enabled = true
# API key for authentication (empty = no auth for localhost)
api_key = ""
# Rate limit requests per minute (0 = unlimited)
rate_limit_per_minute = 100
# Allowed CORS origins
allowed_origins = ["http://localhost:*", "http://127.0.0.1:*"]
# Request timeout in seconds
request_timeout_seconds = 60

[providers]
# Default backend for every task (gemini, huggingface, local)
default_provider = "gemini"
# Per-task overrides (empty = use default_provider)
# schema_extraction_provider = "gemini"
# code_generation_provider = "gemini"
# code_review_provider = "gemini"
# documentation_provider = "local"

[providers.gemini]
api_key = "${GEMINI_API_KEY}"
model_id = "gemini-1.5-flash"
temperature = 0.3
max_output_tokens = 8192
safety_level = "default"

[providers.huggingface]
api_key = "${HUGGINGFACE_API_KEY}"
model_id = "bigcode/starcoder2-15b"
temperature = 0.3

[providers.local]
endpoint = "http://127.0.0.1:11434"
model_id = "codellama"

[storage]
# Root directory for versioned generation artifacts
# storage_root = "~/.genforge-service/projects"
# How many of a project's most recent generations Cleanup keeps unarchived
retention_keep_latest = 10
# How old (days) a non-kept generation must be before Cleanup archives it
retention_archive_age_days = 90

[stream]
# SSE keep-alive interval in seconds
heartbeat_seconds = 15
# SSE idle-disconnect timeout in seconds (does not fail the generation)
idle_timeout_seconds = 300

[generation]
# Validated to lie between 0.0 and 1.0. The iteration engine's data-loss
# guard uses a fixed threshold of 0.8 and does not read this value (§4.9)
iteration_data_loss_threshold = 0.8
# If true, log the data-loss warning but let the iteration complete anyway
allow_data_loss_warning_only = false
# Per-stage timeouts in milliseconds
schema_extraction_timeout_ms = 300000
code_generation_timeout_ms = 600000
code_review_timeout_ms = 300000
documentation_timeout_ms = 300000
# Lookback window for reusing an auto-created sibling project
auto_project_dedup_window_seconds = 3600

[logging]
# Log level: debug, info, warn, error
level = "info"
# Log format: json, text
format = "text"
# Output destinations: "file", "stdout", or both
output = ["file"]
# Time format for log timestamps (Go time format)
time_format = "15:04:05.000"
# Maximum log file size in MB before rotation
max_size_mb = 100
# Number of backup log files to keep
max_backups = 5
# Maximum age of log files in days
max_age_days = 30
# Compress rotated log files
compress = true

[security]
# Enable TLS/HTTPS
tls_enabled = false
# Path to TLS certificate file
# tls_cert_file = "/path/to/cert.pem"
# Path to TLS key file
# tls_key_file = "/path/to/key.pem"
# Enable CORS
cors_enabled = true
`

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return os.WriteFile(path, []byte(example), 0644)
}

// Address returns the full address string for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// GenerationDBPath returns the path to the generation/project SQLite database.
func (c *Config) GenerationDBPath() string {
	return filepath.Join(c.Service.DataDir, "generations.db")
}

// LogPath returns the path to the service log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Service.DataDir, "logs", "service.log")
}

// PIDPath returns the path to the PID file.
func (c *Config) PIDPath() string {
	if c.Service.PIDFile != "" {
		return c.Service.PIDFile
	}
	return filepath.Join(c.Service.DataDir, "genforge-service.pid")
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Service.DataDir,
		c.Storage.StorageRoot,
		filepath.Dir(c.LogPath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ProjectHash generates a unique hash for an arbitrary identifier (project
// id or path). Returns the first 16 characters of the SHA256 hash.
func ProjectHash(identifier string) string {
	h := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(h[:])[:16]
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Service.Port)
	}

	if c.Service.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout_seconds must be at least 1")
	}

	if c.API.RateLimit < 0 {
		return fmt.Errorf("rate_limit_per_minute cannot be negative")
	}

	if c.Providers.Gemini.Temperature < 0 || c.Providers.Gemini.Temperature > 1 {
		return fmt.Errorf("providers.gemini.temperature must be between 0.0 and 1.0")
	}

	if c.Generation.IterationDataLossThreshold < 0 || c.Generation.IterationDataLossThreshold > 1 {
		return fmt.Errorf("iteration_data_loss_threshold must be between 0.0 and 1.0")
	}

	if c.Security.TLSEnabled {
		if c.Security.TLSCertFile == "" || c.Security.TLSKeyFile == "" {
			return fmt.Errorf("TLS enabled but cert/key files not specified")
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c

	clone.API.AllowedOrigins = make([]string, len(c.API.AllowedOrigins))
	copy(clone.API.AllowedOrigins, c.API.AllowedOrigins)

	clone.Logging.Output = make(StringSlice, len(c.Logging.Output))
	copy(clone.Logging.Output, c.Logging.Output)

	return &clone
}
