// ABOUTME: Configuration loading and parsing for foundry-relay
// ABOUTME: Supports YAML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent backends
const (
	AgentBackendFoundry = "foundry"
	AgentBackendEcho    = "echo"
)

// Storage backends
const (
	StorageBackendAzure = "azure"
	StorageBackendLocal = "local"
)

// Credential modes
const (
	CredentialClientSecret    = "client_secret"
	CredentialCLI             = "cli"
	CredentialDefault         = "default"
	CredentialManagedIdentity = "managed_identity"
	CredentialAPIKey          = "api_key"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultHTTPAddr       = "0.0.0.0:5000"
	DefaultAPIVersion     = "v1"
	DefaultScope          = "https://ai.azure.com/.default"
	DefaultAPIKeyHeader   = "api-key"
	DefaultPollInterval   = time.Second
	DefaultHTTPTimeout    = 120 * time.Second
	DefaultMaxUploadBytes = 10 * 1024 * 1024
	DefaultSessionTTL     = 24 * time.Hour
	DefaultMaxSessions    = 100_000
	DefaultContainer      = "flatfileinputs"
)

// DefaultAllowedExtensions is the upload allow-list used when none is configured.
var DefaultAllowedExtensions = []string{".csv", ".xlsx"}

// Config represents the complete foundry-relay configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Agent      AgentConfig      `yaml:"agent"`
	Credential CredentialConfig `yaml:"credential"`
	Storage    StorageConfig    `yaml:"storage"`
	Uploads    UploadsConfig    `yaml:"uploads"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // optional gRPC health endpoint
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"`
}

// DatabaseConfig holds database configuration.
// An empty path keeps session mappings in memory only.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig describes the remote agent service
type AgentConfig struct {
	Backend    string `yaml:"backend"`
	Endpoint   string `yaml:"endpoint"`
	AgentID    string `yaml:"agent_id"`
	APIVersion string `yaml:"api_version"`
	Scope      string `yaml:"scope"`

	PollInterval time.Duration `yaml:"-"`
	HTTPTimeout  time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
	HTTPTimeoutRaw  string `yaml:"http_timeout"`
}

// CredentialConfig selects how requests to Azure are authenticated
type CredentialConfig struct {
	Mode         string `yaml:"mode"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIKey       string `yaml:"api_key"`
	APIKeyHeader string `yaml:"api_key_header"`
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	ConnectionString string `yaml:"connection_string"`
	AccountURL       string `yaml:"account_url"`
	Container        string `yaml:"container"`
	LocalDir         string `yaml:"local_dir"`
	PublicBaseURL    string `yaml:"public_base_url"`
}

// UploadsConfig holds upload validation limits
type UploadsConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxBytes          int64    `yaml:"max_bytes"`
}

// SessionsConfig bounds the in-memory session registry
type SessionsConfig struct {
	TTL        time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`

	TTLRaw string `yaml:"ttl"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig holds OpenTelemetry exporter configuration
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}

	if c.Agent.Backend == "" {
		c.Agent.Backend = AgentBackendFoundry
	}
	if c.Agent.APIVersion == "" {
		c.Agent.APIVersion = DefaultAPIVersion
	}
	if c.Agent.Scope == "" {
		c.Agent.Scope = DefaultScope
	}
	if c.Agent.PollInterval == 0 {
		c.Agent.PollInterval = DefaultPollInterval
	}
	if c.Agent.HTTPTimeout == 0 {
		c.Agent.HTTPTimeout = DefaultHTTPTimeout
	}

	if c.Credential.Mode == "" {
		c.Credential.Mode = CredentialDefault
	}
	if c.Credential.APIKeyHeader == "" {
		c.Credential.APIKeyHeader = DefaultAPIKeyHeader
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendAzure
	}
	if c.Storage.Container == "" {
		c.Storage.Container = DefaultContainer
	}

	if len(c.Uploads.AllowedExtensions) == 0 {
		c.Uploads.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	for i, ext := range c.Uploads.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Uploads.AllowedExtensions[i] = ext
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = DefaultMaxUploadBytes
	}

	// An explicit "0s" disables expiry.
	if c.Sessions.TTLRaw == "" && c.Sessions.TTL == 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}
	if c.Sessions.MaxEntries == 0 {
		c.Sessions.MaxEntries = DefaultMaxSessions
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}

	if c.Telemetry.Dir == "" {
		c.Telemetry.Dir = "logs"
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = 10 * time.Second
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Agent.Backend {
	case AgentBackendFoundry:
		if c.Agent.Endpoint == "" {
			return fmt.Errorf("agent.endpoint is required for the foundry backend")
		}
		if c.Agent.AgentID == "" {
			return fmt.Errorf("agent.agent_id is required for the foundry backend")
		}
	case AgentBackendEcho:
	default:
		return fmt.Errorf("agent.backend %q is not one of foundry, echo", c.Agent.Backend)
	}

	if err := c.Credential.validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageBackendAzure:
		if c.Storage.ConnectionString == "" && c.Storage.AccountURL == "" {
			return fmt.Errorf("storage.connection_string or storage.account_url is required for the azure backend")
		}
	case StorageBackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of azure, local", c.Storage.Backend)
	}

	if c.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	if c.Sessions.MaxEntries < 0 {
		return fmt.Errorf("sessions.max_entries must be positive")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	return nil
}

func (c CredentialConfig) validate() error {
	switch c.Mode {
	case CredentialClientSecret:
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("credential.tenant_id, client_id and client_secret are required for client_secret mode")
		}
	case CredentialAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("credential.api_key is required for api_key mode")
		}
	case CredentialCLI, CredentialDefault, CredentialManagedIdentity:
	default:
		return fmt.Errorf("credential.mode %q is not supported", c.Mode)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agent.poll_interval", cfg.Agent.PollIntervalRaw, &cfg.Agent.PollInterval},
		{"agent.http_timeout", cfg.Agent.HTTPTimeoutRaw, &cfg.Agent.HTTPTimeout},
		{"sessions.ttl", cfg.Sessions.TTLRaw, &cfg.Sessions.TTL},
		{"telemetry.interval", cfg.Telemetry.IntervalRaw, &cfg.Telemetry.Interval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
