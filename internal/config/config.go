// Package config handles loading and managing mailtracker configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/wesm/mailtracker/internal/fileutil"
)

// Source types.
const (
	SourceGraph = "graph"
	SourceGmail = "gmail"
	SourceIMAP  = "imap"
	SourceMbox  = "mbox"
)

// Environment variables that override the config file.
const (
	EnvHome       = "MAILTRACKER_HOME"
	EnvTenantID   = "MAILTRACKER_TENANT_ID"
	EnvClientID   = "MAILTRACKER_CLIENT_ID"
	EnvUserID     = "MAILTRACKER_USER_ID"
	EnvOutputRoot = "MAILTRACKER_OUTPUT_ROOT"
)

// Config represents the mailtracker configuration.
type Config struct {
	Output   OutputConfig   `toml:"output"`
	Source   SourceConfig   `toml:"source"`
	Graph    GraphConfig    `toml:"graph"`
	Gmail    GmailConfig    `toml:"gmail"`
	IMAP     IMAPConfig     `toml:"imap"`
	Mbox     MboxConfig     `toml:"mbox"`
	Sync     SyncConfig     `toml:"sync"`
	Server   ServerConfig   `toml:"server"`
	Schedule ScheduleConfig `toml:"schedule"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// OutputConfig locates the workbook, attachments and state file.
type OutputConfig struct {
	Root string `toml:"root"`
}

// SourceConfig picks the mailbox provider.
type SourceConfig struct {
	Type string `toml:"type"` // graph (default), gmail, imap or mbox
}

// GraphConfig identifies the Entra ID app registration.
type GraphConfig struct {
	TenantID string `toml:"tenant_id"`
	ClientID string `toml:"client_id"`
	UserID   string `toml:"user_id"` // empty reads the signed-in user's mailbox
}

// GmailConfig holds Gmail OAuth settings.
type GmailConfig struct {
	ClientSecrets string `toml:"client_secrets"`
	Account       string `toml:"account"`
}

// IMAPConfig describes an IMAP server. The password is stored separately.
type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	TLS      bool   `toml:"tls"`
	STARTTLS bool   `toml:"starttls"`
	Mailbox  string `toml:"mailbox"`
}

// MboxConfig points at an mbox file.
type MboxConfig struct {
	Path string `toml:"path"`
}

// SyncConfig holds sync-related configuration.
type SyncConfig struct {
	PageSize     int     `toml:"page_size"`
	RateLimitQPS float64 `toml:"rate_limit_qps"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort  int    `toml:"api_port"`
	BindAddr string `toml:"bind_addr"`
	APIKey   string `toml:"api_key"`
}

// ScheduleConfig holds the periodic sync schedule used by serve.
type ScheduleConfig struct {
	Cron    string `toml:"cron"` // e.g. "*/30 * * * *"
	Enabled bool   `toml:"enabled"`
}

// ValidationError reports an unusable configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// DefaultHome returns the default mailtracker home directory.
// Respects MAILTRACKER_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv(EnvHome); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailtracker"
	}
	return filepath.Join(home, ".mailtracker")
}

// DefaultOutputRoot is where the workbook goes when nothing else is set.
func DefaultOutputRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "OutlookMailTracker"
	}
	return filepath.Join(home, "Documents", "OutlookMailTracker")
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.toml"),
		Output:     OutputConfig{Root: DefaultOutputRoot()},
		Source:     SourceConfig{Type: SourceGraph},
		IMAP:       IMAPConfig{Port: 993, TLS: true, Mailbox: "INBOX"},
		Sync:       SyncConfig{PageSize: 100, RateLimitQPS: 5},
		Server:     ServerConfig{APIPort: 8080, BindAddr: "127.0.0.1"},
	}
}

// Load reads the configuration. path is the --config flag and homeDir the
// --home flag; either may be empty. A missing file at the default location
// yields the defaults, but an explicit path must exist. Environment
// overrides are applied last.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	switch {
	case homeDir != "":
		homeDir = expandPath(homeDir)
	case explicit:
		homeDir = filepath.Dir(expandPath(path))
	default:
		homeDir = DefaultHome()
	}
	if !explicit {
		path = filepath.Join(homeDir, "config.toml")
	}
	path = expandPath(path)

	cfg := NewDefaultConfig(homeDir)
	cfg.ConfigPath = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && explicit:
		return nil, fmt.Errorf("config file not found: %s", path)
	case errors.Is(err, fs.ErrNotExist):
		// Config file is optional at the default location.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, decodeError(err)
		}
	}

	cfg.applyEnv()

	cfg.Output.Root = resolve(cfg.Output.Root, homeDir)
	cfg.Gmail.ClientSecrets = resolve(cfg.Gmail.ClientSecrets, homeDir)
	cfg.Mbox.Path = resolve(cfg.Mbox.Path, homeDir)
	cfg.Source.Type = strings.ToLower(strings.TrimSpace(cfg.Source.Type))
	if cfg.Source.Type == "" {
		cfg.Source.Type = SourceGraph
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Graph.TenantID, EnvTenantID)
	set(&c.Graph.ClientID, EnvClientID)
	set(&c.Graph.UserID, EnvUserID)
	set(&c.Output.Root, EnvOutputRoot)
}

// decodeError adds a hint to the common mistake of writing Windows paths in
// double-quoted TOML strings.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w\nhint: use forward slashes (C:/Users/...) or single quotes ('C:\\Users\\...') for Windows paths", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// Validate checks the settings needed by the selected source and by serve.
func (c *Config) Validate() error {
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 1000 {
		return &ValidationError{Field: "sync.page_size", Message: "must be between 1 and 1000"}
	}
	if c.Output.Root == "" {
		return &ValidationError{Field: "output.root", Message: "must not be empty"}
	}
	switch c.Source.Type {
	case SourceGraph:
		if c.Graph.TenantID == "" {
			return &ValidationError{Field: "graph.tenant_id", Message: "not set (or set " + EnvTenantID + ")"}
		}
		if c.Graph.ClientID == "" {
			return &ValidationError{Field: "graph.client_id", Message: "not set (or set " + EnvClientID + ")"}
		}
	case SourceGmail:
		if c.Gmail.ClientSecrets == "" {
			return &ValidationError{Field: "gmail.client_secrets", Message: "not set"}
		}
		if c.Gmail.Account == "" {
			return &ValidationError{Field: "gmail.account", Message: "not set"}
		}
	case SourceIMAP:
		if c.IMAP.Host == "" {
			return &ValidationError{Field: "imap.host", Message: "not set"}
		}
		if c.IMAP.Username == "" {
			return &ValidationError{Field: "imap.username", Message: "not set"}
		}
		if c.IMAP.TLS && c.IMAP.STARTTLS {
			return &ValidationError{Field: "imap.starttls", Message: "cannot be combined with tls"}
		}
	case SourceMbox:
		if c.Mbox.Path == "" {
			return &ValidationError{Field: "mbox.path", Message: "not set"}
		}
	default:
		return &ValidationError{Field: "source.type", Message: fmt.Sprintf("unknown source %q (want graph, gmail, imap or mbox)", c.Source.Type)}
	}
	return nil
}

// ValidateSchedule checks the [schedule] and [server] sections used by serve.
func (c *Config) ValidateSchedule() error {
	if c.Schedule.Enabled {
		if c.Schedule.Cron == "" {
			return &ValidationError{Field: "schedule.cron", Message: "required when schedule is enabled"}
		}
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return &ValidationError{Field: "schedule.cron", Message: err.Error()}
		}
	}
	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		return &ValidationError{Field: "server.api_port", Message: "must be between 1 and 65535"}
	}
	return nil
}

// ReportPath returns the workbook path.
func (c *Config) ReportPath() string {
	return filepath.Join(c.Output.Root, "MailTracker.xlsx")
}

// AttachmentsDir returns the attachments directory.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.Output.Root, "Attachments")
}

// StatePath returns the sync state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.Output.Root, "state.json")
}

// DatabasePath returns the run history database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.HomeDir, "mailtracker.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.HomeDir, "tokens")
}

// CredentialsDir holds IMAP passwords.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.HomeDir, "credentials")
}

// Save writes the configuration to ConfigPath with owner-only permissions.
func (c *Config) Save() error {
	if err := fileutil.MkdirAll(filepath.Dir(c.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return fileutil.WriteFileAtomic(c.ConfigPath, buf.Bytes(), 0o600)
}

// resolve expands ~ and makes relative paths relative to the home directory.
func resolve(path, homeDir string) string {
	path = expandPath(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(homeDir, path)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
