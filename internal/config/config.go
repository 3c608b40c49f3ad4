// Package config handles shcd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// searchPathsFunc backs DefaultSearchPaths; overridable in tests so they
// don't pick up a real operator config file on the machine running them.
var searchPathsFunc = defaultSearchPaths

// DefaultSearchPaths returns the config file search order: ./config.yaml,
// ~/.config/shcd/config.yaml, the container convention /config/config.yaml,
// then /etc/shcd/config.yaml.
func DefaultSearchPaths() []string { return searchPathsFunc() }

func defaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "shcd", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/shcd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all shcd configuration: the web API's listen address, the
// data directory backing every data-log store, the supervised interfaces,
// and the declarative connection graph that wires them together.
type Config struct {
	Listen     ListenConfig         `yaml:"listen"`
	DataDir    string               `yaml:"data_dir"`
	LogLevel   string               `yaml:"log_level"`
	Auth       AuthConfig           `yaml:"auth"`
	Interfaces InterfacesConfig     `yaml:"interfaces"`
	Graph      GraphConfig          `yaml:"graph"`
	UI         UIConfig             `yaml:"ui"`
}

// UIConfig declares the dashboard pages internal/webui renders on top of
// the connection graph's objects. A zero-value UIConfig (no pages) means
// no dashboard is mounted; the object API is unaffected either way.
type UIConfig struct {
	IndexPage string     `yaml:"index_page"`
	Pages     []PageDecl `yaml:"pages"`
}

// PageDecl declares one dashboard page.
type PageDecl struct {
	Name  string     `yaml:"name"`
	Title string     `yaml:"title"`
	Items []ItemDecl `yaml:"items"`
}

// ItemDecl declares one page item: an optional Markdown description and the
// widgets it groups.
type ItemDecl struct {
	Description string      `yaml:"description"`
	Widgets     []WidgetDecl `yaml:"widgets"`
}

// WidgetDecl declares one widget bound to a connection-graph object.
type WidgetDecl struct {
	ID     string `yaml:"id"`
	Label  string `yaml:"label"`
	Kind   string `yaml:"kind"` // "switch", "display", or "number"
	Object string `yaml:"object"`
}

// Configured reports whether any dashboard pages are declared.
func (c UIConfig) Configured() bool { return len(c.Pages) > 0 }

// ListenConfig defines the web API server's bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AuthConfig guards the web API and UI websocket endpoints with HTTP basic
// auth. Disabled (both fields empty) means unauthenticated access, matching
// a trusted-LAN deployment.
type AuthConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt hash, never the plaintext
}

// Configured reports whether basic auth should be enforced.
func (c AuthConfig) Configured() bool {
	return c.Username != "" && c.PasswordHash != ""
}

// Verify checks password against the configured bcrypt hash.
func (c AuthConfig) Verify(password string) bool {
	if !c.Configured() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
}

// InterfacesConfig holds the configuration for every example supervised
// interface shcd ships. Each is independently optional; an interface with
// Enabled false (or a zero-value block) is never constructed.
type InterfacesConfig struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Mailbox MailboxConfig `yaml:"mailbox"`
	GitHub  GitHubConfig  `yaml:"github"`
}

// MQTTConfig configures the internal/interfaces/mqtt supervised interface.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Name     string `yaml:"name"`
	BrokerURL string `yaml:"broker_url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topics maps an MQTT topic to the name of the Graph object its
	// payloads are written into.
	Topics map[string]string `yaml:"topics"`
}

// MailboxConfig configures the internal/interfaces/mailbox supervised
// interface: an IMAP mailbox whose unseen-message count is written into a
// Graph object.
type MailboxConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`
	// Object names the Graph object that receives the mailbox's unseen
	// message count once per (re)connection.
	Object string `yaml:"object"`
}

// GitHubConfig configures the internal/interfaces/github polling interface.
type GitHubConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Name            string `yaml:"name"`
	Token           string `yaml:"token"`
	Repository      string `yaml:"repository"` // "owner/name"
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	// Object names the Graph object that receives each poll's open-issue
	// count.
	Object string `yaml:"object"`
}

// Configured reports whether there is enough to dial the broker.
func (c MQTTConfig) Configured() bool { return c.Enabled && c.BrokerURL != "" }

// Configured reports whether there is enough to dial the mailbox.
func (c MailboxConfig) Configured() bool { return c.Enabled && c.Host != "" && c.Username != "" }

// Configured reports whether there is enough to poll the repository.
func (c GitHubConfig) Configured() bool { return c.Enabled && c.Repository != "" }

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${MQTT_PASSWORD}) as a convenience
	// for container deployments; the recommended approach is still to put
	// values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults. Called
// automatically by Load. After this, callers can read any field without
// checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Interfaces.MQTT.ClientID == "" {
		c.Interfaces.MQTT.ClientID = "shcd"
	}
	if c.Interfaces.Mailbox.Mailbox == "" {
		c.Interfaces.Mailbox.Mailbox = "INBOX"
	}
	if c.Interfaces.GitHub.PollIntervalSec == 0 {
		c.Interfaces.GitHub.PollIntervalSec = 300
	}
}

// Validate checks that the configuration is internally consistent. It runs
// after applyDefaults, so it can assume defaults are populated. Returns an
// error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.Interfaces.GitHub.Enabled && c.Interfaces.GitHub.PollIntervalSec < 30 {
		return fmt.Errorf("interfaces.github.poll_interval_sec %d below minimum of 30", c.Interfaces.GitHub.PollIntervalSec)
	}
	if err := c.Graph.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	return nil
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
