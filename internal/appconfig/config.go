package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/contractpad/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int          `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string       `mapstructure:"state_dir" yaml:"state_dir"`
	Store         StoreConfig  `mapstructure:"store" yaml:"store"`
	Remote        RemoteConfig `mapstructure:"remote" yaml:"remote"`
	Editor        EditorConfig `mapstructure:"editor" yaml:"editor"`
	HTTP          HTTPConfig   `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig    `mapstructure:"ssh" yaml:"ssh"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// StoreConfig selects the durable key/value backend. An empty path is
// derived from state_dir.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// RemoteConfig tunes the validation service client. Hostname and port seed
// the connection record on first run only; afterwards the stored record wins.
type RemoteConfig struct {
	Hostname       string  `mapstructure:"hostname" yaml:"hostname"`
	Port           string  `mapstructure:"port" yaml:"port"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RetryMax       int     `mapstructure:"retry_max" yaml:"retry_max"`
	RetryWaitMinMS int     `mapstructure:"retry_wait_min_ms" yaml:"retry_wait_min_ms"`
	RetryWaitMaxMS int     `mapstructure:"retry_wait_max_ms" yaml:"retry_wait_max_ms"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
}

// EditorConfig controls generated documents.
type EditorConfig struct {
	NewDocumentBase     string `mapstructure:"new_document_base" yaml:"new_document_base"`
	PlaceholderText     string `mapstructure:"placeholder_text" yaml:"placeholder_text"`
	NewDocumentProbeMax int    `mapstructure:"new_document_probe_max" yaml:"new_document_probe_max"`
}

// HTTPConfig configures the HTTP shell.
type HTTPConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	BasePath     string `mapstructure:"base_path" yaml:"base_path"`
	HubHistory   int    `mapstructure:"hub_history" yaml:"hub_history"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// SSHConfig configures the SSH command shell.
type SSHConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr           string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath    string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeys string `mapstructure:"authorized_keys" yaml:"authorized_keys"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	conn := schema.DefaultConnection()
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".contractpad", "state"),
		Store: StoreConfig{
			Backend: "file",
			Path:    "",
		},
		Remote: RemoteConfig{
			Hostname:       conn.Hostname,
			Port:           conn.Port,
			TimeoutSeconds: 15,
			RetryMax:       2,
			RetryWaitMinMS: 200,
			RetryWaitMaxMS: 2000,
			RateLimitRPS:   0,
		},
		Editor: EditorConfig{
			NewDocumentBase:     schema.DefaultNewDocumentBase,
			PlaceholderText:     schema.DefaultPlaceholderText,
			NewDocumentProbeMax: schema.DefaultNewDocumentProbeMax,
		},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:27490",
			BasePath:     "",
			HubHistory:   1000,
			MaxBodyBytes: 8 << 20,
		},
		SSH: SSHConfig{
			Enabled:        false,
			Addr:           "127.0.0.1:27422",
			HostKeyPath:    "",
			AuthorizedKeys: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".contractpad", "config.yaml"), nil
}

// StorePath returns the configured store path, or the backend's default
// location under state_dir.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Backend == "sqlite" {
		return filepath.Join(c.StateDir, "contractpad.db")
	}
	return filepath.Join(c.StateDir, "store")
}

// HostKeyPath returns the configured SSH host key path, or the default
// location under state_dir.
func (c Config) HostKeyPath() string {
	if c.SSH.HostKeyPath != "" {
		return c.SSH.HostKeyPath
	}
	return filepath.Join(c.StateDir, "ssh_host_ed25519_key")
}
