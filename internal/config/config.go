// Package config provides configuration file support for tracecraft.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/KilimcininKorOglu/tracecraft/internal/probe"
)

// Configuration errors.
var (
	// ErrInvalidTTLRange indicates first_ttl/max_ttl outside 1..255 or reversed
	ErrInvalidTTLRange = errors.New("invalid TTL range")

	// ErrInvalidRate indicates a negative probe rate
	ErrInvalidRate = errors.New("rate must not be negative")
)

// Config represents the tracecraft configuration file structure.
type Config struct {
	// Defaults are applied when flags are not specified
	Defaults Defaults `yaml:"defaults"`

	// Aliases for common targets
	Aliases map[string]string `yaml:"aliases,omitempty"`

	mu      sync.RWMutex
	runtime map[string]string
}

// Defaults holds default values for probing parameters.
type Defaults struct {
	// Probe type: udp, icmp, icmp-reply, tcp-syn, tcp-ack
	Type     string `yaml:"type"`
	Port     uint16 `yaml:"port"`
	Source   string `yaml:"source"`
	Instance uint8  `yaml:"instance"`
	Coarse   bool   `yaml:"coarse"`

	// Middlebox detection
	Middlebox MiddleboxConfig `yaml:"middlebox"`

	// Scan parameters
	FirstTTL uint8 `yaml:"first_ttl"`
	MaxTTL   uint8 `yaml:"max_ttl"`
	Rate     int   `yaml:"rate"` // probes per second, 0 means unlimited

	// Output
	Verbose int  `yaml:"verbose"`
	JSON    bool `yaml:"json"`
	NoColor bool `yaml:"no_color"`
	Receive bool `yaml:"receive"`
}

// MiddleboxConfig holds TCP middlebox-detection settings.
type MiddleboxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	FixSequence bool   `yaml:"fix_sequence"`
	MSS         uint16 `yaml:"mss"`
	WindowScale *uint8 `yaml:"window_scale,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Type:     "tcp-ack",
			Port:     80,
			FirstTTL: 1,
			MaxTTL:   16,
			Rate:     0,
			Receive:  true,
			Middlebox: MiddleboxConfig{
				MSS: 1460,
			},
		},
		Aliases: make(map[string]string),
	}
}

// Load reads configuration from the default config file locations.
// It searches in order:
//  1. ./tracecraft.yaml (current directory)
//  2. ~/.config/tracecraft/config.yaml (Linux/macOS)
//  3. %APPDATA%\tracecraft\config.yaml (Windows)
//
// If no config file is found, returns default configuration.
func Load() (*Config, error) {
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return LoadFrom(path)
		}
	}
	return DefaultConfig(), nil
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the defaults for values no probe can be built from.
func (c *Config) Validate() error {
	d := c.Defaults
	if _, err := probe.ParseType(d.Type); err != nil {
		return err
	}
	if d.Source != "" {
		addr, err := netip.ParseAddr(d.Source)
		if err != nil || !addr.Unmap().Is4() {
			return fmt.Errorf("%w: %q", probe.ErrBadSourceAddress, d.Source)
		}
	}
	if d.FirstTTL == 0 || d.MaxTTL == 0 || d.FirstTTL > d.MaxTTL {
		return fmt.Errorf("%w: %d..%d", ErrInvalidTTLRange, d.FirstTTL, d.MaxTTL)
	}
	if d.Rate < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRate, d.Rate)
	}
	return nil
}

// ProbeConfig converts the defaults to an engine configuration.
func (c *Config) ProbeConfig() (probe.Config, error) {
	d := c.Defaults
	t, err := probe.ParseType(d.Type)
	if err != nil {
		return probe.Config{}, err
	}
	pc := probe.Config{
		Source:             d.Source,
		Instance:           d.Instance,
		Type:               t,
		Port:               d.Port,
		Verbosity:          d.Verbose,
		Coarse:             d.Coarse,
		MiddleboxDetection: d.Middlebox.Enabled,
		FixSequence:        d.Middlebox.FixSequence,
		MSS:                d.Middlebox.MSS,
		Receive:            d.Receive,
	}
	if d.Middlebox.WindowScale != nil {
		pc.UseWindowScale = true
		pc.WindowScale = *d.Middlebox.WindowScale
	}
	return pc, nil
}

// Set stores a value resolved at runtime, such as the probe source address.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtime == nil {
		c.runtime = make(map[string]string)
	}
	c.runtime[key] = value
}

// Get returns a runtime value stored with Set.
func (c *Config) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.runtime[key]
	return v, ok
}

// Resolve returns the target an alias points to, or name itself.
func (c *Config) Resolve(name string) string {
	if target, ok := c.Aliases[name]; ok {
		return target
	}
	return name
}

// Save writes the configuration to the default user config path.
func (c *Config) Save() error {
	return c.SaveTo(getUserConfigPath())
}

// SaveTo writes the configuration to a specific file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// getConfigPaths returns the list of config file paths to search.
func getConfigPaths() []string {
	paths := []string{
		"tracecraft.yaml",
		"tracecraft.yml",
		".tracecraft.yaml",
	}

	if userPath := getUserConfigPath(); userPath != "" {
		paths = append(paths, userPath)
	}
	return paths
}

// getUserConfigPath returns the user-specific config file path.
func getUserConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "tracecraft", "config.yaml")
		}
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "tracecraft", "config.yaml")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".config", "tracecraft", "config.yaml")
		}
	}
	return ""
}

// GetConfigPath returns the path where user config would be saved.
func GetConfigPath() string {
	return getUserConfigPath()
}

// GenerateExample generates an example configuration file content.
func GenerateExample() string {
	return `# tracecraft configuration file
# Location: ~/.config/tracecraft/config.yaml (Linux/macOS)
#           %APPDATA%\tracecraft\config.yaml (Windows)
#           ./tracecraft.yaml (current directory)

defaults:
  # Probe type: udp, icmp, icmp-reply, tcp-syn, tcp-ack
  type: tcp-ack
  port: 80                # Destination port for UDP and TCP
  source: ""              # Source address (empty = outbound interface)
  instance: 0             # Instance tag (upper byte of the IP ID)
  coarse: false           # Millisecond instead of microsecond timestamps

  # TCP middlebox detection
  middlebox:
    enabled: false
    fix_sequence: false   # Constant sequence number
    mss: 1460
    # window_scale: 7     # Append a Window Scale option

  # Scan parameters
  first_ttl: 1
  max_ttl: 16
  rate: 0                 # Probes per second (0 = unlimited)

  # Output
  verbose: 0              # 3 prints one trace line per probe
  json: false
  no_color: false
  receive: true           # Listen for ICMP replies

# Target aliases (optional)
aliases:
  docs: 192.0.2.1
`
}
