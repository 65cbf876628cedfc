// Package controlcli handles loading and managing local bindctl configuration
// and the websocket client bindctl talks to geistbind with.
package controlcli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mfulz/geistbind/internal/logging"
	"gopkg.in/yaml.v3"
)

// EnvCTLConfig names the environment variable overriding the config path.
const EnvCTLConfig = "BINDCTL_CONFIG"

// DefaultURL is used when no daemon is configured.
const DefaultURL = "ws://127.0.0.1:15733/"

// DaemonConfig is one connection target.
type DaemonConfig struct {
	URL string `yaml:"url"`
}

// CTLConfig holds the entire client-side bindctl configuration.
type CTLConfig struct {
	Default string                  `yaml:"default"`
	Daemons map[string]DaemonConfig `yaml:"daemons"`
	Logger  logging.Config          `yaml:"log"`
}

// ParseCTLConfig decodes a YAML config.
func ParseCTLConfig(data []byte) (*CTLConfig, error) {
	var cfg CTLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.yaml: %w", err)
	}
	return &cfg, nil
}

// LoadCTLConfig loads $BINDCTL_CONFIG or ~/.geistbind/bindctl/config.yaml.
// A missing file yields an empty config pointing at DefaultURL.
func LoadCTLConfig() (*CTLConfig, error) {
	path := os.Getenv(EnvCTLConfig)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &CTLConfig{}, nil
		}
		path = filepath.Join(home, ".geistbind", "bindctl", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &CTLConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseCTLConfig(data)
}

// Resolve returns the URL of a daemon. override wins over name, name over
// the configured default.
func (c *CTLConfig) Resolve(name, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if name == "" {
		name = c.Default
	}
	if name == "" {
		if len(c.Daemons) == 0 {
			return DefaultURL, nil
		}
		names := make([]string, 0, len(c.Daemons))
		for n := range c.Daemons {
			names = append(names, n)
		}
		sort.Strings(names)
		name = names[0]
	}
	d, ok := c.Daemons[name]
	if !ok {
		return "", fmt.Errorf("daemon '%s' not found", name)
	}
	return d.URL, nil
}
