package mesh

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config carries the node's connection settings for the medium server.
type Config struct {
	// Server is the host:port of the framing server.
	Server string `yaml:"server"`

	// Frequency selects the shared channel; every node of one network uses
	// the same frequency.
	Frequency uint32 `yaml:"frequency"`

	// Token authorises this node on its frequency range.
	Token string `yaml:"token"`

	// LogLevel is a logrus level name; empty means info.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Server:    "netsys.ewi.utwente.nl:8954",
		Frequency: 2301,
		LogLevel:  "info",
	}
}

// LoadConfig reads a yaml config file, filling unset fields from the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}

	if cfg.Server == "" {
		cfg.Server = DefaultConfig().Server
	}

	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultConfig().Frequency
	}

	return cfg, nil
}
