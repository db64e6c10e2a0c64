package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type RelayConfig struct {
	// SendBuffer is the per-connection outbound frame queue; a client that
	// falls this far behind is disconnected.
	SendBuffer int `yaml:"send_buffer"`
	// ReadLimit caps the size of one inbound frame in bytes.
	ReadLimit int64 `yaml:"read_limit"`
	// ProtocolVersion is advertised to clients; HELO frames carrying a
	// different version are still accepted, the protocol has no
	// negotiation step.
	ProtocolVersion string `yaml:"protocol_version"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Relay: RelayConfig{
			SendBuffer:      64,
			ReadLimit:       1 << 20,
			ProtocolVersion: "0.0.1",
		},
	}
}

// Load reads the yaml file at path over the defaults. A missing file is an
// error; use LoadOrDefault when the file is optional.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// GenerateToken mints a random auth token for ad-hoc deployments that want
// access control without picking a secret themselves.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
