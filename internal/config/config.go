package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type LinkConfig struct {
	Name        string       `toml:"name"`
	Addr        string       `toml:"addr"`
	CorsOrigins []string     `toml:"cors_origins"`
	Device      DeviceConfig `toml:"device"`
	Peer        PeerConfig   `toml:"peer"`
	Router      RouterConfig `toml:"router"`
}

type DeviceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Port     string `toml:"port"`
	BaudRate int    `toml:"baud_rate"`
}

type PeerConfig struct {
	RelayURL string `toml:"relay_url"`
	Role     string `toml:"role"` // "host", "client", or "" for none
	Target   string `toml:"target"`
	StateDir string `toml:"state_dir"`
}

type RouterConfig struct {
	AllowDuplicates bool `toml:"allow_duplicates"`
}

type RelayConfig struct {
	Name string `toml:"name"`
	Addr string `toml:"addr"`
}

func LoadLinkConfig(path string) (LinkConfig, error) {
	var cfg LinkConfig
	if err := loadToml(path, &cfg); err != nil {
		return LinkConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "signlink"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8780"
	}
	if cfg.Device.BaudRate == 0 {
		cfg.Device.BaudRate = 115200
	}
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "relayd"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8781"
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLinkConfig(cfg LinkConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("link config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("link config missing addr")
	}
	switch cfg.Peer.Role {
	case "", "host", "client":
	default:
		return fmt.Errorf("peer role must be host, client, or empty: %q", cfg.Peer.Role)
	}
	if cfg.Peer.Role != "" && strings.TrimSpace(cfg.Peer.RelayURL) == "" {
		return fmt.Errorf("peer relay_url required when role is set")
	}
	if cfg.Peer.Role == "client" && strings.TrimSpace(cfg.Peer.Target) == "" {
		return fmt.Errorf("peer target required for client role")
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	return nil
}
