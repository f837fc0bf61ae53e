package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadLinkConfigDefaults(t *testing.T) {
	cfg, err := LoadLinkConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "signlink" {
		t.Fatalf("default name %q", cfg.Name)
	}
	if cfg.Addr != ":8780" {
		t.Fatalf("default addr %q", cfg.Addr)
	}
	if cfg.Device.BaudRate != 115200 {
		t.Fatalf("default baud %d", cfg.Device.BaudRate)
	}
	if cfg.Peer.Role != "" {
		t.Fatalf("default role %q", cfg.Peer.Role)
	}
}

func TestLoadLinkConfigFull(t *testing.T) {
	path := writeConfig(t, `
name = "bench-link"
addr = ":9090"
cors_origins = ["http://localhost:3000"]

[device]
enabled = true
port = "/dev/ttyUSB0"
baud_rate = 57600

[peer]
relay_url = "ws://relay.local:8781/ws"
role = "client"
target = "signlink-0042"

[router]
allow_duplicates = true
`)
	cfg, err := LoadLinkConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "bench-link" || cfg.Addr != ":9090" {
		t.Fatalf("top level: %+v", cfg)
	}
	if !cfg.Device.Enabled || cfg.Device.Port != "/dev/ttyUSB0" || cfg.Device.BaudRate != 57600 {
		t.Fatalf("device: %+v", cfg.Device)
	}
	if cfg.Peer.Role != "client" || cfg.Peer.Target != "signlink-0042" {
		t.Fatalf("peer: %+v", cfg.Peer)
	}
	if !cfg.Router.AllowDuplicates {
		t.Fatalf("router: %+v", cfg.Router)
	}
}

func TestLoadLinkConfigMissingFile(t *testing.T) {
	if _, err := LoadLinkConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateLinkConfigRejectsBadRole(t *testing.T) {
	_, err := LoadLinkConfig(writeConfig(t, `
[peer]
relay_url = "ws://relay.local:8781/ws"
role = "observer"
`))
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestValidateLinkConfigRequiresRelayURLWithRole(t *testing.T) {
	_, err := LoadLinkConfig(writeConfig(t, `
[peer]
role = "host"
`))
	if err == nil {
		t.Fatal("expected error for role without relay_url")
	}
}

func TestValidateLinkConfigRequiresTargetForClient(t *testing.T) {
	_, err := LoadLinkConfig(writeConfig(t, `
[peer]
relay_url = "ws://relay.local:8781/ws"
role = "client"
`))
	if err == nil {
		t.Fatal("expected error for client without target")
	}
}

func TestLoadRelayConfigDefaults(t *testing.T) {
	cfg, err := LoadRelayConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "relayd" || cfg.Addr != ":8781" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestTemplatesLoadCleanly(t *testing.T) {
	dir := t.TempDir()

	linkPath := filepath.Join(dir, "link.toml")
	if err := WriteTemplate(linkPath, "link", false); err != nil {
		t.Fatalf("write link template: %v", err)
	}
	if _, err := LoadLinkConfig(linkPath); err != nil {
		t.Fatalf("link template invalid: %v", err)
	}

	relayPath := filepath.Join(dir, "relay.toml")
	if err := WriteTemplate(relayPath, "relay", false); err != nil {
		t.Fatalf("write relay template: %v", err)
	}
	if _, err := LoadRelayConfig(relayPath); err != nil {
		t.Fatalf("relay template invalid: %v", err)
	}

	if err := WriteTemplate(linkPath, "link", false); err == nil {
		t.Fatal("expected overwrite refusal")
	}
	if err := WriteTemplate(linkPath, "link", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLoadRelayConfigParseError(t *testing.T) {
	if _, err := LoadRelayConfig(writeConfig(t, "addr = [broken")); err == nil {
		t.Fatal("expected parse error")
	}
}
