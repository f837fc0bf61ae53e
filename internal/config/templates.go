package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config body for the given daemon kind,
// "link" or "relay".
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "link":
		return linkTemplate, nil
	case "relay":
		return relayTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const linkTemplate = `name = "signlink"
addr = ":8780"
cors_origins = ["http://localhost:3000"]

[device]
enabled = true
# Leave port empty to auto-select when exactly one channel is present.
port = ""
baud_rate = 115200

[peer]
# role: "host" to accept a remote peer, "client" to dial one, empty for
# local-only operation.
role = ""
relay_url = "ws://localhost:8781/ws"
target = ""

[router]
allow_duplicates = false
`

const relayTemplate = `name = "relayd"
addr = ":8781"
`
