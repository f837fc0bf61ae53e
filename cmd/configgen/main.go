package main

import (
	"flag"
	"log"

	"github.com/danmuck/signlink/internal/config"
)

func main() {
	kind := flag.String("kind", "link", "config kind: link|relay")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}

		switch *kind {
		case "link":
			if _, err := config.LoadLinkConfig(path); err != nil {
				log.Fatal(err)
			}
		case "relay":
			if _, err := config.LoadRelayConfig(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "link":
		return "cmd/signlinkd/config.toml"
	case "relay":
		return "cmd/relayd/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
