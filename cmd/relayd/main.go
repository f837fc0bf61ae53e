package main

import (
	"flag"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/signlink/internal/config"
	"github.com/danmuck/signlink/internal/observability"
	"github.com/danmuck/signlink/internal/relay"
)

func main() {
	configPath := flag.String("config", "cmd/relayd/config.toml", "path to relay config")
	flag.Parse()

	logger := observability.InitLogger("relayd")
	cfg, err := config.LoadRelayConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load relay config")
	}

	srv := relay.NewServer(logger)
	log.Info().Str("addr", cfg.Addr).Msg("relay started")
	if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}
