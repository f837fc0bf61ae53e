package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/signlink/internal/config"
	"github.com/danmuck/signlink/internal/device"
	"github.com/danmuck/signlink/internal/identity"
	"github.com/danmuck/signlink/internal/observability"
	"github.com/danmuck/signlink/internal/peer"
	"github.com/danmuck/signlink/internal/router"
	"github.com/danmuck/signlink/internal/server"
)

func main() {
	configPath := flag.String("config", "cmd/signlinkd/config.toml", "path to signlink config")
	flag.Parse()

	logger := observability.InitLogger("signlink")
	cfg, err := config.LoadLinkConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signlink config")
	}
	log.Info().Str("path", *configPath).Msg("loaded signlink config")

	var adapter *device.Adapter
	var devEvents <-chan device.Event
	if cfg.Device.Enabled {
		provider := device.NewSerialProvider(device.SerialConfig{
			Port:     cfg.Device.Port,
			BaudRate: cfg.Device.BaudRate,
		}, logger)
		adapter = device.NewAdapter(provider, logger)
		devEvents = adapter.Events()
		adapter.Start()
	}

	var manager *peer.Manager
	var peerEvents <-chan peer.Event
	if cfg.Peer.Role != "" {
		relayURL := cfg.Peer.RelayURL
		manager = peer.NewManager(peer.DefaultConfig(), func() (peer.Endpoint, error) {
			return peer.NewWSEndpoint(relayURL, logger), nil
		}, logger)
		peerEvents = manager.Events()

		switch cfg.Peer.Role {
		case "host":
			stateDir := cfg.Peer.StateDir
			if stateDir == "" {
				stateDir, err = identity.DefaultDir()
				if err != nil {
					log.Fatal().Err(err).Msg("failed to resolve identity dir")
				}
			}
			hostID, err := identity.NewStore(stateDir).Load()
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load host identity")
			}
			log.Info().Str("identity", hostID).Msg("hosting")
			manager.StartHosting(hostID)
		case "client":
			log.Info().Str("target", cfg.Peer.Target).Msg("connecting to host")
			manager.ConnectTo(cfg.Peer.Target)
		}
	}

	var sender router.PeerSender
	if manager != nil {
		sender = manager
	}
	link := router.New(router.Config{AllowDuplicates: cfg.Router.AllowDuplicates}, sender, logger)
	link.Start(devEvents, peerEvents)

	var devCtl server.DeviceControl
	if adapter != nil {
		devCtl = adapter
	}
	var peerCtl server.PeerControl
	if manager != nil {
		peerCtl = manager
	}

	api := server.New(cfg.Name, link, devCtl, peerCtl, cfg.CorsOrigins, logger)
	log.Info().Str("addr", cfg.Addr).Msg("signlink started")
	if err := api.Start(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("signlink stopped")
	}
}
