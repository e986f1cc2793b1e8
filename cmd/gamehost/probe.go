package main

import (
	"fmt"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/config"
	"github.com/ernie/gamehost/internal/probe"
)

const envServiceKey = "GAMEHOST_SERVICE_KEY"

// cmdProbe polls a game server's UDP status and reports it as the server's stats
func cmdProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	flags := addClientFlags(fs)
	address := fs.String("address", "127.0.0.1:27960", "game server UDP address")
	interval := fs.Duration("interval", probe.DefaultInterval, "poll interval")
	serviceKey := fs.String("service-key", os.Getenv(envServiceKey), "backend service key")
	once := fs.Bool("once", false, "report once and exit")
	fs.Parse(args)

	cfg, err := config.LoadClient(*flags.configPath)
	if err != nil {
		fail(err)
	}
	if !cfg.Client.BackendConfigured() {
		fail(fmt.Errorf("no backend configured (set %s and %s)", config.EnvBackendURL, config.EnvBackendAnonKey))
	}
	if *serviceKey == "" {
		fail(fmt.Errorf("service key required (--service-key or %s)", envServiceKey))
	}
	serverID := *flags.serverID
	if serverID == "" {
		serverID = cfg.Client.ServerID
	}
	serverID = requireServer(serverID)

	reporter := &probe.Reporter{
		Address:  *address,
		ServerID: serverID,
		Interval: *interval,
		Client:   &probe.Client{},
		Sink:     backend.NewWorker(cfg.Client.BackendURL, cfg.Client.AnonKey, *serviceKey),
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *once {
		stats, err := reporter.Report(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Reported %s: %d/%d players on %s\n", serverID, stats.PlayersOnline, stats.MaxPlayers, stats.Map)
		return
	}

	log.Printf("Probing %s every %v for server %s", *address, reporter.Interval, serverID)
	start := time.Now()
	reporter.Run(ctx)
	log.Printf("Probe stopped after %v", time.Since(start).Round(time.Second))
}
