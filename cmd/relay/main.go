package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/dialout/internal/config"
	"github.com/matst80/dialout/internal/obs"
	"github.com/matst80/dialout/internal/relay"
	"github.com/matst80/dialout/internal/state"
)

func main() {
	flag.Parse()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if err := resolveConfig(); err != nil {
		obs.Error("config.load", obs.Fields{"err": err.Error(), "file": cfg.ConfigFile})
		os.Exit(2)
	}
	if cfg.WriteConfig != "" {
		if err := config.Save(cfg.settings, cfg.WriteConfig, config.SectionRelay); err != nil {
			obs.Error("config.write", obs.Fields{"err": err.Error(), "file": cfg.WriteConfig})
			os.Exit(1)
		}
		obs.Info("config.written", obs.Fields{"file": cfg.WriteConfig})
		return
	}
	mode, err := relay.ParseShutdownMode(cfg.Shutdown)
	if err != nil {
		obs.Error("config.shutdown", obs.Fields{"err": err.Error()})
		os.Exit(2)
	}

	obs.Info("relay.start", obs.Fields{"client": cfg.ClientAddr, "agent": cfg.AgentAddr, "metrics": cfg.MetricsAddr, "shutdown": string(mode), "protocol": cfg.settings.ProtocolHint})

	store, err := state.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisNamespace)
	if err != nil {
		obs.Error("state.open", obs.Fields{"err": err.Error(), "addr": cfg.RedisAddr})
		os.Exit(1)
	}
	defer store.Close()

	r := relay.New(relay.Config{
		ClientAddr:         cfg.ClientAddr,
		AgentAddr:          cfg.AgentAddr,
		IdleTimeout:        cfg.IdleTimeout,
		ChunkSize:          cfg.settings.InitialChunkSize(),
		Sniff:              cfg.settings.SniffHTTP(),
		ProxyProtocol:      cfg.EnableProxyProto,
		ProxyHeaderTimeout: cfg.ProxyHeaderTimeout,
		GlobalRate:         cfg.GlobalRate,
		SourceRate:         cfg.SourceRate,
		Burst:              cfg.Burst,
	}, store)
	if err := r.Listen(); err != nil {
		obs.Error("listen", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.MetricsAddr != "" {
		go startMetricsServer(ctx, cfg.MetricsAddr, r, store)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		obs.Info("relay.shutdown.signal", obs.Fields{"signal": sig.String(), "mode": string(mode)})
		if mode == relay.ShutdownAbrupt {
			os.Exit(0)
		}
		cancel()
	}()

	if err := r.Serve(ctx); err != nil {
		obs.Error("relay.serve", obs.Fields{"err": err.Error()})
		store.Close()
		os.Exit(1)
	}
	obs.Info("relay.shutdown.complete", obs.Fields{})
}
