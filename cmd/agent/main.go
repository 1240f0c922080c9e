package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/dialout/internal/agent"
	"github.com/matst80/dialout/internal/config"
	"github.com/matst80/dialout/internal/obs"
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
		if err := config.Save(cfg.settings, cfg.WriteConfig, config.SectionAgent); err != nil {
			obs.Error("config.write", obs.Fields{"err": err.Error(), "file": cfg.WriteConfig})
			os.Exit(1)
		}
		obs.Info("config.written", obs.Fields{"file": cfg.WriteConfig})
		return
	}

	store, err := state.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisNamespace)
	if err != nil {
		obs.Error("state.open", obs.Fields{"err": err.Error(), "addr": cfg.RedisAddr})
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(agent.Config{
		RelayAddr:        cfg.RelayAddr,
		LocalAddr:        cfg.LocalAddr,
		RetryDelay:       cfg.RetryDelay,
		CycleInterval:    cfg.CycleInterval,
		DialTimeout:      cfg.DialTimeout,
		ProbeTimeout:     cfg.ProbeTimeout,
		InitialChunkSize: cfg.settings.InitialChunkSize(),
		Sniff:            cfg.settings.SniffHTTP(),
	}, store)

	if cfg.MetricsAddr != "" {
		go startMetricsServer(ctx, cfg.MetricsAddr, a)
	}

	_ = a.Run(ctx)
	obs.Info("agent.shutdown", obs.Fields{})
}
