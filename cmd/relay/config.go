package main

import (
	"flag"
	"time"

	"github.com/matst80/dialout/internal/config"
)

// Config holds all runtime configuration derived from the settings file, env and flags.
type Config struct {
	ConfigFile   string
	WriteConfig  string
	ClientAddr   string
	AgentAddr    string
	IdleTimeout  time.Duration
	ChunkSizeKB  int
	ProtocolHint string
	Shutdown     string
	MetricsAddr  string
	Debug        bool

	EnableProxyProto   bool
	ProxyHeaderTimeout time.Duration
	GlobalRate         int
	SourceRate         int
	Burst              int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string

	settings config.Settings
}

var cfg Config

// init registers flags into the global flag set. main() parses and calls resolveConfig.
func init() {
	flag.StringVar(&cfg.ConfigFile, "config", "", "ini settings file ([relay] section)")
	flag.StringVar(&cfg.WriteConfig, "write-config", "", "write the effective settings to this ini file and exit")
	flag.StringVar(&cfg.ClientAddr, "client", "", "client listen address (default :relay_client_port)")
	flag.StringVar(&cfg.AgentAddr, "agent", "", "agent listen address (default :relay_agent_port)")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", 60*time.Second, "tear a session down after this long without traffic (0 disables)")
	flag.IntVar(&cfg.ChunkSizeKB, "chunk-kb", 0, "forwarding chunk size in KiB (default initial_buffer_size_kb)")
	flag.StringVar(&cfg.ProtocolHint, "protocol", "", "protocol hint: tcp or http (http logs request/response heads)")
	flag.StringVar(&cfg.Shutdown, "shutdown", "graceful", "interrupt handling: graceful or abrupt")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics, health and dashboard listen address (empty disables)")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.BoolVar(&cfg.EnableProxyProto, "proxy-protocol", false, "expect a PROXY protocol v1/v2 header on client connections")
	flag.DurationVar(&cfg.ProxyHeaderTimeout, "proxy-header-timeout", 5*time.Second, "time allowed for the PROXY header to arrive")
	flag.IntVar(&cfg.GlobalRate, "rate-global", 0, "client accepts per second across all sources (0 disables)")
	flag.IntVar(&cfg.SourceRate, "rate-source", 0, "client accepts per second per source address (0 disables)")
	flag.IntVar(&cfg.Burst, "rate-burst", 5, "accept burst allowance for the rate limits")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for session stats (empty keeps them in memory)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	flag.StringVar(&cfg.RedisNamespace, "redis-namespace", "dialout:relay", "redis key prefix")
}

// resolveConfig loads the settings file and env, then lets explicitly set flags win.
func resolveConfig() error {
	s, err := config.Load(cfg.ConfigFile, config.SectionRelay)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["client"] {
		cfg.ClientAddr = s.ClientListenAddr()
	}
	if !set["agent"] {
		cfg.AgentAddr = s.AgentListenAddr()
	}
	if set["chunk-kb"] {
		s.InitialBufferSizeKB = cfg.ChunkSizeKB
	}
	if set["protocol"] {
		s.ProtocolHint = cfg.ProtocolHint
	}
	cfg.settings = s
	return s.Validate()
}
