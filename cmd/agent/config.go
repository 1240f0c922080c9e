package main

import (
	"flag"
	"net"
	"strconv"
	"time"

	"github.com/matst80/dialout/internal/config"
)

// Config holds agent runtime configuration.
type Config struct {
	ConfigFile    string
	WriteConfig   string
	Relay         string // relay host; combined with relay_agent_port unless -relay-addr is set
	RelayAddr     string
	LocalAddr     string
	ChunkSizeKB   int
	ProtocolHint  string
	RetryDelay    time.Duration
	CycleInterval time.Duration
	DialTimeout   time.Duration
	ProbeTimeout  time.Duration
	MetricsAddr   string
	Debug         bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string

	settings config.Settings
}

var cfg Config

// init registers all agent flags into the default flag set.
func init() {
	flag.StringVar(&cfg.ConfigFile, "config", "", "ini settings file ([agent] section)")
	flag.StringVar(&cfg.WriteConfig, "write-config", "", "write the effective settings to this ini file and exit")
	flag.StringVar(&cfg.Relay, "relay", "", "relay host (default relay_address)")
	flag.StringVar(&cfg.RelayAddr, "relay-addr", "", "relay agent endpoint host:port; overrides -relay and relay_agent_port")
	flag.StringVar(&cfg.LocalAddr, "local", "", "local service address (default 127.0.0.1:local_port)")
	flag.IntVar(&cfg.ChunkSizeKB, "chunk-kb", 0, "initial forwarding chunk size in KiB (default initial_buffer_size_kb)")
	flag.StringVar(&cfg.ProtocolHint, "protocol", "", "protocol hint: tcp or http (http logs request/response heads)")
	flag.DurationVar(&cfg.RetryDelay, "retry", 2*time.Second, "delay between relay connection attempts")
	flag.DurationVar(&cfg.CycleInterval, "cycle-interval", 5*time.Second, "pause after each tunnel cycle")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", 10*time.Second, "timeout for relay and local dials")
	flag.DurationVar(&cfg.ProbeTimeout, "probe-timeout", 10*time.Second, "write deadline for the throughput probe")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "", "metrics and health listen address (empty disables)")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address to persist the tuned chunk size (empty keeps it in memory)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	flag.StringVar(&cfg.RedisNamespace, "redis-namespace", "dialout:agent", "redis key prefix")
}

// resolveConfig loads the settings file and env, then lets explicitly set flags win.
func resolveConfig() error {
	s, err := config.Load(cfg.ConfigFile, config.SectionAgent)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["relay"] {
		s.RelayAddress = cfg.Relay
	}
	if set["chunk-kb"] {
		s.InitialBufferSizeKB = cfg.ChunkSizeKB
	}
	if set["protocol"] {
		s.ProtocolHint = cfg.ProtocolHint
	}
	if set["relay-addr"] {
		host, port, err := net.SplitHostPort(cfg.RelayAddr)
		if err != nil {
			return err
		}
		s.RelayAddress = host
		if s.RelayAgentPort, err = strconv.Atoi(port); err != nil {
			return err
		}
	}
	if !set["local"] {
		cfg.LocalAddr = s.LocalAddr()
	}
	cfg.RelayAddr = s.RelayAgentAddr()
	cfg.settings = s
	return s.Validate()
}
