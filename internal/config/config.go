// Package config loads the shared relay/agent settings from an ini file and the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	ini "gopkg.in/ini.v1"
)

// Protocol hints.
const (
	ProtocolTCP  = "tcp"
	ProtocolHTTP = "http"
)

// Section names inside the settings file.
const (
	SectionRelay = "relay"
	SectionAgent = "agent"
)

// EnvPrefix prefixes every environment override, e.g. DIALOUT_LOCAL_PORT.
const EnvPrefix = "DIALOUT_"

// Settings are the knobs shared by both binaries. Precedence: defaults < file < environment;
// the cmd packages apply explicitly set flags last.
type Settings struct {
	RelayAddress        string `ini:"relay_address"`
	RelayClientPort     int    `ini:"relay_client_port"`
	RelayAgentPort      int    `ini:"relay_agent_port"`
	LocalPort           int    `ini:"local_port"`
	InitialBufferSizeKB int    `ini:"initial_buffer_size_kb"`
	ProtocolHint        string `ini:"protocol_hint"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		RelayAddress:        "127.0.0.1",
		RelayClientPort:     443,
		RelayAgentPort:      80,
		LocalPort:           3389,
		InitialBufferSizeKB: 256,
		ProtocolHint:        ProtocolTCP,
	}
}

// Load returns the defaults overlaid with section of fileName (skipped when fileName is empty)
// and then with DIALOUT_* environment variables.
func Load(fileName, section string) (Settings, error) {
	s := Defaults()
	if fileName != "" {
		f, err := ini.Load(fileName)
		if err != nil {
			return s, fmt.Errorf("load %s: %w", fileName, err)
		}
		if err := f.Section(section).MapTo(&s); err != nil {
			return s, fmt.Errorf("map section [%s]: %w", section, err)
		}
	}
	overrideFromEnvString(&s.RelayAddress, "RELAY_ADDRESS")
	overrideFromEnvInt(&s.RelayClientPort, "RELAY_CLIENT_PORT")
	overrideFromEnvInt(&s.RelayAgentPort, "RELAY_AGENT_PORT")
	overrideFromEnvInt(&s.LocalPort, "LOCAL_PORT")
	overrideFromEnvInt(&s.InitialBufferSizeKB, "INITIAL_BUFFER_SIZE_KB")
	overrideFromEnvString(&s.ProtocolHint, "PROTOCOL_HINT")
	return s, s.Validate()
}

// Save writes s into section of fileName, replacing the file.
func Save(s Settings, fileName, section string) error {
	f := ini.Empty()
	sec, err := f.NewSection(section)
	if err != nil {
		return err
	}
	if err := sec.ReflectFrom(&s); err != nil {
		return fmt.Errorf("reflect settings: %w", err)
	}
	return f.SaveTo(fileName)
}

// Validate checks ports, buffer size and protocol hint.
func (s Settings) Validate() error {
	for name, p := range map[string]int{
		"relay_client_port": s.RelayClientPort,
		"relay_agent_port":  s.RelayAgentPort,
		"local_port":        s.LocalPort,
	} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%s out of range: %d", name, p)
		}
	}
	if s.InitialBufferSizeKB < 0 {
		return fmt.Errorf("initial_buffer_size_kb must not be negative: %d", s.InitialBufferSizeKB)
	}
	switch strings.ToLower(s.ProtocolHint) {
	case ProtocolTCP, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol_hint must be %q or %q, got %q", ProtocolTCP, ProtocolHTTP, s.ProtocolHint)
	}
	return nil
}

// ClientListenAddr is where the relay accepts external clients.
func (s Settings) ClientListenAddr() string { return ":" + strconv.Itoa(s.RelayClientPort) }

// AgentListenAddr is where the relay accepts agents.
func (s Settings) AgentListenAddr() string { return ":" + strconv.Itoa(s.RelayAgentPort) }

// RelayAgentAddr is what the agent dials.
func (s Settings) RelayAgentAddr() string {
	return net.JoinHostPort(s.RelayAddress, strconv.Itoa(s.RelayAgentPort))
}

// LocalAddr is the local service the agent forwards to.
func (s Settings) LocalAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.LocalPort))
}

// InitialChunkSize converts InitialBufferSizeKB to bytes.
func (s Settings) InitialChunkSize() int { return s.InitialBufferSizeKB * 1024 }

// SniffHTTP reports whether HTTP heads should be logged.
func (s Settings) SniffHTTP() bool { return strings.EqualFold(s.ProtocolHint, ProtocolHTTP) }

func overrideFromEnvInt(target *int, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func overrideFromEnvString(target *string, name string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*target = v
	}
}
