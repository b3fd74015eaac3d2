// Package config loads and validates vixy's frozen TOML configuration
// file (spec §6) into a read-only topology plus a set of global runtime
// thresholds, mirroring the load/validate split erpc's common.Config
// goes through before anything else in the process starts.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/chainbound/vixy/common"
)

// Global holds the process-wide thresholds and timers (spec §3
// Aggregate State, minus the fields that are runtime-computed:
// el_chain_head, cl_chain_head and el_failover_active).
type Global struct {
	MaxELLagBlocks         uint64 `toml:"max_el_lag_blocks"`
	MaxCLLagSlots          uint64 `toml:"max_cl_lag_slots"`
	HealthCheckIntervalMs  uint64 `toml:"health_check_interval_ms"`
	HealthCheckTimeoutMs   uint64 `toml:"health_check_timeout_ms"`
	HealthCheckMaxFailures uint32 `toml:"health_check_max_failures"`
	ProxyTimeoutMs         uint64 `toml:"proxy_timeout_ms"`
	MaxRetries             uint32 `toml:"max_retries"`
}

func defaultGlobal() Global {
	return Global{
		MaxELLagBlocks:         5,
		MaxCLLagSlots:          3,
		HealthCheckIntervalMs:  1000,
		HealthCheckTimeoutMs:   5000,
		HealthCheckMaxFailures: 3,
		ProxyTimeoutMs:         30000,
		MaxRetries:             2,
	}
}

func (g Global) HealthCheckInterval() time.Duration {
	return time.Duration(g.HealthCheckIntervalMs) * time.Millisecond
}

func (g Global) HealthCheckTimeout() time.Duration {
	return time.Duration(g.HealthCheckTimeoutMs) * time.Millisecond
}

func (g Global) ProxyTimeout() time.Duration {
	return time.Duration(g.ProxyTimeoutMs) * time.Millisecond
}

// WS holds the WebSocket-proxy-specific knobs. MaxQueuedFrames answers
// open question (ii) from spec.md §9: the per-connection queue bound is
// not specified upstream, so it is a config knob with a conservative
// default.
type WS struct {
	MaxQueuedFrames  int    `toml:"max_queued_frames"`
	WatchIntervalMs  uint64 `toml:"watch_interval_ms"`
	PingIntervalMs   uint64 `toml:"ping_interval_ms"`
	PongTimeoutMs    uint64 `toml:"pong_timeout_ms"`
	DialTimeoutMs    uint64 `toml:"dial_timeout_ms"`
}

func defaultWS() WS {
	return WS{
		MaxQueuedFrames: 1024,
		WatchIntervalMs: 1000,
		PingIntervalMs:  30000,
		PongTimeoutMs:   60000,
		DialTimeoutMs:   10000,
	}
}

func (w WS) WatchInterval() time.Duration { return time.Duration(w.WatchIntervalMs) * time.Millisecond }
func (w WS) PingInterval() time.Duration  { return time.Duration(w.PingIntervalMs) * time.Millisecond }
func (w WS) PongTimeout() time.Duration   { return time.Duration(w.PongTimeoutMs) * time.Millisecond }
func (w WS) DialTimeout() time.Duration   { return time.Duration(w.DialTimeoutMs) * time.Millisecond }

// Server holds the HTTP listener configuration.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
	MetricsAddr string `toml:"metrics_addr"` // empty => served on the main listener
}

func defaultServer() Server {
	return Server{ListenAddr: ":8080"}
}

// ElNode is one configured EL upstream.
type ElNode struct {
	Name    string `toml:"name"`
	HTTPURL string `toml:"http_url"`
	WSURL   string `toml:"ws_url"`
}

// El groups the EL primary/backup tiers.
type El struct {
	Primary []ElNode `toml:"primary"`
	Backup  []ElNode `toml:"backup"`
}

// ClNode is one configured CL upstream.
type ClNode struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Config is the fully parsed configuration document. Load and Parse
// return one only after it has passed validation.
type Config struct {
	LogLevel string   `toml:"log_level"`
	Global   Global   `toml:"global"`
	WS       WS       `toml:"ws"`
	Server   Server   `toml:"server"`
	El       El       `toml:"el"`
	Cl       []ClNode `toml:"cl"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Global:   defaultGlobal(),
		WS:       defaultWS(),
		Server:   defaultServer(),
	}
}

// Load reads and parses the TOML file at path from fs, applying defaults
// for any field the file omits, then validates it.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, common.NewErrConfigInvalid(fmt.Sprintf("cannot read config file %q", path), err)
	}
	return Parse(data)
}

// Parse parses raw TOML bytes into a validated Config. Exposed
// separately from Load so tests can exercise parsing/validation without
// touching a filesystem.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
	if err != nil {
		return nil, common.NewErrConfigInvalid("cannot parse TOML", err)
	}
	_ = md // decode metadata unused; reserved for future strict-mode checks

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.El.Primary) == 0 {
		return common.NewErrConfigInvalid("at least one primary EL node is required", nil)
	}
	if len(c.Cl) == 0 {
		return common.NewErrConfigInvalid("at least one CL node is required", nil)
	}

	for _, n := range c.El.Primary {
		if err := validateElNode(n); err != nil {
			return err
		}
	}
	for _, n := range c.El.Backup {
		if err := validateElNode(n); err != nil {
			return err
		}
	}
	for _, n := range c.Cl {
		if n.Name == "" {
			return common.NewErrConfigInvalid("cl node missing name", nil)
		}
		if err := validateURL(n.URL); err != nil {
			return common.NewErrConfigInvalid(fmt.Sprintf("cl node %q has invalid url %q", n.Name, n.URL), err)
		}
	}
	return nil
}

func validateElNode(n ElNode) error {
	if n.Name == "" {
		return common.NewErrConfigInvalid("el node missing name", nil)
	}
	if err := validateURL(n.HTTPURL); err != nil {
		return common.NewErrConfigInvalid(fmt.Sprintf("el node %q has invalid http_url %q", n.Name, n.HTTPURL), err)
	}
	if n.WSURL != "" {
		if err := validateURL(n.WSURL); err != nil {
			return common.NewErrConfigInvalid(fmt.Sprintf("el node %q has invalid ws_url %q", n.Name, n.WSURL), err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() {
		return fmt.Errorf("url %q is not absolute", raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return nil
}

// Topology flattens the config into the read-only upstream list the
// rest of the system consumes (spec §2: "frozen into a read-only
// topology of named upstreams"). Declaration order is preserved —
// primaries first, then backups, then CL nodes — because selection
// (§4.3) is order-dependent.
func (c *Config) Topology() []*common.Upstream {
	ups := make([]*common.Upstream, 0, len(c.El.Primary)+len(c.El.Backup)+len(c.Cl))
	for _, n := range c.El.Primary {
		ups = append(ups, &common.Upstream{Name: n.Name, Kind: common.KindEL, Role: common.RolePrimary, HTTPURL: n.HTTPURL, WSURL: n.WSURL})
	}
	for _, n := range c.El.Backup {
		ups = append(ups, &common.Upstream{Name: n.Name, Kind: common.KindEL, Role: common.RoleBackup, HTTPURL: n.HTTPURL, WSURL: n.WSURL})
	}
	for _, n := range c.Cl {
		ups = append(ups, &common.Upstream{Name: n.Name, Kind: common.KindCL, Role: common.RolePrimary, HTTPURL: n.URL})
	}
	return ups
}
