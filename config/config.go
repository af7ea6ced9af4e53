// Package config loads the simlink TOML configuration.
//
// A file only needs the keys it changes: Load starts from Default and
// overlays every key the file defines.
//
//	[session]
//	app_name = "Flick lights"
//	endpoint = "127.0.0.1:500"
//	request_timeout = "2s"
//
//	[transport]
//	heartbeat_interval = "30s"
//	rate_limit = 200
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"simlink/loadbalance"
	"simlink/logging"
	"simlink/protocol"
)

type Config struct {
	Session   SessionConfig
	Transport TransportConfig
	Discovery DiscoveryConfig
	Log       logging.Config
	Metrics   MetricsConfig
	Bridge    BridgeConfig
	MockHost  MockHostConfig
}

type SessionConfig struct {
	AppName string
	// Endpoint is a fixed "host:port". When empty the host is found through
	// discovery under HostName.
	Endpoint       string
	HostName       string
	Balancer       string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type TransportConfig struct {
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	SendTimeout       time.Duration
	MaxBodySize       uint32
	// RateLimit in frames per second; zero disables pacing.
	RateLimit float64
	RateBurst int
}

type DiscoveryConfig struct {
	// Kind is "static" or "etcd".
	Kind          string
	EtcdEndpoints []string
	DialTimeout   time.Duration
	// Static maps a host name to its addresses.
	Static map[string][]string
}

type MetricsConfig struct {
	Enabled    bool
	ListenAddr string
}

type BridgeConfig struct {
	Enabled       bool
	NATSURL       string
	SubjectPrefix string
}

type MockHostConfig struct {
	ListenAddr      string
	ApplicationName string
	// Register announces the mock host through discovery under
	// Session.HostName with a lease of LeaseTTL seconds.
	Register bool
	LeaseTTL int64
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Session: SessionConfig{
			AppName:        "simlink",
			HostName:       "simulator",
			Balancer:       "round_robin",
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 5 * time.Second,
			RetryAttempts:  3,
			RetryBaseDelay: 100 * time.Millisecond,
			RetryMaxDelay:  2 * time.Second,
		},
		Transport: TransportConfig{
			HeartbeatInterval: 30 * time.Second,
			DialTimeout:       5 * time.Second,
			SendTimeout:       5 * time.Second,
			MaxBodySize:       protocol.DefaultMaxBodySize,
			RateBurst:         1,
		},
		Discovery: DiscoveryConfig{
			Kind:        "static",
			DialTimeout: 5 * time.Second,
		},
		Log: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9464",
		},
		Bridge: BridgeConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "simlink",
		},
		MockHost: MockHostConfig{
			ListenAddr:      "127.0.0.1:5000",
			ApplicationName: "simlink mock host",
			LeaseTTL:        10,
		},
	}
}

// file mirrors the TOML layout. Durations are strings ("250ms", "5s").
type file struct {
	Session struct {
		AppName        string `toml:"app_name"`
		Endpoint       string `toml:"endpoint"`
		HostName       string `toml:"host_name"`
		Balancer       string `toml:"balancer"`
		ConnectTimeout string `toml:"connect_timeout"`
		RequestTimeout string `toml:"request_timeout"`
		RetryAttempts  int    `toml:"retry_attempts"`
		RetryBaseDelay string `toml:"retry_base_delay"`
		RetryMaxDelay  string `toml:"retry_max_delay"`
	} `toml:"session"`
	Transport struct {
		HeartbeatInterval string  `toml:"heartbeat_interval"`
		DialTimeout       string  `toml:"dial_timeout"`
		SendTimeout       string  `toml:"send_timeout"`
		MaxBodySize       uint32  `toml:"max_body_size"`
		RateLimit         float64 `toml:"rate_limit"`
		RateBurst         int     `toml:"rate_burst"`
	} `toml:"transport"`
	Discovery struct {
		Kind          string              `toml:"kind"`
		EtcdEndpoints []string            `toml:"etcd_endpoints"`
		DialTimeout   string              `toml:"dial_timeout"`
		Static        map[string][]string `toml:"static"`
	} `toml:"discovery"`
	Log struct {
		Level       string `toml:"level"`
		Development bool   `toml:"development"`
		Encoding    string `toml:"encoding"`
	} `toml:"log"`
	Metrics struct {
		Enabled    bool   `toml:"enabled"`
		ListenAddr string `toml:"listen_addr"`
	} `toml:"metrics"`
	Bridge struct {
		Enabled       bool   `toml:"enabled"`
		NATSURL       string `toml:"nats_url"`
		SubjectPrefix string `toml:"subject_prefix"`
	} `toml:"bridge"`
	MockHost struct {
		ListenAddr      string `toml:"listen_addr"`
		ApplicationName string `toml:"application_name"`
		Register        bool   `toml:"register"`
		LeaseTTL        int64  `toml:"lease_ttl"`
	} `toml:"mockhost"`
}

// Load reads path and overlays it on Default. An empty path returns the
// validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	var raw file
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.overlay(meta, &raw); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode is Load for TOML text.
func Decode(data string) (Config, error) {
	cfg := Default()
	var raw file
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.overlay(meta, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (cfg *Config) overlay(meta toml.MetaData, raw *file) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	d := durations{meta: meta}

	s := &cfg.Session
	if meta.IsDefined("session", "app_name") {
		s.AppName = strings.TrimSpace(raw.Session.AppName)
	}
	if meta.IsDefined("session", "endpoint") {
		s.Endpoint = strings.TrimSpace(raw.Session.Endpoint)
	}
	if meta.IsDefined("session", "host_name") {
		s.HostName = strings.TrimSpace(raw.Session.HostName)
	}
	if meta.IsDefined("session", "balancer") {
		s.Balancer = strings.TrimSpace(raw.Session.Balancer)
	}
	if meta.IsDefined("session", "retry_attempts") {
		s.RetryAttempts = raw.Session.RetryAttempts
	}
	d.set(&s.ConnectTimeout, raw.Session.ConnectTimeout, "session", "connect_timeout")
	d.set(&s.RequestTimeout, raw.Session.RequestTimeout, "session", "request_timeout")
	d.set(&s.RetryBaseDelay, raw.Session.RetryBaseDelay, "session", "retry_base_delay")
	d.set(&s.RetryMaxDelay, raw.Session.RetryMaxDelay, "session", "retry_max_delay")

	tr := &cfg.Transport
	d.set(&tr.HeartbeatInterval, raw.Transport.HeartbeatInterval, "transport", "heartbeat_interval")
	d.set(&tr.DialTimeout, raw.Transport.DialTimeout, "transport", "dial_timeout")
	d.set(&tr.SendTimeout, raw.Transport.SendTimeout, "transport", "send_timeout")
	if meta.IsDefined("transport", "max_body_size") {
		tr.MaxBodySize = raw.Transport.MaxBodySize
	}
	if meta.IsDefined("transport", "rate_limit") {
		tr.RateLimit = raw.Transport.RateLimit
	}
	if meta.IsDefined("transport", "rate_burst") {
		tr.RateBurst = raw.Transport.RateBurst
	}

	disc := &cfg.Discovery
	if meta.IsDefined("discovery", "kind") {
		disc.Kind = strings.ToLower(strings.TrimSpace(raw.Discovery.Kind))
	}
	if meta.IsDefined("discovery", "etcd_endpoints") {
		disc.EtcdEndpoints = raw.Discovery.EtcdEndpoints
	}
	if meta.IsDefined("discovery", "static") {
		disc.Static = raw.Discovery.Static
	}
	d.set(&disc.DialTimeout, raw.Discovery.DialTimeout, "discovery", "dial_timeout")

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}
	if meta.IsDefined("log", "encoding") {
		cfg.Log.Encoding = strings.TrimSpace(raw.Log.Encoding)
	}

	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if meta.IsDefined("metrics", "listen_addr") {
		cfg.Metrics.ListenAddr = strings.TrimSpace(raw.Metrics.ListenAddr)
	}

	if meta.IsDefined("bridge", "enabled") {
		cfg.Bridge.Enabled = raw.Bridge.Enabled
	}
	if meta.IsDefined("bridge", "nats_url") {
		cfg.Bridge.NATSURL = strings.TrimSpace(raw.Bridge.NATSURL)
	}
	if meta.IsDefined("bridge", "subject_prefix") {
		cfg.Bridge.SubjectPrefix = strings.TrimSpace(raw.Bridge.SubjectPrefix)
	}

	mh := &cfg.MockHost
	if meta.IsDefined("mockhost", "listen_addr") {
		mh.ListenAddr = strings.TrimSpace(raw.MockHost.ListenAddr)
	}
	if meta.IsDefined("mockhost", "application_name") {
		mh.ApplicationName = raw.MockHost.ApplicationName
	}
	if meta.IsDefined("mockhost", "register") {
		mh.Register = raw.MockHost.Register
	}
	if meta.IsDefined("mockhost", "lease_ttl") {
		mh.LeaseTTL = raw.MockHost.LeaseTTL
	}

	return d.err
}

// durations parses duration strings for defined keys and keeps the first
// error.
type durations struct {
	meta toml.MetaData
	err  error
}

func (d *durations) set(dst *time.Duration, raw string, key ...string) {
	if d.err != nil || !d.meta.IsDefined(key...) {
		return
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		d.err = fmt.Errorf("%s: %w", strings.Join(key, "."), err)
		return
	}
	*dst = v
}

// Validate reports every invalid setting at once.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.Session.AppName == "" {
		errs = append(errs, errors.New("session.app_name is required"))
	}
	if cfg.Session.Endpoint == "" && cfg.Session.HostName == "" {
		errs = append(errs, errors.New("session needs an endpoint or a host_name"))
	}
	if loadbalance.New(cfg.Session.Balancer) == nil {
		errs = append(errs, fmt.Errorf("session.balancer: unknown strategy %q", cfg.Session.Balancer))
	}
	if cfg.Session.RequestTimeout <= 0 {
		errs = append(errs, errors.New("session.request_timeout must be positive"))
	}
	if cfg.Session.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("session.connect_timeout must be positive"))
	}
	if cfg.Session.RetryAttempts < 0 {
		errs = append(errs, errors.New("session.retry_attempts must not be negative"))
	}
	if cfg.Transport.RateLimit < 0 {
		errs = append(errs, errors.New("transport.rate_limit must not be negative"))
	}
	if cfg.Transport.RateLimit > 0 && cfg.Transport.RateBurst < 1 {
		errs = append(errs, errors.New("transport.rate_burst must be at least 1 when rate_limit is set"))
	}
	switch cfg.Discovery.Kind {
	case "static":
	case "etcd":
		if len(cfg.Discovery.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("discovery.etcd_endpoints is required for etcd discovery"))
		}
	default:
		errs = append(errs, fmt.Errorf("discovery.kind: unknown kind %q (expected static or etcd)", cfg.Discovery.Kind))
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr is required when metrics are enabled"))
	}
	if cfg.Bridge.Enabled && cfg.Bridge.NATSURL == "" {
		errs = append(errs, errors.New("bridge.nats_url is required when the bridge is enabled"))
	}
	if cfg.MockHost.Register && cfg.MockHost.LeaseTTL <= 0 {
		errs = append(errs, errors.New("mockhost.lease_ttl must be positive when register is set"))
	}
	return errors.Join(errs...)
}
