package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jitbridge/jitbridge/pkg/types"
)

// Config is the full daemon configuration. Values come from defaults, then
// the YAML file, then environment overrides, in that order.
type Config struct {
	Listen     string `yaml:"listen"`
	DataDir    string `yaml:"data_dir"`
	PairingDir string `yaml:"pairing_dir"`
	LogLevel   string `yaml:"log_level"`
	LogJSON    bool   `yaml:"log_json"`

	Registration RegistrationConfig `yaml:"registration"`
	WireGuard    WireGuardConfig    `yaml:"wireguard"`
	Pool         PoolConfig         `yaml:"pool"`
	Session      SessionConfig      `yaml:"session"`
	Muxer        MuxerConfig        `yaml:"muxer"`
	Tunneld      TunneldConfig      `yaml:"tunneld"`
}

// RegistrationConfig gates new device registration
type RegistrationConfig struct {
	Mode string `yaml:"mode"` // "disabled", "enabled", "capped"
	Cap  int    `yaml:"cap"`  // Max devices for "capped"
}

// WireGuardConfig describes the server tunnel and the client address pool
type WireGuardConfig struct {
	Interface  string `yaml:"interface"`
	PoolCIDR   string `yaml:"pool_cidr"`
	Endpoint   string `yaml:"endpoint"`
	AllowedIPs string `yaml:"allowed_ips"`
	DNS        string `yaml:"dns"`
	Keepalive  int    `yaml:"keepalive"`
	MaxDevices int    `yaml:"max_devices"`
	Fake       bool   `yaml:"fake"` // Skip the kernel, for development
}

// PoolConfig sizes the worker pool and names the activation command
type PoolConfig struct {
	Capacity   int           `yaml:"capacity"`
	JobTimeout time.Duration `yaml:"job_timeout"`
	KillGrace  time.Duration `yaml:"kill_grace"`
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"` // {udid} and {address} substituted
}

// SessionConfig tunes session admission and retention
type SessionConfig struct {
	Cooldown  time.Duration `yaml:"cooldown"`
	Retention time.Duration `yaml:"retention"`
}

// MuxerConfig locates the device-multiplexing daemon
type MuxerConfig struct {
	Socket string `yaml:"socket"`
}

// TunneldConfig locates the tunnel daemon
type TunneldConfig struct {
	URL string `yaml:"url"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Listen:     ":9172",
		DataDir:    "/var/lib/jitbridge",
		PairingDir: "/var/lib/lockdown",
		LogLevel:   "info",
		LogJSON:    true,
		Registration: RegistrationConfig{
			Mode: "enabled",
		},
		WireGuard: WireGuardConfig{
			Interface:  "jitbridge",
			PoolCIDR:   "fd42:6a69:7462::/64",
			AllowedIPs: "fd42:6a69:7462::/64",
			Keepalive:  20,
			MaxDevices: 65536,
		},
		Pool: PoolConfig{
			Capacity:   4,
			JobTimeout: 2 * time.Minute,
			KillGrace:  5 * time.Second,
			Command:    "jitbridge-worker",
			Args:       []string{"--udid", "{udid}", "--address", "{address}"},
		},
		Session: SessionConfig{
			Cooldown:  15 * time.Second,
			Retention: 5 * time.Minute,
		},
		Muxer:   MuxerConfig{Socket: "/var/run/usbmuxd"},
		Tunneld: TunneldConfig{URL: "http://127.0.0.1:49151"},
	}
}

// Load reads the config file (optional) and applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps a handful of deployment-critical knobs to env vars
func (c *Config) applyEnv() {
	if v := os.Getenv("JITBRIDGE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("JITBRIDGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("JITBRIDGE_REGISTRATION"); v != "" {
		c.Registration.Mode = v
	}
	if v := os.Getenv("JITBRIDGE_POOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pool.Capacity = n
		}
	}
	if v := os.Getenv("JITBRIDGE_WG_ENDPOINT"); v != "" {
		c.WireGuard.Endpoint = v
	}
}

func (c *Config) validate() error {
	switch c.Registration.Mode {
	case "disabled", "enabled":
	case "capped":
		if c.Registration.Cap <= 0 {
			return fmt.Errorf("registration mode %q needs a positive cap", c.Registration.Mode)
		}
	default:
		return fmt.Errorf("unknown registration mode %q", c.Registration.Mode)
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool capacity must be positive")
	}
	if c.Session.Retention < c.Session.Cooldown {
		return fmt.Errorf("session retention %s must cover the cooldown %s", c.Session.Retention, c.Session.Cooldown)
	}
	return nil
}

// RegistrationPolicy converts the config into the registry's policy type
func (c *Config) RegistrationPolicy() types.RegistrationPolicy {
	switch c.Registration.Mode {
	case "disabled":
		return types.RegistrationPolicy{Mode: types.RegistrationDisabled}
	case "capped":
		return types.RegistrationPolicy{Mode: types.RegistrationCapped, Cap: c.Registration.Cap}
	default:
		return types.RegistrationPolicy{Mode: types.RegistrationEnabled}
	}
}
