// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"coopad.dev/coopad/internal/security"
)

// Host operating modes.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// GlobalConfig is the top-level static configuration. Maps to the `coopad:`
// root key in YAML.
type GlobalConfig struct {
	Host     HostConfig     `mapstructure:"host"`
	Security SecurityConfig `mapstructure:"security"`
	Sender   SenderConfig   `mapstructure:"sender"`
	Control  ControlConfig  `mapstructure:"control"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// ─── Host ───

// HostConfig configures the session orchestrator and its UDP socket.
type HostConfig struct {
	Bind            string `mapstructure:"bind"` // empty = all interfaces
	Port            int    `mapstructure:"port"`
	Mode            string `mapstructure:"mode"` // single | multi
	MaxSlots        int    `mapstructure:"max_slots"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	LivenessTimeout string `mapstructure:"liveness_timeout"` // multi-slot eviction window
	OwnerTimeout    string `mapstructure:"owner_timeout"`    // single-owner liveness

	readTimeout     time.Duration
	livenessTimeout time.Duration
	ownerTimeout    time.Duration
}

// ReadTimeoutDuration returns the parsed socket read deadline.
func (h HostConfig) ReadTimeoutDuration() time.Duration { return h.readTimeout }

// LivenessTimeoutDuration returns the parsed multi-slot liveness window.
func (h HostConfig) LivenessTimeoutDuration() time.Duration { return h.livenessTimeout }

// OwnerTimeoutDuration returns the parsed single-owner liveness window.
func (h HostConfig) OwnerTimeoutDuration() time.Duration { return h.ownerTimeout }

// ─── Security ───

// SecurityConfig mirrors security.Config with string durations for YAML.
type SecurityConfig struct {
	ClientRate         float64  `mapstructure:"client_rate"`
	ClientBurst        int      `mapstructure:"client_burst"`
	IPRate             float64  `mapstructure:"ip_rate"`
	IPBurst            int      `mapstructure:"ip_burst"`
	MaxClientsPerIP    int      `mapstructure:"max_clients_per_ip"`
	AutoBlockThreshold int      `mapstructure:"auto_block_threshold"`
	BlockDuration      string   `mapstructure:"block_duration"`
	MaxTimestampAge    string   `mapstructure:"max_timestamp_age"`
	MaxTimestampFuture string   `mapstructure:"max_timestamp_future"`
	EnableWhitelist    bool     `mapstructure:"enable_whitelist"`
	WhitelistIPs       []string `mapstructure:"whitelist_ips"`

	manager security.Config
}

// ManagerConfig returns the parsed admission-controller configuration.
func (s SecurityConfig) ManagerConfig() security.Config { return s.manager }

// ─── Sender ───

// SenderConfig configures the outbound input relay.
type SenderConfig struct {
	Target   string `mapstructure:"target"`
	Port     int    `mapstructure:"port"`
	ClientID uint32 `mapstructure:"client_id"` // 0 = random per run
	RateHz   int    `mapstructure:"rate_hz"`   // 30, 60 or 90
	Profile  string `mapstructure:"profile"`
	// ProfileFile optionally points at a YAML file with additional
	// controller profiles.
	ProfileFile string `mapstructure:"profile_file"`
	// ProfileOverrides tweaks individual fields of the selected profile.
	ProfileOverrides map[string]any `mapstructure:"profile_overrides"`
}

// ─── Control ───

// ControlConfig contains the local control plane settings.
type ControlConfig struct {
	Socket string `mapstructure:"socket"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `coopad: ...`.
type configRoot struct {
	CooPad GlobalConfig `mapstructure:"coopad"`
}

// Load loads configuration from file. The YAML file uses `coopad:` as root
// key; env vars override via the key replacer (key "coopad.host.port" →
// env "COOPAD_HOST_PORT").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.CooPad

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	v := viper.New()
	setDefaults(v)
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		panic(fmt.Sprintf("default config unmarshal: %v", err))
	}
	cfg := root.CooPad
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return &cfg
}

// setDefaults sets default values. All keys use the "coopad." prefix to
// match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Host defaults
	v.SetDefault("coopad.host.bind", "")
	v.SetDefault("coopad.host.port", 7777)
	v.SetDefault("coopad.host.mode", ModeMulti)
	v.SetDefault("coopad.host.max_slots", 4)
	v.SetDefault("coopad.host.read_timeout", "500ms")
	v.SetDefault("coopad.host.liveness_timeout", "10s")
	v.SetDefault("coopad.host.owner_timeout", "500ms")

	// Security defaults
	v.SetDefault("coopad.security.client_rate", 120)
	v.SetDefault("coopad.security.client_burst", 20)
	v.SetDefault("coopad.security.ip_rate", 200)
	v.SetDefault("coopad.security.ip_burst", 20)
	v.SetDefault("coopad.security.max_clients_per_ip", 3)
	v.SetDefault("coopad.security.auto_block_threshold", 5)
	v.SetDefault("coopad.security.block_duration", "300s")
	v.SetDefault("coopad.security.max_timestamp_age", "5s")
	v.SetDefault("coopad.security.max_timestamp_future", "1s")
	v.SetDefault("coopad.security.enable_whitelist", false)

	// Sender defaults
	v.SetDefault("coopad.sender.target", "127.0.0.1")
	v.SetDefault("coopad.sender.port", 7777)
	v.SetDefault("coopad.sender.client_id", 0)
	v.SetDefault("coopad.sender.rate_hz", 60)
	v.SetDefault("coopad.sender.profile", "generic")

	// Control defaults
	v.SetDefault("coopad.control.socket", "/var/run/coopad.sock")

	// Metrics defaults
	v.SetDefault("coopad.metrics.enabled", false)
	v.SetDefault("coopad.metrics.listen", ":9091")
	v.SetDefault("coopad.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("coopad.log.level", "info")
	v.SetDefault("coopad.log.format", "text")
	v.SetDefault("coopad.log.outputs.file.enabled", false)
	v.SetDefault("coopad.log.outputs.file.path", "/var/log/coopad/coopad.log")
	v.SetDefault("coopad.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("coopad.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("coopad.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("coopad.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and parses duration
// strings into their runtime forms.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Host validation ──
	if cfg.Host.Mode != ModeSingle && cfg.Host.Mode != ModeMulti {
		return fmt.Errorf("invalid host mode: %s (must be single/multi)", cfg.Host.Mode)
	}
	// Port 0 is valid: the OS assigns an ephemeral port at bind time.
	if cfg.Host.Port < 0 || cfg.Host.Port > 65535 {
		return fmt.Errorf("invalid host port: %d", cfg.Host.Port)
	}
	if cfg.Host.MaxSlots < 1 || cfg.Host.MaxSlots > 4 {
		return fmt.Errorf("invalid max_slots: %d (must be 1-4)", cfg.Host.MaxSlots)
	}
	var err error
	if cfg.Host.readTimeout, err = parseDuration("host.read_timeout", cfg.Host.ReadTimeout); err != nil {
		return err
	}
	if cfg.Host.livenessTimeout, err = parseDuration("host.liveness_timeout", cfg.Host.LivenessTimeout); err != nil {
		return err
	}
	if cfg.Host.ownerTimeout, err = parseDuration("host.owner_timeout", cfg.Host.OwnerTimeout); err != nil {
		return err
	}

	// ── Security validation ──
	sec := security.DefaultConfig()
	sec.ClientRate = cfg.Security.ClientRate
	sec.ClientBurst = cfg.Security.ClientBurst
	sec.IPRate = cfg.Security.IPRate
	sec.IPBurst = cfg.Security.IPBurst
	sec.MaxClientsPerIP = cfg.Security.MaxClientsPerIP
	sec.AutoBlockThreshold = cfg.Security.AutoBlockThreshold
	sec.EnableWhitelist = cfg.Security.EnableWhitelist
	sec.WhitelistIPs = cfg.Security.WhitelistIPs
	if sec.BlockDuration, err = parseDuration("security.block_duration", cfg.Security.BlockDuration); err != nil {
		return err
	}
	if sec.MaxTimestampAge, err = parseDuration("security.max_timestamp_age", cfg.Security.MaxTimestampAge); err != nil {
		return err
	}
	if sec.MaxTimestampFuture, err = parseDuration("security.max_timestamp_future", cfg.Security.MaxTimestampFuture); err != nil {
		return err
	}
	if sec.ClientRate <= 0 || sec.ClientBurst <= 0 || sec.IPRate <= 0 || sec.IPBurst <= 0 {
		return fmt.Errorf("security rates and bursts must be positive")
	}
	cfg.Security.manager = sec

	// ── Sender validation ──
	switch cfg.Sender.RateHz {
	case 30, 60, 90:
	default:
		return fmt.Errorf("invalid sender rate_hz: %d (must be 30, 60 or 90)", cfg.Sender.RateHz)
	}

	return nil
}

func parseDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q: %w", key, val, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q: must be positive", key, val)
	}
	return d, nil
}
