// Package config loads btstack's configuration from environment
// variables and an optional YAML file via Viper, producing a Config
// that callers convert into each protocol package's own Config type
// (spec.md §6's defaults and floors are still enforced by those
// packages' own normalize methods; this package only decodes and
// applies the BTSTACK_* precedence rules).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/internal/telemetry"
	"github.com/arlojames/btstack/pkg/gatt"
	"github.com/arlojames/btstack/pkg/mgmt"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is btstack's top-level configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (BTSTACK_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	Gatt      GattConfig      `mapstructure:"gatt" yaml:"gatt"`
	Mgmt      MgmtConfig      `mapstructure:"mgmt" yaml:"mgmt"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// GattConfig mirrors spec.md §6's gatt.* keys.
type GattConfig struct {
	Cmd      GattCmdConfig `mapstructure:"cmd" yaml:"cmd"`
	RingSize int           `mapstructure:"ringsize" yaml:"ringsize"`
}

// GattCmdConfig holds the three gatt.cmd.*.timeout keys.
type GattCmdConfig struct {
	Read  DurationConfig `mapstructure:"read" yaml:"read"`
	Write DurationConfig `mapstructure:"write" yaml:"write"`
	Init  DurationConfig `mapstructure:"init" yaml:"init"`
}

// DurationConfig wraps a single timeout leaf, matching the dotted
// gatt.cmd.read.timeout / gatt.cmd.write.timeout / gatt.cmd.init.timeout
// key shape spec.md §6 documents.
type DurationConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MgmtConfig mirrors spec.md §6's mgmt.* keys.
type MgmtConfig struct {
	Reader   DurationConfig `mapstructure:"reader" yaml:"reader"`
	Cmd      DurationConfig `mapstructure:"cmd" yaml:"cmd"`
	RingSize int            `mapstructure:"ringsize" yaml:"ringsize"`
	BTMode   mgmt.BTMode    `mapstructure:"btmode" yaml:"btmode"`
}

// DebugConfig mirrors spec.md §6's debug.mgmt.event / debug.gatt.data
// verbosity flags.
type DebugConfig struct {
	Mgmt DebugMgmtConfig `mapstructure:"mgmt" yaml:"mgmt"`
	Gatt DebugGattConfig `mapstructure:"gatt" yaml:"gatt"`
}

type DebugMgmtConfig struct {
	Event bool `mapstructure:"event" yaml:"event"`
}

type DebugGattConfig struct {
	Data bool `mapstructure:"data" yaml:"data"`
}

// LoggingConfig controls internal/logger's process-wide behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// TelemetryConfig controls internal/telemetry's optional Pyroscope
// continuous profiler. Off by default: a CLI diagnostic tool has no
// business phoning a profiling server unless an operator asks it to.
type TelemetryConfig struct {
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profiletypes" yaml:"profiletypes"`
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Gatt: GattConfig{
			Cmd: GattCmdConfig{
				Read:  DurationConfig{Timeout: 550 * time.Millisecond},
				Write: DurationConfig{Timeout: 550 * time.Millisecond},
				Init:  DurationConfig{Timeout: 2500 * time.Millisecond},
			},
			RingSize: 128,
		},
		Mgmt: MgmtConfig{
			Reader:   DurationConfig{Timeout: 10 * time.Second},
			Cmd:      DurationConfig{Timeout: 3 * time.Second},
			RingSize: 64,
			BTMode:   mgmt.BTModeLE,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
		Telemetry: TelemetryConfig{
			Profiling: ProfilingConfig{
				Enabled:      false,
				Endpoint:     "http://localhost:4040",
				ProfileTypes: []string{"cpu", "alloc_objects", "inuse_objects"},
			},
		},
	}
}

// Load reads configuration from the environment and, if present, a
// YAML file at configPath (or the default location when configPath is
// empty), applying defaults for anything neither source sets.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg, viper.DecodeHook(btModeDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.Mgmt.RingSize = clampInt(cfg.Mgmt.RingSize, 64, 1024)
	if cfg.Gatt.RingSize <= 0 {
		cfg.Gatt.RingSize = 128
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed. Useful for persisting a config seeded from Load plus CLI
// overrides back to disk.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("BTSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only consults AutomaticEnv for keys Viper already knows,
	// so every key is bound explicitly.
	for _, key := range []string{
		"gatt.cmd.read.timeout", "gatt.cmd.write.timeout", "gatt.cmd.init.timeout", "gatt.ringsize",
		"mgmt.reader.timeout", "mgmt.cmd.timeout", "mgmt.ringsize", "mgmt.btmode",
		"debug.mgmt.event", "debug.gatt.data",
		"logging.level", "logging.format", "logging.output",
		"telemetry.profiling.enabled", "telemetry.profiling.endpoint", "telemetry.profiling.profiletypes",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			logger.Warn("config: failed reading config file", "error", err)
		}
	}
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "btstack")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "btstack")
}

// btModeDecodeHook parses mgmt.btmode's string form ("LE", "BREDR",
// "DUAL") into an mgmt.BTMode.
func btModeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(mgmt.BTModeLE) {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		switch strings.ToUpper(s) {
		case "LE":
			return mgmt.BTModeLE, nil
		case "BREDR":
			return mgmt.BTModeBREDR, nil
		case "DUAL":
			return mgmt.BTModeDual, nil
		default:
			return nil, fmt.Errorf("config: invalid mgmt.btmode %q, want LE/BREDR/DUAL", s)
		}
	}
}

// ToGattConfig converts to pkg/gatt's Config, which applies its own
// floors on top of whatever was loaded here.
func (c Config) ToGattConfig() gatt.Config {
	return gatt.Config{
		ReadTimeout:                c.Gatt.Cmd.Read.Timeout,
		WriteTimeout:               c.Gatt.Cmd.Write.Timeout,
		InitTimeout:                c.Gatt.Cmd.Init.Timeout,
		RingSize:                   c.Gatt.RingSize,
		DebugData:                  c.Debug.Gatt.Data,
		ClientMaxMTU:               513,
		SendIndicationConfirmation: true,
	}
}

// ToMgmtConfig converts to pkg/mgmt's Config.
func (c Config) ToMgmtConfig() mgmt.Config {
	return mgmt.Config{
		ReaderTimeout: c.Mgmt.Reader.Timeout,
		CmdTimeout:    c.Mgmt.Cmd.Timeout,
		RingSize:      c.Mgmt.RingSize,
		BTMode:        c.Mgmt.BTMode,
		DebugEvents:   c.Debug.Mgmt.Event,
	}
}

// ToLoggerConfig converts to internal/logger's Config.
func (c Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// ToProfilingConfig converts to internal/telemetry's ProfilingConfig.
// serviceName identifies this process to Pyroscope (callers pass the
// command name, e.g. "btstackctl").
func (c Config) ToProfilingConfig(serviceName string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:      c.Telemetry.Profiling.Enabled,
		ServiceName:  serviceName,
		Endpoint:     c.Telemetry.Profiling.Endpoint,
		ProfileTypes: c.Telemetry.Profiling.ProfileTypes,
	}
}
