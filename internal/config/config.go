// Package config loads the server's recognized options: a JSONC file via
// github.com/tailscale/hujson layered under CLI flags via
// github.com/spf13/pflag, with defaults -> file -> flags precedence. Every
// core package consumes the result through the plain [Config] struct
// below.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// CacheModel controls whether reads/writes consult an optional
// value cache.
type CacheModel string

const (
	CacheModelNone      CacheModel = "none"
	CacheModelRead      CacheModel = "read"
	CacheModelReadWrite CacheModel = "readwrite"
)

// Set implements pflag.Value so CacheModel can be bound directly to a flag.
func (c *CacheModel) Set(s string) error {
	switch CacheModel(s) {
	case CacheModelNone, CacheModelRead, CacheModelReadWrite:
		*c = CacheModel(s)
		return nil
	default:
		return fmt.Errorf("invalid cache-model %q", s)
	}
}

func (c CacheModel) Type() string { return "cache-model" }

func (c CacheModel) String() string { return string(c) }

// Config holds every recognized server option.
type Config struct {
	DataDir             string     `json:"data_dir"`
	Port                int        `json:"port"`
	SlotMigrate         bool       `json:"slotmigrate"`
	ClassicMode         bool       `json:"classic_mode"`
	RequirePass         string     `json:"requirepass"`
	SlowlogSlowerThanUs int        `json:"slowlog_slower_than_us"`
	CacheModel          CacheModel `json:"cache_model"`
}

// Default returns the baseline configuration applied before any file or
// flag override.
func Default() Config {
	return Config{
		DataDir:             "./data",
		Port:                6379,
		SlotMigrate:         false,
		ClassicMode:         true,
		RequirePass:         "",
		SlowlogSlowerThanUs: -1,
		CacheModel:          CacheModelNone,
	}
}

// LoadFile merges a JSONC (hujson) config file on top of cfg. A missing
// file is not an error; it simply leaves cfg unchanged.
func LoadFile(cfg Config, path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, kverr.New(kverr.KindIOError, "config.LoadFile", err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, kverr.New(kverr.KindInvalidArgument, "config.LoadFile", fmt.Errorf("parse %s: %w", path, err))
	}

	if err := unmarshalJSON(std, &cfg); err != nil {
		return cfg, kverr.New(kverr.KindInvalidArgument, "config.LoadFile", fmt.Errorf("decode %s: %w", path, err))
	}

	return cfg, nil
}

func unmarshalJSON(standardized []byte, cfg *Config) error {
	return json.Unmarshal(standardized, cfg)
}

// FlagSet builds a pflag.FlagSet bound to cfg's fields. Parse it against
// os.Args[1:] (or any argv) to apply the final override layer.
func FlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("kvserver", pflag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "root directory for per-database engine, binlog, and checkpoint trees")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "client protocol listen port")
	fs.BoolVar(&cfg.SlotMigrate, "slotmigrate", cfg.SlotMigrate, "enable slot-index maintenance")
	fs.BoolVar(&cfg.ClassicMode, "classic-mode", cfg.ClassicMode, "enable master/slave meta-sync handshake path")
	fs.StringVar(&cfg.RequirePass, "requirepass", cfg.RequirePass, "shared secret for migration and client auth")
	fs.IntVar(&cfg.SlowlogSlowerThanUs, "slowlog-slower-than-us", cfg.SlowlogSlowerThanUs, "slow-log capture threshold in microseconds; -1 disables")
	fs.Var(&cfg.CacheModel, "cache-model", "value cache mode: none, read, or readwrite")

	return fs
}

// Load applies the full precedence: defaults, then an optional config
// file, then CLI flags.
func Load(filePath string, args []string) (Config, error) {
	cfg := Default()

	cfg, err := LoadFile(cfg, filePath)
	if err != nil {
		return Config{}, err
	}

	fs := FlagSet(&cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, kverr.New(kverr.KindInvalidArgument, "config.Load", err)
	}

	return cfg, nil
}
