// Package config loads the service configuration from YAML.
//
// Defaults are applied first, then the file (if any), then environment
// overrides for the Hoyolab credentials so secrets can stay out of the file.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override credential fields.
const (
	EnvCookie = "STARRAIL_HOYOLAB_COOKIE"
	EnvUID    = "STARRAIL_HOYOLAB_UID"
	EnvRegion = "STARRAIL_HOYOLAB_REGION"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Store        StoreConfig        `yaml:"store"`
	Hoyolab      HoyolabConfig      `yaml:"hoyolab"`
	Sources      []SourceConfig     `yaml:"sources"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Revalidation RevalidationConfig `yaml:"revalidation"`
	News         NewsConfig         `yaml:"news"`
	Throttle     ThrottleConfig     `yaml:"throttle"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Notifiers    []NotifierConfig   `yaml:"notifiers"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	TrustProxy      bool          `yaml:"trust_proxy"` // key clients by X-Real-IP / X-Forwarded-For
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LogConfig struct {
	Level      string            `yaml:"level"`
	Format     string            `yaml:"format"`
	File       string            `yaml:"file"`
	MaxSizeMB  int               `yaml:"max_size_mb"`
	MaxBackups int               `yaml:"max_backups"`
	MaxAgeDays int               `yaml:"max_age_days"`
	Components map[string]string `yaml:"components"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Type     string `yaml:"type"`     // sqlite, postgres, mongo, memory
	Path     string `yaml:"path"`     // sqlite; empty means <home>/codes.db
	DSN      string `yaml:"dsn"`      // postgres
	URI      string `yaml:"uri"`      // mongo
	Database string `yaml:"database"` // mongo
}

// HoyolabConfig carries the account used to query the redemption oracle.
type HoyolabConfig struct {
	Region    string        `yaml:"region"`
	UID       string        `yaml:"uid"`
	Cookie    string        `yaml:"cookie"`
	UserAgent string        `yaml:"user_agent"`
	Endpoint  string        `yaml:"endpoint"`
	GameBiz   string        `yaml:"game_biz"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SourceConfig declares one code source. Sources are fetched in list order
// and later sources win on duplicate codes.
type SourceConfig struct {
	Type   string            `yaml:"type"`
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params"`
}

type DiscoveryConfig struct {
	Interval   time.Duration `yaml:"interval"`
	OraclePace time.Duration `yaml:"oracle_pace"`
}

type RevalidationConfig struct {
	Interval   time.Duration `yaml:"interval"`
	OraclePace time.Duration `yaml:"oracle_pace"`
	Exclude    []string      `yaml:"exclude"` // codes never re-validated
}

type NewsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Endpoint  string        `yaml:"endpoint"`
	Languages []string      `yaml:"languages"` // empty means all supported
}

type ThrottleConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig enables the distributed job lock when Addrs is non-empty.
type RedisConfig struct {
	Addrs    []string      `yaml:"addrs"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"` //nolint:gosec // G117: config field
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NotifierConfig declares one new-code notifier (webhook, kafka, mqtt).
type NotifierConfig struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 7878, ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 30},
		Store:  StoreConfig{Type: "sqlite", Database: "starrail-api"},
		Hoyolab: HoyolabConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
			Endpoint:  "https://sg-hkrpg-api.hoyoverse.com/common/apicdkey/api/webExchangeCdkey",
			GameBiz:   "hkrpg_global",
			Timeout:   15 * time.Second,
		},
		Sources: []SourceConfig{
			{Type: "hoyolab"},
			{Type: "eurogamer"},
			{Type: "game8"},
			{Type: "fandom"},
			{Type: "polygon"},
			{Type: "prydwen"},
		},
		Discovery:    DiscoveryConfig{Interval: time.Minute, OraclePace: 6 * time.Second},
		Revalidation: RevalidationConfig{Interval: 30 * time.Minute, OraclePace: 15 * time.Second, Exclude: []string{"STARRAILGIFT"}},
		News:         NewsConfig{Enabled: true, Interval: 15 * time.Minute},
		Throttle:     ThrottleConfig{MaxRequests: 60, Window: time.Minute},
		Scheduler:    SchedulerConfig{Redis: RedisConfig{LockTTL: 40 * time.Minute}},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path yields defaults plus environment. A path that
// does not exist is an error; callers that want "optional" should check first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	c.Hoyolab.Cookie = cmp.Or(getenv(EnvCookie), c.Hoyolab.Cookie)
	c.Hoyolab.UID = cmp.Or(getenv(EnvUID), c.Hoyolab.UID)
	c.Hoyolab.Region = cmp.Or(getenv(EnvRegion), c.Hoyolab.Region)
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Hoyolab.Region == "" {
		errs = append(errs, errors.New("hoyolab.region is required"))
	}
	if c.Hoyolab.UID == "" {
		errs = append(errs, errors.New("hoyolab.uid is required"))
	}
	if c.Hoyolab.Cookie == "" {
		errs = append(errs, errors.New("hoyolab.cookie is required"))
	}
	switch c.Store.Type {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case "mongo":
		if c.Store.URI == "" {
			errs = append(errs, errors.New("store.uri is required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.type %q (supported: sqlite, postgres, mongo, memory)", c.Store.Type))
	}
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	for name, d := range map[string]time.Duration{
		"discovery.interval":       c.Discovery.Interval,
		"discovery.oracle_pace":    c.Discovery.OraclePace,
		"revalidation.interval":    c.Revalidation.Interval,
		"revalidation.oracle_pace": c.Revalidation.OraclePace,
		"throttle.window":          c.Throttle.Window,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.News.Enabled && c.News.Interval <= 0 {
		errs = append(errs, fmt.Errorf("news.interval must be positive, got %s", c.News.Interval))
	}
	if c.Throttle.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("throttle.max_requests must be positive, got %d", c.Throttle.MaxRequests))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}
