// Package config loads runtime settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"home-tasks/internal/datetime"
)

const maxConfigFileSize = 1024 * 1024

const defaults = `
telegram:
  token: ""
database:
  url: home_tasks.db
scheduler:
  tick_interval: 60s
  delivery_timeout: 10s
  digest_window: 2m
  overdue_offset: 1m
  workers: 4
  durable_gate: false
  prune_at: "03:30"
  prune_after: 720h
users:
  default_timezone: Europe/Moscow
  quiet_from: "23:00"
  quiet_to: "08:00"
  digest_time: "09:00"
llm:
  base_url: ""
  api_key: ""
  model: gpt-4o-mini
alerts:
  dedup_window: 5m
  rate_per_sec: 1
log:
  level: info
  format: console
ops:
  addr: ""
`

// sections are the top-level keys the environment may override.
var sections = map[string]bool{
	"telegram":  true,
	"database":  true,
	"scheduler": true,
	"users":     true,
	"llm":       true,
	"alerts":    true,
	"log":       true,
	"ops":       true,
}

// Config keeps runtime settings for the bot.
type Config struct {
	Telegram  Telegram  `koanf:"telegram"`
	Database  Database  `koanf:"database"`
	Scheduler Scheduler `koanf:"scheduler"`
	Users     Users     `koanf:"users"`
	LLM       LLM       `koanf:"llm"`
	Alerts    Alerts    `koanf:"alerts"`
	Log       Log       `koanf:"log"`
	Ops       Ops       `koanf:"ops"`
}

type Telegram struct {
	Token string `koanf:"token"`
	// AllowedIDs restricts the bot to these chats. Empty allows everyone.
	AllowedIDs []int64 `koanf:"allowed_ids"`
	// AdminIDs receive failure alerts. Defaults to AllowedIDs.
	AdminIDs []int64 `koanf:"admin_ids"`
}

type Database struct {
	// URL is a SQLite path or a postgres:// DSN.
	URL string `koanf:"url"`
}

type Scheduler struct {
	TickInterval    time.Duration `koanf:"tick_interval"`
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
	DigestWindow    time.Duration `koanf:"digest_window"`
	OverdueOffset   time.Duration `koanf:"overdue_offset"`
	Workers         int           `koanf:"workers"`
	DurableGate     bool          `koanf:"durable_gate"`
	PruneAt         string        `koanf:"prune_at"`
	PruneAfter      time.Duration `koanf:"prune_after"`
}

// Users holds the settings given to newly registered users.
type Users struct {
	DefaultTimezone string `koanf:"default_timezone"`
	QuietFrom       string `koanf:"quiet_from"`
	QuietTo         string `koanf:"quiet_to"`
	DigestTime      string `koanf:"digest_time"`
}

// LLM configures the natural-language task parser. An empty APIKey
// disables it.
type LLM struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
}

type Alerts struct {
	DedupWindow time.Duration `koanf:"dedup_window"`
	RatePerSec  float64       `koanf:"rate_per_sec"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Ops is the health and metrics listener. An empty Addr disables it.
type Ops struct {
	Addr string `koanf:"addr"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment are used.
//
// Environment variables map to keys by splitting on the first underscore:
//
//	TELEGRAM_TOKEN            -> telegram.token
//	DATABASE_URL              -> database.url
//	SCHEDULER_TICK_INTERVAL   -> scheduler.tick_interval
//	TELEGRAM_ALLOWED_IDS=1,2  -> telegram.allowed_ids
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		cfg.Telegram.AdminIDs = append([]int64(nil), cfg.Telegram.AllowedIDs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside
// the known sections are ignored.
func envKey(name string) string {
	lower := strings.ToLower(name)
	section, field, ok := strings.Cut(lower, "_")
	if !ok || field == "" || !sections[section] {
		return ""
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s too large: %d bytes", path, info.Size())
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// Validate checks required values and formats.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("TELEGRAM_TOKEN is required"))
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if _, err := datetime.LoadLocation(c.Users.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("users.default_timezone: %w", err))
	}
	for name, value := range map[string]string{
		"users.quiet_from":   c.Users.QuietFrom,
		"users.quiet_to":     c.Users.QuietTo,
		"users.digest_time":  c.Users.DigestTime,
		"scheduler.prune_at": c.Scheduler.PruneAt,
	} {
		if _, err := datetime.ParseClock(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, d := range map[string]time.Duration{
		"scheduler.tick_interval":    c.Scheduler.TickInterval,
		"scheduler.delivery_timeout": c.Scheduler.DeliveryTimeout,
		"scheduler.digest_window":    c.Scheduler.DigestWindow,
		"scheduler.overdue_offset":   c.Scheduler.OverdueOffset,
		"scheduler.prune_after":      c.Scheduler.PruneAfter,
		"alerts.dedup_window":        c.Alerts.DedupWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers))
	}
	if c.Alerts.RatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("alerts.rate_per_sec must be positive, got %v", c.Alerts.RatePerSec))
	}
	return errors.Join(errs...)
}
