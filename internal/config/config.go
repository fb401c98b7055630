package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source names known to the engine.
const (
	SourceGreenhouse = "greenhouse"
	SourceLever      = "lever"
	SourceAshby      = "ashby"
	SourceRemoteOK   = "remoteok"
	SourceAdzuna     = "adzuna"
)

// BoardSources are the per-company providers; only they can be probed.
var BoardSources = []string{SourceGreenhouse, SourceLever, SourceAshby}

// AllSources lists every provider in registration order.
var AllSources = []string{SourceGreenhouse, SourceLever, SourceAshby, SourceRemoteOK, SourceAdzuna}

// Config is the root configuration for jobsync.
type Config struct {
	Store         StoreConfig
	Redis         RedisConfig
	Server        ServerConfig
	Sync          SyncConfig
	RateLimit     RateLimitConfig
	Retry         RetryConfig
	Sources       map[string]SourceConfig
	Companies     []CompanyConfig
	Discovery     DiscoveryConfig
	Schedule      []ScheduleConfig
	SweepSchedule string
	Notification  NotificationConfig
	TaxonomyPath  string
}

// StoreConfig selects the relational store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables the cross-process progress relay when URL is set.
type RedisConfig struct {
	URL       string
	Prefix    string
	Retention time.Duration
}

// ServerConfig covers both the listening side and the address the
// scheduler triggers.
type ServerConfig struct {
	Addr            string
	BaseURL         string
	ShutdownTimeout time.Duration
}

// SyncConfig is the orchestrator's run policy.
type SyncConfig struct {
	StalenessWindow time.Duration // overlapping starts inside it are rejected
	StuckThreshold  time.Duration // running runs older than this are swept
	RequestTimeout  time.Duration // per provider request attempt
	Concurrency     int
	PageCap         int
	Retention       time.Duration // zero keeps listings forever
}

// RateLimitConfig controls per-source request spacing.
type RateLimitConfig struct {
	MinDelay        time.Duration            // minimum gap between requests to the same source
	SourceOverrides map[string]time.Duration // per-source overrides, keyed by source name
}

// MinDelayFor returns the configured delay for the given source, falling back to MinDelay.
func (r RateLimitConfig) MinDelayFor(source string) time.Duration {
	if d, ok := r.SourceOverrides[source]; ok {
		return d
	}
	return r.MinDelay
}

// RetryConfig bounds retries of provider requests and server triggers.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// SourceConfig enables and points one provider. Adzuna also needs
// credentials; the other fields are ignored elsewhere.
type SourceConfig struct {
	Enabled        bool   `yaml:"-"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	AppID          string `yaml:"app_id"`
	AppKey         string `yaml:"app_key"`
	Country        string `yaml:"country" validate:"omitempty,len=2"`
	What           string `yaml:"what"`
	ResultsPerPage int    `yaml:"results_per_page" validate:"omitempty,min=1,max=50"`
}

// CompanyConfig is one board that every job_sync reads.
type CompanyConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source" validate:"required,oneof=greenhouse lever ashby"`
	Slug   string `yaml:"slug" validate:"required"`
}

// DiscoveryConfig drives the company prober.
type DiscoveryConfig struct {
	Sources            []string
	SeedNames          []string
	ProbeDelay         time.Duration
	ProbeAttempts      int
	ProbeTimeout       time.Duration
	RemoteKeywords     []string
	CandidateRetention time.Duration
}

// ScheduleConfig is one cron trigger.
type ScheduleConfig struct {
	Spec     string `yaml:"spec" validate:"required"`
	SyncType string `yaml:"sync_type" validate:"required,oneof=job_sync discovery"`
	Source   string `yaml:"source"`
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type         string `yaml:"type" validate:"omitempty,oneof=log slack"` // "log" or "slack"
	WebhookURL   string `yaml:"webhook_url" validate:"required_if=Type slack"`
	FailuresOnly bool   `yaml:"failures_only"`
}

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	Store         StoreConfig          `yaml:"store"`
	Redis         rawRedisConfig       `yaml:"redis"`
	Server        rawServerConfig      `yaml:"server"`
	Sync          rawSyncConfig        `yaml:"sync"`
	RateLimit     rawRateLimitConfig   `yaml:"rate_limit"`
	Retry         rawRetryConfig       `yaml:"retry"`
	Sources       map[string]rawSource `yaml:"sources" validate:"dive"`
	Companies     []CompanyConfig      `yaml:"companies" validate:"dive"`
	Discovery     rawDiscoveryConfig   `yaml:"discovery"`
	Schedule      []ScheduleConfig     `yaml:"schedule" validate:"dive"`
	SweepSchedule string               `yaml:"sweep_schedule"`
	Notification  NotificationConfig   `yaml:"notification"`
	TaxonomyPath  string               `yaml:"taxonomy_path"`
}

type rawRedisConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	Prefix    string `yaml:"prefix"`
	Retention string `yaml:"retention"`
}

type rawServerConfig struct {
	Addr            string `yaml:"addr"`
	BaseURL         string `yaml:"base_url" validate:"omitempty,url"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type rawSyncConfig struct {
	StalenessWindow string `yaml:"staleness_window"`
	StuckThreshold  string `yaml:"stuck_threshold"`
	RequestTimeout  string `yaml:"request_timeout"`
	Concurrency     int    `yaml:"concurrency" validate:"omitempty,min=1,max=32"`
	PageCap         int    `yaml:"page_cap" validate:"omitempty,min=1"`
	Retention       string `yaml:"retention"`
}

type rawRateLimitConfig struct {
	MinDelay        string            `yaml:"min_delay"`
	SourceOverrides map[string]string `yaml:"source_overrides"`
}

type rawRetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`
	BaseDelay   string `yaml:"base_delay"`
}

type rawSource struct {
	Enabled      *bool `yaml:"enabled"`
	SourceConfig `yaml:",inline"`
}

type rawDiscoveryConfig struct {
	Sources            []string `yaml:"sources" validate:"dive,oneof=greenhouse lever ashby"`
	SeedNames          []string `yaml:"seed_names"`
	ProbeDelay         string   `yaml:"probe_delay"`
	ProbeAttempts      int      `yaml:"probe_attempts" validate:"omitempty,min=1,max=10"`
	ProbeTimeout       string   `yaml:"probe_timeout"`
	RemoteKeywords     []string `yaml:"remote_keywords"`
	CandidateRetention string   `yaml:"candidate_retention"`
}

// LoadEnv loads variables from a .env file into the process environment so
// ${VAR} references in the config resolve. A missing file is not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML, expanding ${VAR} references and applying
// defaults. Empty input yields the default configuration.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var p durationParser
	cfg := &Config{
		Store: raw.Store,
		Redis: RedisConfig{
			URL:       raw.Redis.URL,
			Prefix:    withDefault(raw.Redis.Prefix, "jobsync:"),
			Retention: p.parse("redis.retention", raw.Redis.Retention, 30*time.Minute),
		},
		Server: ServerConfig{
			Addr:            withDefault(raw.Server.Addr, ":8080"),
			BaseURL:         strings.TrimRight(withDefault(raw.Server.BaseURL, "http://localhost:8080"), "/"),
			ShutdownTimeout: p.parse("server.shutdown_timeout", raw.Server.ShutdownTimeout, 2*time.Minute),
		},
		Sync: SyncConfig{
			StalenessWindow: p.parse("sync.staleness_window", raw.Sync.StalenessWindow, 2*time.Minute),
			StuckThreshold:  p.parse("sync.stuck_threshold", raw.Sync.StuckThreshold, time.Hour),
			RequestTimeout:  p.parse("sync.request_timeout", raw.Sync.RequestTimeout, 10*time.Second),
			Concurrency:     intDefault(raw.Sync.Concurrency, 3),
			PageCap:         intDefault(raw.Sync.PageCap, 5),
			Retention:       p.parse("sync.retention", raw.Sync.Retention, 0),
		},
		RateLimit: RateLimitConfig{
			MinDelay:        p.parse("rate_limit.min_delay", raw.RateLimit.MinDelay, time.Second),
			SourceOverrides: make(map[string]time.Duration),
		},
		Retry: RetryConfig{
			MaxAttempts: intDefault(raw.Retry.MaxAttempts, 3),
			BaseDelay:   p.parse("retry.base_delay", raw.Retry.BaseDelay, 2*time.Second),
		},
		Sources:   make(map[string]SourceConfig),
		Companies: raw.Companies,
		Discovery: DiscoveryConfig{
			Sources:            raw.Discovery.Sources,
			SeedNames:          raw.Discovery.SeedNames,
			ProbeDelay:         p.parse("discovery.probe_delay", raw.Discovery.ProbeDelay, time.Second),
			ProbeAttempts:      intDefault(raw.Discovery.ProbeAttempts, 3),
			ProbeTimeout:       p.parse("discovery.probe_timeout", raw.Discovery.ProbeTimeout, 10*time.Second),
			RemoteKeywords:     raw.Discovery.RemoteKeywords,
			CandidateRetention: p.parse("discovery.candidate_retention", raw.Discovery.CandidateRetention, 30*24*time.Hour),
		},
		Schedule:      raw.Schedule,
		SweepSchedule: raw.SweepSchedule,
		Notification:  raw.Notification,
		TaxonomyPath:  raw.TaxonomyPath,
	}
	for source, d := range raw.RateLimit.SourceOverrides {
		cfg.RateLimit.SourceOverrides[source] = p.parse(fmt.Sprintf("rate_limit.source_overrides[%q]", source), d, 0)
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "jobsync.db"
	}
	if cfg.Notification.Type == "" {
		cfg.Notification.Type = "log"
	}

	// Every provider is enabled unless switched off explicitly.
	for _, name := range AllSources {
		cfg.Sources[name] = SourceConfig{Enabled: true}
	}
	for name, rs := range raw.Sources {
		sc := rs.SourceConfig
		sc.Enabled = rs.Enabled == nil || *rs.Enabled
		cfg.Sources[name] = sc
	}
	if len(cfg.Discovery.Sources) == 0 {
		cfg.Discovery.Sources = []string{SourceGreenhouse}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnabledSources returns the enabled provider names in registration order.
func (c *Config) EnabledSources() []string {
	var out []string
	for _, name := range AllSources {
		if c.Sources[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver)
	}
	if cfg.Sync.StalenessWindow <= 0 {
		return fmt.Errorf("sync.staleness_window must be positive, got %v", cfg.Sync.StalenessWindow)
	}
	if cfg.Sync.StuckThreshold <= cfg.Sync.StalenessWindow {
		return fmt.Errorf("sync.stuck_threshold (%v) must exceed sync.staleness_window (%v)",
			cfg.Sync.StuckThreshold, cfg.Sync.StalenessWindow)
	}
	if cfg.Sync.RequestTimeout <= 0 {
		return fmt.Errorf("sync.request_timeout must be positive, got %v", cfg.Sync.RequestTimeout)
	}
	if cfg.Sync.Retention < 0 {
		return fmt.Errorf("sync.retention must not be negative, got %v", cfg.Sync.Retention)
	}

	for name := range cfg.Sources {
		if !slices.Contains(AllSources, name) {
			return fmt.Errorf("sources: unknown source %q", name)
		}
	}
	for name := range cfg.RateLimit.SourceOverrides {
		if !slices.Contains(AllSources, name) {
			return fmt.Errorf("rate_limit.source_overrides: unknown source %q", name)
		}
	}

	for _, s := range cfg.Schedule {
		if s.Source == "" {
			continue
		}
		known := AllSources
		if s.SyncType == "discovery" {
			known = BoardSources
		}
		if !slices.Contains(known, s.Source) {
			return fmt.Errorf("schedule %q: source %q cannot run %s", s.Spec, s.Source, s.SyncType)
		}
	}

	if cfg.Notification.Type == "slack" && !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
		return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
	}
	return nil
}

// durationParser keeps the first parse error so a block of fields can be
// converted without checking each one.
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, raw string, def time.Duration) time.Duration {
	if raw == "" || p.err != nil {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("parse %s %q: %w", field, raw, err)
		return def
	}
	return d
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intDefault(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}
