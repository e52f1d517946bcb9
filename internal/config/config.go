// Package config loads the monitor configuration from an optional YAML file
// and MONITOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"solana-wallet-monitor/internal/classifier"
	"solana-wallet-monitor/internal/format"
	"solana-wallet-monitor/internal/listener"
	"solana-wallet-monitor/internal/resolver"
	"solana-wallet-monitor/internal/rotator"
	"solana-wallet-monitor/internal/watcher"
)

const envPrefix = "MONITOR_"

// Config is the complete monitor configuration.
type Config struct {
	Rotator    RotatorSection    `yaml:"rotator"`
	Listener   ListenerSection   `yaml:"listener"`
	Resolver   ResolverSection   `yaml:"resolver"`
	Dedup      DedupSection      `yaml:"dedup"`
	Classifier ClassifierSection `yaml:"classifier"`
	Format     FormatSection     `yaml:"format"`
	Monitor    MonitorSection    `yaml:"monitor"`
	Sinks      SinksSection      `yaml:"sinks"`
	HTTP       HTTPSection       `yaml:"http"`
	Log        LogSection        `yaml:"log"`
}

type RotatorSection struct {
	Endpoints      []rotator.EndpointConfig `yaml:"endpoints"`
	CanonicalHost  string                   `yaml:"canonical_host"`
	MaxAttempts    int                      `yaml:"max_attempts"`
	RequestTimeout time.Duration            `yaml:"request_timeout"`
	PerEndpointRPS float64                  `yaml:"per_endpoint_rps"`
	Enabled        bool                     `yaml:"enabled"`
}

type ListenerSection struct {
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	MaxFailures int           `yaml:"max_failures"`
	Buffer      int           `yaml:"buffer"`
}

type ResolverSection struct {
	Lookback int `yaml:"lookback"`
}

type DedupSection struct {
	Window   time.Duration `yaml:"window"`
	Capacity int           `yaml:"capacity"`
}

type ClassifierSection struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	FirstPage     int           `yaml:"first_page"`
	PageSize      int           `yaml:"page_size"`
	MaxSignatures int           `yaml:"max_signatures"`
	SkipThreshold int           `yaml:"skip_threshold"`
	Pacing        time.Duration `yaml:"pacing"`
	FreshMaxPrior int           `yaml:"fresh_max_prior"`
}

type FormatSection struct {
	ProgramID      string        `yaml:"program_id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	WatchDuration  time.Duration `yaml:"watch_duration"`
	SignatureLimit int           `yaml:"signature_limit"`
	MaxBacklog     int           `yaml:"max_backlog"`
}

type MonitorSection struct {
	Accounts []string `yaml:"accounts"`
	Shards   int      `yaml:"shards"`
}

// SinksConfig names the optional outbound collaborators. Empty values disable them.
type SinksSection struct {
	RedisURL      string `yaml:"redis_url"`
	RedisStream   string `yaml:"redis_stream"`
	RedisMaxLen   int64  `yaml:"redis_max_len"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

type HTTPSection struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cls := classifier.DefaultConfig()
	return &Config{
		Rotator: RotatorSection{
			MaxAttempts:    3,
			RequestTimeout: 15 * time.Second,
			Enabled:        true,
		},
		Listener: ListenerSection{
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
			MaxFailures: 5,
			Buffer:      1024,
		},
		Resolver: ResolverSection{Lookback: resolver.DefaultLookback},
		Dedup: DedupSection{
			Window:   10 * time.Minute,
			Capacity: 100_000,
		},
		Classifier: ClassifierSection{
			Workers:       cls.Workers,
			QueueSize:     cls.QueueSize,
			FirstPage:     cls.FirstPage,
			PageSize:      cls.PageSize,
			MaxSignatures: cls.MaxSignatures,
			SkipThreshold: cls.SkipThreshold,
			Pacing:        cls.Pacing,
			FreshMaxPrior: cls.FreshMaxPrior,
		},
		Format: FormatSection{
			ProgramID:      format.DefaultProgramID,
			PollInterval:   5 * time.Second,
			WatchDuration:  30 * time.Minute,
			SignatureLimit: 10,
			MaxBacklog:     1000,
		},
		Monitor: MonitorSection{Shards: 8},
		HTTP:    HTTPSection{MetricsAddr: ":9090"},
		Log:     LogSection{Level: "info", Format: "json"},
	}
}

// Override mutates a loaded configuration before validation.
type Override func(*Config)

// Load reads path (skipped when empty), applies MONITOR_* environment
// variables and overrides in order, then validates the result.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	if v, ok := env.str("RPC_URLS"); ok {
		c.Rotator.Endpoints = c.Rotator.Endpoints[:0]
		for _, u := range SplitList(v) {
			c.Rotator.Endpoints = append(c.Rotator.Endpoints, rotator.EndpointConfig{URL: u})
		}
	}
	env.setStr("CANONICAL_HOST", &c.Rotator.CanonicalHost)
	env.setInt("ROTATOR_MAX_ATTEMPTS", &c.Rotator.MaxAttempts)
	env.setDuration("ROTATOR_REQUEST_TIMEOUT", &c.Rotator.RequestTimeout)
	env.setFloat("ROTATOR_PER_ENDPOINT_RPS", &c.Rotator.PerEndpointRPS)
	env.setBool("ROTATOR_ENABLED", &c.Rotator.Enabled)

	env.setDuration("LISTENER_BACKOFF_BASE", &c.Listener.BackoffBase)
	env.setDuration("LISTENER_BACKOFF_MAX", &c.Listener.BackoffMax)
	env.setInt("LISTENER_MAX_FAILURES", &c.Listener.MaxFailures)

	env.setInt("RESOLVER_LOOKBACK", &c.Resolver.Lookback)
	env.setDuration("DEDUP_WINDOW", &c.Dedup.Window)
	env.setInt("DEDUP_CAPACITY", &c.Dedup.Capacity)

	env.setInt("CLASSIFIER_WORKERS", &c.Classifier.Workers)
	env.setInt("CLASSIFIER_QUEUE_SIZE", &c.Classifier.QueueSize)
	env.setInt("CLASSIFIER_SKIP_THRESHOLD", &c.Classifier.SkipThreshold)
	env.setDuration("CLASSIFIER_PACING", &c.Classifier.Pacing)
	env.setInt("CLASSIFIER_FRESH_MAX_PRIOR", &c.Classifier.FreshMaxPrior)

	env.setStr("FORMAT_PROGRAM_ID", &c.Format.ProgramID)
	env.setDuration("FORMAT_POLL_INTERVAL", &c.Format.PollInterval)
	env.setDuration("FORMAT_WATCH_DURATION", &c.Format.WatchDuration)
	env.setInt("FORMAT_MAX_BACKLOG", &c.Format.MaxBacklog)

	if v, ok := env.str("ACCOUNTS"); ok {
		c.Monitor.Accounts = SplitList(v)
	}
	env.setInt("SHARDS", &c.Monitor.Shards)

	env.setStr("REDIS_URL", &c.Sinks.RedisURL)
	env.setStr("REDIS_STREAM", &c.Sinks.RedisStream)
	env.setStr("POSTGRES_DSN", &c.Sinks.PostgresDSN)
	env.setStr("CLICKHOUSE_DSN", &c.Sinks.ClickhouseDSN)

	env.setStr("METRICS_ADDR", &c.HTTP.MetricsAddr)
	env.setStr("LOG_LEVEL", &c.Log.Level)
	env.setStr("LOG_FORMAT", &c.Log.Format)

	return errors.Join(env.errs...)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) str(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) setStr(key string, dst *string) {
	if v, ok := e.str(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.str(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = i
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.str(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.str(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.str(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			return
		}
		*dst = d
	}
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Rotator.Endpoints) == 0 {
		errs = append(errs, errors.New("rotator.endpoints: at least one endpoint is required"))
	}
	for i, ep := range c.Rotator.Endpoints {
		if err := validateURL(ep.URL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("rotator.endpoints[%d].url: %w", i, err))
		}
		if ep.WSURL != "" {
			if err := validateURL(ep.WSURL, "ws", "wss"); err != nil {
				errs = append(errs, fmt.Errorf("rotator.endpoints[%d].ws_url: %w", i, err))
			}
		}
	}
	if c.Rotator.MaxAttempts < 1 {
		errs = append(errs, errors.New("rotator.max_attempts: must be at least 1"))
	}
	if c.Rotator.PerEndpointRPS < 0 {
		errs = append(errs, errors.New("rotator.per_endpoint_rps: must not be negative"))
	}
	if len(c.Monitor.Accounts) == 0 {
		errs = append(errs, errors.New("monitor.accounts: at least one account is required"))
	}
	if c.Monitor.Shards < 1 {
		errs = append(errs, errors.New("monitor.shards: must be at least 1"))
	}
	if c.Dedup.Window <= 0 {
		errs = append(errs, errors.New("dedup.window: must be positive"))
	}
	if c.Dedup.Capacity < 1 {
		errs = append(errs, errors.New("dedup.capacity: must be at least 1"))
	}
	if c.Classifier.PageSize > 1000 || c.Classifier.FirstPage > 1000 {
		errs = append(errs, errors.New("classifier: page sizes above 1000 are rejected by RPC nodes"))
	}
	if c.Classifier.FreshMaxPrior < 0 {
		errs = append(errs, errors.New("classifier.fresh_max_prior: must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not a %s url", raw, strings.Join(schemes, "/"))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// NewLogger builds the process logger writing to w.
func (c LogSection) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// RotatorConfig converts to the rotator's configuration.
func (c *Config) RotatorConfig() rotator.Config {
	return rotator.Config{
		Endpoints:      c.Rotator.Endpoints,
		CanonicalHost:  c.Rotator.CanonicalHost,
		MaxAttempts:    c.Rotator.MaxAttempts,
		RequestTimeout: c.Rotator.RequestTimeout,
		PerEndpointRPS: c.Rotator.PerEndpointRPS,
		Disabled:       !c.Rotator.Enabled,
	}
}

func (c *Config) ListenerConfig() listener.Config {
	return listener.Config{
		BackoffBase: c.Listener.BackoffBase,
		BackoffMax:  c.Listener.BackoffMax,
		MaxFailures: c.Listener.MaxFailures,
		Buffer:      c.Listener.Buffer,
	}
}

func (c *Config) ResolverConfig() resolver.Config {
	return resolver.Config{Lookback: c.Resolver.Lookback}
}

func (c *Config) ClassifierConfig() classifier.Config {
	return classifier.Config{
		Workers:       c.Classifier.Workers,
		QueueSize:     c.Classifier.QueueSize,
		FirstPage:     c.Classifier.FirstPage,
		PageSize:      c.Classifier.PageSize,
		MaxSignatures: c.Classifier.MaxSignatures,
		SkipThreshold: c.Classifier.SkipThreshold,
		Pacing:        c.Classifier.Pacing,
		FreshMaxPrior: c.Classifier.FreshMaxPrior,
	}
}

func (c *Config) WatcherConfig() watcher.Config {
	return watcher.Config{
		PollInterval:   c.Format.PollInterval,
		WatchDuration:  c.Format.WatchDuration,
		SignatureLimit: c.Format.SignatureLimit,
		MaxBacklog:     c.Format.MaxBacklog,
	}
}
