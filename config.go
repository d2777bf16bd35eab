package healthsync

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/healthsync/internal/profile"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config configures the healthsync client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	// If empty, LocalPath is derived from Profile.
	LocalPath string `mapstructure:"local_path"`

	// Profile selects an isolated set of sources and history.
	// If empty, resolved using explicit > HEALTHSYNC_PROFILE env > "default".
	Profile string `mapstructure:"profile"`

	// DefaultTolerance is the relative delta below which samples agree for
	// metrics without a specific tolerance. Defaults to 0.05.
	DefaultTolerance float64 `mapstructure:"default_tolerance"`

	// Tolerances overrides the tolerance per metric.
	Tolerances map[string]float64 `mapstructure:"tolerances"`

	// DefaultStrategy resolves conflicts in categories without an override.
	// Defaults to priority.
	DefaultStrategy Strategy `mapstructure:"default_strategy"`

	// CategoryStrategies overrides the default strategy per category.
	CategoryStrategies map[Category]Strategy `mapstructure:"category_strategies"`

	// AutoResolveMinor resolves low severity conflicts without user input.
	// Defaults to true.
	AutoResolveMinor bool `mapstructure:"auto_resolve_minor"`

	// Agreement picks the value for buckets whose sources agree.
	// Defaults to preferred.
	Agreement AgreementPolicy `mapstructure:"agreement"`

	// MaxRetryAttempts is the number of fetch attempts per adapter and
	// category, including the first. Defaults to 3.
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff.
	// Default to 500ms and 30s.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`

	// MaxConcurrency caps parallel adapter fetches. Defaults to 4.
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// AdapterTimeout bounds a single adapter call. Defaults to 30s.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"`

	// SessionTimeout bounds a whole sync session. Defaults to 5m.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// InitialLookback is how far back the first fetch for a source reaches.
	// Defaults to 7 days.
	InitialLookback time.Duration `mapstructure:"initial_lookback"`

	// Schedule is a cron spec for scheduled syncs, e.g. "@every 1h".
	// Empty disables scheduling.
	Schedule string `mapstructure:"schedule"`

	// RedisURL enables a cross-process sync lock when set.
	RedisURL string `mapstructure:"redis_url"`

	// Log configures structured logging. A zero value discards logs.
	Log LogConfig `mapstructure:"log"`

	// Debug enables debug-level logging.
	Debug bool `mapstructure:"debug"`

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty.
	DebugLogPath string `mapstructure:"debug_log_path"`

	// Sources declares the data sources and how to reach them.
	Sources []SourceConfig `mapstructure:"sources"`
}

// SourceConfig declares one data source and its adapter settings.
type SourceConfig struct {
	ID          string          `mapstructure:"id"`
	DisplayName string          `mapstructure:"display_name"`
	Categories  []Category      `mapstructure:"categories"`
	Kind        IntegrationKind `mapstructure:"kind"`
	Disabled    bool            `mapstructure:"disabled"`

	// URL is the base URL of an HTTP source.
	URL string `mapstructure:"url"`
	// TokenEnv names the environment variable holding a bearer token.
	TokenEnv string `mapstructure:"token_env"`

	// OAuth2 client-credentials settings for oauth2 sources.
	TokenURL        string   `mapstructure:"token_url"`
	ClientID        string   `mapstructure:"client_id"`
	ClientSecretEnv string   `mapstructure:"client_secret_env"`
	Scopes          []string `mapstructure:"scopes"`

	// File is the path of a YAML or JSON export for file sources.
	File string `mapstructure:"file"`
}

// DataSource converts the declaration into a registry entry.
func (s SourceConfig) DataSource() DataSource {
	name := s.DisplayName
	if name == "" {
		name = s.ID
	}
	return DataSource{
		ID:          s.ID,
		DisplayName: name,
		Categories:  s.Categories,
		Active:      !s.Disabled,
		Kind:        s.Kind,
	}
}

// DefaultConfig returns a Config with sensible defaults.
// Profile defaults to "default", and LocalPath is derived from Profile.
func DefaultConfig() Config {
	return Config{
		Profile:          profile.DefaultProfile,
		LocalPath:        profile.DBPath(profile.DefaultProfile),
		DefaultTolerance: DefaultTolerance,
		DefaultStrategy:  StrategyPriority,
		AutoResolveMinor: true,
		Agreement:        AgreementPreferred,
		MaxRetryAttempts: 3,
		RetryBaseDelay:   500 * time.Millisecond,
		RetryMaxDelay:    30 * time.Second,
		MaxConcurrency:   4,
		AdapterTimeout:   30 * time.Second,
		SessionTimeout:   5 * time.Minute,
		InitialLookback:  7 * 24 * time.Hour,
	}
}

// dbPathEnvVars name the database path variables, in precedence order.
var dbPathEnvVars = []string{"HEALTHSYNC_DB_PATH", "HEALTHSYNC_LOCAL_PATH"}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ConfigFromEnv reads configuration from environment variables.
//
//	HEALTHSYNC_DB_PATH            → LocalPath (HEALTHSYNC_LOCAL_PATH also accepted)
//	HEALTHSYNC_PROFILE            → Profile
//	HEALTHSYNC_DEFAULT_STRATEGY   → DefaultStrategy
//	HEALTHSYNC_AUTO_RESOLVE_MINOR → AutoResolveMinor (defaults to true)
//	HEALTHSYNC_SCHEDULE           → Schedule
//	HEALTHSYNC_REDIS_URL          → RedisURL
//	HEALTHSYNC_LOG_LEVEL          → Log.Level
//	HEALTHSYNC_DEBUG              → Debug (any non-empty value enables)
//	HEALTHSYNC_DEBUG_LOG          → DebugLogPath
func ConfigFromEnv() Config {
	autoResolve := true
	if v := os.Getenv("HEALTHSYNC_AUTO_RESOLVE_MINOR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			autoResolve = b
		}
	}
	return Config{
		LocalPath:        firstEnv(dbPathEnvVars...),
		Profile:          os.Getenv("HEALTHSYNC_PROFILE"),
		DefaultStrategy:  Strategy(os.Getenv("HEALTHSYNC_DEFAULT_STRATEGY")),
		AutoResolveMinor: autoResolve,
		Schedule:         os.Getenv("HEALTHSYNC_SCHEDULE"),
		RedisURL:         os.Getenv("HEALTHSYNC_REDIS_URL"),
		Log:              LogConfig{Level: os.Getenv("HEALTHSYNC_LOG_LEVEL")},
		Debug:            os.Getenv("HEALTHSYNC_DEBUG") != "",
		DebugLogPath:     os.Getenv("HEALTHSYNC_DEBUG_LOG"),
	}
}

// LoadConfig reads a YAML config file, overlaid with HEALTHSYNC_* environment
// variables. An empty path reads the environment only. The result has
// defaults applied but is not validated.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEALTHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("local_path", "")
	if err := v.BindEnv(append([]string{"local_path"}, dbPathEnvVars...)...); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}
	v.SetDefault("profile", "")
	v.SetDefault("default_tolerance", d.DefaultTolerance)
	v.SetDefault("default_strategy", string(d.DefaultStrategy))
	v.SetDefault("auto_resolve_minor", d.AutoResolveMinor)
	v.SetDefault("agreement", string(d.Agreement))
	v.SetDefault("max_retry_attempts", d.MaxRetryAttempts)
	v.SetDefault("retry_base_delay", d.RetryBaseDelay.String())
	v.SetDefault("retry_max_delay", d.RetryMaxDelay.String())
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("adapter_timeout", d.AdapterTimeout.String())
	v.SetDefault("session_timeout", d.SessionTimeout.String())
	v.SetDefault("initial_lookback", d.InitialLookback.String())
	v.SetDefault("schedule", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)
	v.SetDefault("log.output_path", "stderr")
	v.SetDefault("debug", false)
	v.SetDefault("debug_log_path", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}

	if c.Profile != "" {
		if err := profile.Validate(c.Profile); err != nil {
			return &ValidationError{Field: "Profile", Message: err.Error()}
		}
	}

	if c.DefaultTolerance < 0 || c.DefaultTolerance >= 1 {
		return &ValidationError{Field: "DefaultTolerance", Message: "must be in [0, 1)"}
	}
	for metric, tol := range c.Tolerances {
		if tol < 0 || tol >= 1 {
			return &ValidationError{Field: "Tolerances." + metric, Message: "must be in [0, 1)"}
		}
	}

	if c.DefaultStrategy != "" && !c.DefaultStrategy.IsValid() {
		return &ValidationError{Field: "DefaultStrategy", Message: fmt.Sprintf("unknown strategy %q", c.DefaultStrategy)}
	}
	for cat, s := range c.CategoryStrategies {
		if !cat.IsValid() {
			return &ValidationError{Field: "CategoryStrategies", Message: fmt.Sprintf("unknown category %q", cat)}
		}
		if !s.IsValid() {
			return &ValidationError{Field: "CategoryStrategies." + string(cat), Message: fmt.Sprintf("unknown strategy %q", s)}
		}
	}

	if c.Agreement != "" && !c.Agreement.IsValid() {
		return &ValidationError{Field: "Agreement", Message: "must be preferred or average"}
	}

	if c.MaxRetryAttempts < 0 {
		return &ValidationError{Field: "MaxRetryAttempts", Message: "must be non-negative"}
	}
	if c.MaxConcurrency < 0 {
		return &ValidationError{Field: "MaxConcurrency", Message: "must be non-negative"}
	}
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"RetryBaseDelay", c.RetryBaseDelay},
		{"RetryMaxDelay", c.RetryMaxDelay},
		{"AdapterTimeout", c.AdapterTimeout},
		{"SessionTimeout", c.SessionTimeout},
		{"InitialLookback", c.InitialLookback},
	} {
		if d.value < 0 {
			return &ValidationError{Field: d.field, Message: "must be non-negative"}
		}
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return &ValidationError{Field: "Schedule", Message: err.Error()}
		}
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		field := fmt.Sprintf("Sources[%d]", i)
		if s.ID == "" {
			return &ValidationError{Field: field + ".ID", Message: "required"}
		}
		if seen[s.ID] {
			return &ValidationError{Field: field + ".ID", Message: fmt.Sprintf("duplicate source %q", s.ID)}
		}
		seen[s.ID] = true
		if len(s.Categories) == 0 {
			return &ValidationError{Field: field + ".Categories", Message: "at least one category required"}
		}
		for _, cat := range s.Categories {
			if !cat.IsValid() {
				return &ValidationError{Field: field + ".Categories", Message: fmt.Sprintf("unknown category %q", cat)}
			}
		}
		if s.Kind != "" && !s.Kind.IsValid() {
			return &ValidationError{Field: field + ".Kind", Message: fmt.Sprintf("unknown kind %q", s.Kind)}
		}
	}

	return nil
}

// WithDefaults fills in default values for unset fields.
// Profile resolution: explicit Profile field > HEALTHSYNC_PROFILE env > "default"
// LocalPath is derived from the resolved Profile if not explicitly set.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Profile == "" {
		resolved, err := profile.Resolve("")
		if err == nil {
			c.Profile = resolved
		} else {
			c.Profile = profile.DefaultProfile
		}
	}

	if c.LocalPath == "" {
		c.LocalPath = profile.DBPath(c.Profile)
	}

	if c.DefaultTolerance == 0 {
		c.DefaultTolerance = defaults.DefaultTolerance
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = defaults.DefaultStrategy
	}
	if c.Agreement == "" {
		c.Agreement = defaults.Agreement
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = defaults.MaxRetryAttempts
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = defaults.MaxConcurrency
	}
	if c.AdapterTimeout == 0 {
		c.AdapterTimeout = defaults.AdapterTimeout
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = defaults.SessionTimeout
	}
	if c.InitialLookback == 0 {
		c.InitialLookback = defaults.InitialLookback
	}

	return c
}

// orchestratorConfig projects the client configuration onto the orchestrator.
func (c Config) orchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrency:     c.MaxConcurrency,
		MaxRetryAttempts:   c.MaxRetryAttempts,
		RetryBaseDelay:     c.RetryBaseDelay,
		RetryMaxDelay:      c.RetryMaxDelay,
		AdapterTimeout:     c.AdapterTimeout,
		SessionTimeout:     c.SessionTimeout,
		InitialLookback:    c.InitialLookback,
		DefaultStrategy:    c.DefaultStrategy,
		CategoryStrategies: c.CategoryStrategies,
		AutoResolveMinor:   c.AutoResolveMinor,
		LockKey:            "healthsync:sync:" + c.Profile,
	}
}
