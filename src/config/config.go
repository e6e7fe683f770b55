// Package config resolves IntelliRouter client settings from explicit options,
// the environment, .env files and an optional JSON or YAML config file.
package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	ierrors "github.com/lspecian/intellirouter-go/src/errors"
	"github.com/lspecian/intellirouter-go/src/json"
)

const (
	EnvAPIKey     = "INTELLIROUTER_API_KEY"
	EnvBaseURL    = "INTELLIROUTER_BASE_URL"
	EnvTimeout    = "INTELLIROUTER_TIMEOUT"
	EnvMaxRetries = "INTELLIROUTER_MAX_RETRIES"
	EnvRateLimit  = "INTELLIROUTER_RATE_LIMIT"
	EnvConfigFile = "INTELLIROUTER_CONFIG_FILE"

	DefaultBaseURL    = "http://localhost:8000"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
)

var knownKeys = map[string]bool{
	"api_key":     true,
	"base_url":    true,
	"timeout":     true,
	"max_retries": true,
	"rate_limit":  true,
}

// Config holds resolved client settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit float64
	// Settings holds config file keys this package does not interpret.
	Settings map[string]any
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		Settings:   make(map[string]any),
	}
}

// Validate reports a *ConfigurationError when a required setting is missing.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &ierrors.ConfigurationError{
			Message: "API key is required. Provide it as an option, set the " + EnvAPIKey +
				" environment variable, or include it in your configuration file",
		}
	}
	return nil
}

// Get returns the raw value of an uninterpreted config file key.
func (c *Config) Get(key string) any { return c.Settings[key] }

// GetString returns key coerced to a string, or "" when absent.
func (c *Config) GetString(key string) string { return cast.ToString(c.Settings[key]) }

func (c *Config) GetInt(key string) int { return cast.ToInt(c.Settings[key]) }

func (c *Config) GetBool(key string) bool { return cast.ToBool(c.Settings[key]) }

// Set stores value under key, overriding the config file.
func (c *Config) Set(key string, value any) {
	if c.Settings == nil {
		c.Settings = make(map[string]any)
	}
	c.Settings[key] = value
}

type options struct {
	apiKey     *string
	baseURL    *string
	timeout    *time.Duration
	maxRetries *int
	rateLimit  *float64
	configFile string
	sources    []VariableSource
	logger     func(format string, args ...interface{})
}

// Option overrides one setting in Load, taking precedence over every source.
type Option func(*options)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option { return func(o *options) { o.apiKey = &key } }

// WithBaseURL sets the API root. A trailing slash is dropped.
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = &u } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = &d } }

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) Option { return func(o *options) { o.maxRetries = &n } }

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option { return func(o *options) { o.rateLimit = &perSecond } }

// WithConfigFile overrides INTELLIROUTER_CONFIG_FILE and the default path.
func WithConfigFile(path string) Option { return func(o *options) { o.configFile = path } }

// WithDotEnv consults a .env file after the process environment.
func WithDotEnv(path string) Option {
	return func(o *options) { o.sources = append(o.sources, NewDotEnv(path)) }
}

// WithSources replaces the variable sources, the process environment by default.
func WithSources(sources ...VariableSource) Option {
	return func(o *options) { o.sources = sources }
}

// WithLogger receives Load's diagnostics. A nil logger is ignored.
func WithLogger(logger func(format string, args ...interface{})) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// DefaultConfigPath is ~/.intellirouter/config.json, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".intellirouter", "config.json")
}

// Load resolves a Config. Precedence: options, variable sources, config
// file, defaults. An unreadable or malformed config file is logged and
// ignored. Load does not call Validate.
func Load(opts ...Option) (*Config, error) {
	o := &options{
		sources: []VariableSource{Environment{}},
		logger:  func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(o)
	}

	path := o.configFile
	if path == "" {
		v, err := o.lookup(EnvConfigFile)
		if err != nil {
			return nil, err
		}
		path = v
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	file := readConfigFile(path, o.logger)

	cfg := Default()
	for k, v := range file {
		if !knownKeys[k] {
			cfg.Settings[k] = v
		}
	}

	if o.apiKey != nil {
		cfg.APIKey = *o.apiKey
	} else if v, err := o.resolve(EnvAPIKey, file["api_key"]); err != nil {
		return nil, err
	} else if v != nil {
		cfg.APIKey = cast.ToString(v)
	}

	if o.baseURL != nil {
		cfg.BaseURL = *o.baseURL
	} else if v, err := o.resolve(EnvBaseURL, file["base_url"]); err != nil {
		return nil, err
	} else if s := cast.ToString(v); s != "" {
		cfg.BaseURL = s
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if o.timeout != nil {
		cfg.Timeout = *o.timeout
	} else if v, err := o.resolve(EnvTimeout, file["timeout"]); err != nil {
		return nil, err
	} else if v != nil {
		d, err := parseSeconds(v)
		if err != nil {
			return nil, &ierrors.ConfigurationError{Message: "invalid timeout", Cause: err}
		}
		cfg.Timeout = d
	}

	if o.maxRetries != nil {
		cfg.MaxRetries = *o.maxRetries
	} else if v, err := o.resolve(EnvMaxRetries, file["max_retries"]); err != nil {
		return nil, err
	} else if v != nil {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return nil, &ierrors.ConfigurationError{Message: "invalid max_retries", Cause: err}
		}
		cfg.MaxRetries = n
	}

	if o.rateLimit != nil {
		cfg.RateLimit = *o.rateLimit
	} else if v, err := o.resolve(EnvRateLimit, file["rate_limit"]); err != nil {
		return nil, err
	} else if v != nil {
		f, err := cast.ToFloat64E(v)
		if err != nil || f < 0 {
			return nil, &ierrors.ConfigurationError{Message: "invalid rate_limit", Cause: err}
		}
		cfg.RateLimit = f
	}

	return cfg, nil
}

// resolve returns the first value found in the variable sources, then the
// config file value, or nil.
func (o *options) resolve(key string, fileValue any) (any, error) {
	v, err := o.lookup(key)
	if err != nil {
		return nil, err
	}
	if v != "" {
		return v, nil
	}
	return fileValue, nil
}

func (o *options) lookup(key string) (string, error) {
	for _, src := range o.sources {
		v, err := src.Get(key)
		if err == nil {
			return v, nil
		}
		var nf *VariableNotFound
		if !stderrors.As(err, &nf) {
			return "", &ierrors.ConfigurationError{Message: "cannot read variable " + key, Cause: err}
		}
	}
	return "", nil
}

func readConfigFile(path string, logger func(format string, args ...interface{})) map[string]any {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			logger("error loading config file %s: %v", path, err)
		}
		return nil
	}

	out := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		out, err = json.DecodeObject(data)
	}
	if err != nil {
		logger("error loading config file %s: %v", path, err)
		return nil
	}
	return out
}

// parseSeconds accepts a number of seconds ("60", 60, 1.5) or a Go duration
// string ("90s").
func parseSeconds(v any) (time.Duration, error) {
	if f, err := cast.ToFloat64E(v); err == nil {
		if f < 0 {
			return 0, stderrors.New("negative duration")
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	return cast.ToDurationE(v)
}
