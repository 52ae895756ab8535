// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	LLM() LLMConfig
	Assets() AssetsConfig
	Cache() CacheConfig
	Database() DatabaseConfig
	Server() ServerConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDebug(bool)

	// Engine Setters
	SetEngineMaxSteps(int)
	SetEngineMaxCorrectionAttempts(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	AssetsCfg   AssetsConfig   `mapstructure:"assets" yaml:"assets"`
	CacheCfg    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Assets() AssetsConfig     { return c.AssetsCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDebug(b bool)    { c.BrowserCfg.Debug = b }

func (c *Config) SetEngineMaxSteps(n int) { c.EngineCfg.MaxSteps = n }
func (c *Config) SetEngineMaxCorrectionAttempts(n int) {
	c.EngineCfg.MaxCorrectionAttempts = n
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driving live pages.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Proxy             string         `mapstructure:"proxy" yaml:"proxy"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Platform          string         `mapstructure:"platform" yaml:"platform"`
	Languages         []string       `mapstructure:"languages" yaml:"languages"`
	Timezone          string         `mapstructure:"timezone" yaml:"timezone"`
	Locale            string         `mapstructure:"locale" yaml:"locale"`
}

// TimingConfig holds the settle delays the engine observes between actions.
type TimingConfig struct {
	PreField         time.Duration `mapstructure:"pre_field" yaml:"pre_field"`
	AfterCheckbox    time.Duration `mapstructure:"after_checkbox" yaml:"after_checkbox"`
	AfterRadio       time.Duration `mapstructure:"after_radio" yaml:"after_radio"`
	DropdownOpen     time.Duration `mapstructure:"dropdown_open" yaml:"dropdown_open"`
	KeyInterval      time.Duration `mapstructure:"key_interval" yaml:"key_interval"`
	AfterDropdown    time.Duration `mapstructure:"after_dropdown" yaml:"after_dropdown"`
	AfterText        time.Duration `mapstructure:"after_text" yaml:"after_text"`
	BlurDelay        time.Duration `mapstructure:"blur_delay" yaml:"blur_delay"`
	AfterUpload      time.Duration `mapstructure:"after_upload" yaml:"after_upload"`
	PostFill         time.Duration `mapstructure:"post_fill" yaml:"post_fill"`
	NavigationSettle time.Duration `mapstructure:"navigation_settle" yaml:"navigation_settle"`
	CorrectionSettle time.Duration `mapstructure:"correction_settle" yaml:"correction_settle"`
	MutationSettle   time.Duration `mapstructure:"mutation_settle" yaml:"mutation_settle"`
}

// EngineConfig configures the form traversal loop.
type EngineConfig struct {
	MaxSteps              int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxFillRounds         int           `mapstructure:"max_fill_rounds" yaml:"max_fill_rounds"`
	MaxCorrectionAttempts int           `mapstructure:"max_correction_attempts" yaml:"max_correction_attempts"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	DialogSelectors       []string      `mapstructure:"dialog_selectors" yaml:"dialog_selectors"`
	ProceedVocabulary     []string      `mapstructure:"proceed_vocabulary" yaml:"proceed_vocabulary"`
	ProceedExclusions     []string      `mapstructure:"proceed_exclusions" yaml:"proceed_exclusions"`
	ErrorSelectors        []string      `mapstructure:"error_selectors" yaml:"error_selectors"`
	Timings               TimingConfig  `mapstructure:"timings" yaml:"timings"`
}

// LLMConfig configures the value generator.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst       int           `mapstructure:"burst" yaml:"burst"`
}

// ProviderGemini is the only supported generator backend.
const ProviderGemini = "gemini"

// AssetsConfig locates the files handed to upload controls.
type AssetsConfig struct {
	SampleDocument string `mapstructure:"sample_document" yaml:"sample_document"`
}

// CacheConfig configures the optional redis cache of generated values.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Address  string        `mapstructure:"address" yaml:"address"`
	Password string        `mapstructure:"password" yaml:"-"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
}

// MetricsConfig configures prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// NewDefaultConfig creates a new configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})

	// -- Engine --
	v.SetDefault("engine.max_steps", 25)
	v.SetDefault("engine.max_fill_rounds", 2)
	v.SetDefault("engine.max_correction_attempts", 2)
	v.SetDefault("engine.idle_timeout", "30s")
	v.SetDefault("engine.dialog_selectors", []string{
		`[role="dialog"]`, "mat-dialog-container", ".modal.show", "dialog[open]",
	})
	v.SetDefault("engine.proceed_vocabulary", []string{
		"Next", "Continue", "Proceed", "Submit", "Apply", "Finish", "Done",
		"Register", "Sign Up", "Go Next", "Move Forward", "Next Step",
		"Save and Continue", "Confirm", "Checkout", "Get Started",
	})
	v.SetDefault("engine.proceed_exclusions", []string{"month", "year"})
	v.SetDefault("engine.error_selectors", []string{
		"mat-error", ".error", ".invalid", ".text-danger", `[role="alert"]`,
		".validation-message", ".invalid-feedback",
	})
	v.SetDefault("engine.timings.pre_field", "100ms")
	v.SetDefault("engine.timings.after_checkbox", "200ms")
	v.SetDefault("engine.timings.after_radio", "100ms")
	v.SetDefault("engine.timings.dropdown_open", "600ms")
	v.SetDefault("engine.timings.key_interval", "100ms")
	v.SetDefault("engine.timings.after_dropdown", "300ms")
	v.SetDefault("engine.timings.after_text", "50ms")
	v.SetDefault("engine.timings.blur_delay", "50ms")
	v.SetDefault("engine.timings.after_upload", "1500ms")
	v.SetDefault("engine.timings.post_fill", "2s")
	v.SetDefault("engine.timings.navigation_settle", "3s")
	v.SetDefault("engine.timings.correction_settle", "1s")
	v.SetDefault("engine.timings.mutation_settle", "1500ms")

	// -- LLM --
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.rate_limit", 1.0)
	v.SetDefault("llm.burst", 2)

	// -- Assets --
	v.SetDefault("assets.sample_document", "")

	// -- Cache --
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.prefix", "formpilot:values:")

	// -- Server --
	v.SetDefault("server.addr", ":8087")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.run_timeout", "15m")
	v.SetDefault("server.max_concurrent_runs", 2)

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "formpilot")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "FORMPILOT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("cache.password", "FORMPILOT_CACHE_PASSWORD")
	_ = v.BindEnv("database.url", "FORMPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in file system settings.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.AssetsCfg.SampleDocument, &c.LoggerCfg.LogFile, &c.BrowserCfg.UserDataDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.CacheCfg.Enabled && c.CacheCfg.Address == "" {
		return fmt.Errorf("cache.address is required when the cache is enabled")
	}
	if c.ServerCfg.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be a positive integer")
	}
	return nil
}

// Validate checks the engine settings.
func (e *EngineConfig) Validate() error {
	if e.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if e.MaxFillRounds <= 0 {
		return fmt.Errorf("max_fill_rounds must be a positive integer")
	}
	if e.MaxCorrectionAttempts < 0 {
		return fmt.Errorf("max_correction_attempts cannot be negative")
	}
	if len(e.ProceedVocabulary) == 0 {
		return fmt.Errorf("proceed_vocabulary cannot be empty")
	}
	return nil
}

// Validate checks the LLM settings. A missing API key is allowed: the
// value source then serves local fallback values only.
func (l *LLMConfig) Validate() error {
	if l.Provider != ProviderGemini {
		return fmt.Errorf("unsupported provider '%s'. Supported: [%s]", l.Provider, ProviderGemini)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if l.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	return nil
}
