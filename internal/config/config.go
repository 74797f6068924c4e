package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the root configuration for the repair pipeline and its drivers.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Sandbox      SandboxConfig      `mapstructure:"sandbox" yaml:"sandbox"`
	Injector     InjectorConfig     `mapstructure:"injector" yaml:"injector"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Driver       DriverConfig       `mapstructure:"driver" yaml:"driver"`
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

// BrowserConfig holds settings for the headless browser behind the sandbox.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	NoSandbox      bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecPath       string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// SandboxConfig tunes how interactive elements are exercised and judged.
type SandboxConfig struct {
	Settle               time.Duration    `mapstructure:"settle" yaml:"settle"`
	LoadTimeout          time.Duration    `mapstructure:"load_timeout" yaml:"load_timeout"`
	MaxElements          int              `mapstructure:"max_elements" yaml:"max_elements"`
	ResetBetweenElements bool             `mapstructure:"reset_between_elements" yaml:"reset_between_elements"`
	BlockNetwork         bool             `mapstructure:"block_network" yaml:"block_network"`
	TightPadding         int              `mapstructure:"tight_padding" yaml:"tight_padding"`
	LocalPadding         int              `mapstructure:"local_padding" yaml:"local_padding"`
	PixelTolerance       int              `mapstructure:"pixel_tolerance" yaml:"pixel_tolerance"`
	PassThreshold        float64          `mapstructure:"pass_threshold" yaml:"pass_threshold"`
	Thresholds           ThresholdsConfig `mapstructure:"thresholds" yaml:"thresholds"`
}

// ThresholdsConfig holds the diff-ratio cutoffs used to classify elements.
type ThresholdsConfig struct {
	NavigationGlobal float64 `mapstructure:"navigation_global" yaml:"navigation_global"`
	ResponsiveTight  float64 `mapstructure:"responsive_tight" yaml:"responsive_tight"`
	CascadeLocal     float64 `mapstructure:"cascade_local" yaml:"cascade_local"`
	CascadeGlobal    float64 `mapstructure:"cascade_global" yaml:"cascade_global"`
	NoiseFloor       float64 `mapstructure:"noise_floor" yaml:"noise_floor"`
}

// InjectorConfig controls patch injection.
type InjectorConfig struct {
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// OrchestratorConfig drives the repair state machine.
type OrchestratorConfig struct {
	MaxLLMAttempts             int     `mapstructure:"max_llm_attempts" yaml:"max_llm_attempts"`
	GlobalTimeoutSeconds       float64 `mapstructure:"global_timeout_seconds" yaml:"global_timeout_seconds"`
	ValidateAfterDeterministic bool    `mapstructure:"validate_after_deterministic" yaml:"validate_after_deterministic"`
	ValidateAfterLLM           bool    `mapstructure:"validate_after_llm" yaml:"validate_after_llm"`
	PassThreshold              float64 `mapstructure:"pass_threshold" yaml:"pass_threshold"`
	JSErrorPenalty             float64 `mapstructure:"js_error_penalty" yaml:"js_error_penalty"`
}

// LLMProvider is a supported generative backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the generative fallback and model routing.
type LLMConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	APIKey               string                    `mapstructure:"api_key" yaml:"api_key"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxDocumentBytes     int                       `mapstructure:"max_document_bytes" yaml:"max_document_bytes"`
	AttachScreenshots    bool                      `mapstructure:"attach_screenshots" yaml:"attach_screenshots"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// CacheConfig configures the Redis-backed validation cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Address  string        `mapstructure:"address" yaml:"address"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address      string        `mapstructure:"address" yaml:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// DriverConfig configures the fixture driver.
type DriverConfig struct {
	FixturesDir string `mapstructure:"fixtures_dir" yaml:"fixtures_dir"`
	OutputDir   string `mapstructure:"output_dir" yaml:"output_dir"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
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
	v.SetDefault("logger.service_name", "mender")
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
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.concurrency", 2)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Sandbox --
	v.SetDefault("sandbox.settle", "300ms")
	v.SetDefault("sandbox.load_timeout", "10s")
	v.SetDefault("sandbox.max_elements", 40)
	v.SetDefault("sandbox.reset_between_elements", true)
	v.SetDefault("sandbox.block_network", true)
	v.SetDefault("sandbox.tight_padding", 8)
	v.SetDefault("sandbox.local_padding", 48)
	v.SetDefault("sandbox.pixel_tolerance", 24)
	v.SetDefault("sandbox.pass_threshold", 0.9)
	v.SetDefault("sandbox.thresholds.navigation_global", 0.60)
	v.SetDefault("sandbox.thresholds.responsive_tight", 0.05)
	v.SetDefault("sandbox.thresholds.cascade_local", 0.02)
	v.SetDefault("sandbox.thresholds.cascade_global", 0.01)
	v.SetDefault("sandbox.thresholds.noise_floor", 0.001)

	// -- Injector --
	v.SetDefault("injector.strict", true)

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_llm_attempts", 3)
	v.SetDefault("orchestrator.global_timeout_seconds", 120.0)
	v.SetDefault("orchestrator.validate_after_deterministic", true)
	v.SetDefault("orchestrator.validate_after_llm", true)
	v.SetDefault("orchestrator.pass_threshold", 0.9)
	v.SetDefault("orchestrator.js_error_penalty", 0.1)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_minute", 30.0)
	v.SetDefault("llm.max_document_bytes", 200_000)
	v.SetDefault("llm.attach_screenshots", true)

	// -- Cache --
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "1h")

	// -- Server --
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "180s")
	v.SetDefault("server.max_body_bytes", 2<<20)

	// -- Driver --
	v.SetDefault("driver.fixtures_dir", "./fixtures")
	v.SetDefault("driver.output_dir", "./out")
	v.SetDefault("driver.concurrency", 1)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "MENDER_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "MENDER_DATABASE_URL")
	_ = v.BindEnv("cache.password", "MENDER_CACHE_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Driver.FixturesDir, &c.Driver.OutputDir, &c.Browser.ExecPath} {
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
	if c.Browser.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox configuration invalid: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator configuration invalid: %w", err)
	}
	if c.Driver.Concurrency <= 0 {
		return fmt.Errorf("driver.concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the sandbox thresholds.
func (s *SandboxConfig) Validate() error {
	if s.Settle < 0 {
		return errors.New("settle must not be negative")
	}
	if s.MaxElements <= 0 {
		return errors.New("max_elements must be a positive integer")
	}
	if s.TightPadding < 0 || s.LocalPadding < 0 {
		return errors.New("paddings must not be negative")
	}
	if s.PixelTolerance < 0 || s.PixelTolerance > 255 {
		return errors.New("pixel_tolerance must be between 0 and 255")
	}
	if s.PassThreshold < 0 || s.PassThreshold > 1 {
		return errors.New("pass_threshold must be between 0.0 and 1.0")
	}
	return s.Thresholds.Validate()
}

// Validate checks that the cutoffs are ratios and ordered sensibly.
func (t *ThresholdsConfig) Validate() error {
	for name, v := range map[string]float64{
		"navigation_global": t.NavigationGlobal,
		"responsive_tight":  t.ResponsiveTight,
		"cascade_local":     t.CascadeLocal,
		"cascade_global":    t.CascadeGlobal,
		"noise_floor":       t.NoiseFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("thresholds.%s must be between 0.0 and 1.0", name)
		}
	}
	if t.NoiseFloor >= t.CascadeGlobal || t.NoiseFloor >= t.ResponsiveTight {
		return errors.New("thresholds.noise_floor must be below every other cutoff")
	}
	return nil
}

// Validate checks the orchestrator settings.
func (o *OrchestratorConfig) Validate() error {
	if o.MaxLLMAttempts < 0 {
		return errors.New("max_llm_attempts must not be negative")
	}
	if o.GlobalTimeoutSeconds <= 0 {
		return errors.New("global_timeout_seconds must be positive")
	}
	if o.PassThreshold < 0 || o.PassThreshold > 1 {
		return errors.New("pass_threshold must be between 0.0 and 1.0")
	}
	if o.JSErrorPenalty < 0 {
		return errors.New("js_error_penalty must not be negative")
	}
	return nil
}

// GlobalTimeout converts the configured budget to a duration.
func (o OrchestratorConfig) GlobalTimeout() time.Duration {
	return time.Duration(o.GlobalTimeoutSeconds * float64(time.Second))
}
