// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override, with dots
// in keys replaced by underscores (DESKPILOT_AGENT_MAX_ITERATIONS).
const EnvPrefix = "DESKPILOT"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Screen() ScreenConfig
	Actuator() ActuatorConfig
	Locator() LocatorConfig
	Journal() JournalConfig
	Database() DatabaseConfig

	// Agent Setters
	SetAgentMaxIterations(int)
	SetAgentMaxStepAttempts(int)
	SetAgentDelayBetweenSteps(time.Duration)

	// Actuator Setters
	SetActuatorBackend(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	ScreenCfg   ScreenConfig   `mapstructure:"screen" yaml:"screen"`
	ActuatorCfg ActuatorConfig `mapstructure:"actuator" yaml:"actuator"`
	LocatorCfg  LocatorConfig  `mapstructure:"locator" yaml:"locator"`
	JournalCfg  JournalConfig  `mapstructure:"journal" yaml:"journal"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Screen() ScreenConfig     { return c.ScreenCfg }
func (c *Config) Actuator() ActuatorConfig { return c.ActuatorCfg }
func (c *Config) Locator() LocatorConfig   { return c.LocatorCfg }
func (c *Config) Journal() JournalConfig   { return c.JournalCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// -- Agent Setters --
func (c *Config) SetAgentMaxIterations(n int)   { c.AgentCfg.MaxIterations = n }
func (c *Config) SetAgentMaxStepAttempts(n int) { c.AgentCfg.MaxStepAttempts = n }
func (c *Config) SetAgentDelayBetweenSteps(d time.Duration) {
	c.AgentCfg.DelayBetweenSteps = d
}

// -- Actuator Setters --
func (c *Config) SetActuatorBackend(b string) { c.ActuatorCfg.Backend = b }
func (c *Config) SetBrowserHeadless(b bool)   { c.ActuatorCfg.Browser.Headless = b }

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

// AgentConfig holds the budgets and pacing of the control loops, plus the
// model routing.
type AgentConfig struct {
	MaxIterations     int             `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxStepAttempts   int             `mapstructure:"max_step_attempts" yaml:"max_step_attempts"`
	DelayBetweenSteps time.Duration   `mapstructure:"delay_between_steps" yaml:"delay_between_steps"`
	KeystrokePause    time.Duration   `mapstructure:"keystroke_pause" yaml:"keystroke_pause"`
	TypeRateLimit     RateLimitConfig `mapstructure:"type_rate_limit" yaml:"type_rate_limit"`
	LLM               LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// RateLimitConfig bounds how many operations may run within Window.
type RateLimitConfig struct {
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic. Models are keyed by an
// alias; the model name sent to the provider is LLMModelConfig.Model. APIKey
// is used by any model that does not set its own.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	APIKey               string                    `mapstructure:"api_key" yaml:"api_key"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
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

// ScreenConfig controls screenshot artifacts and the images sent to the model.
type ScreenConfig struct {
	DataDir           string `mapstructure:"data_dir" yaml:"data_dir"`
	MaxImageDimension int    `mapstructure:"max_image_dimension" yaml:"max_image_dimension"`
	JPEGQuality       int    `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	CleanOnStart      bool   `mapstructure:"clean_on_start" yaml:"clean_on_start"`
}

// ActuatorConfig selects and configures the input backend.
type ActuatorConfig struct {
	// Backend is "desktop" (native input) or "browser" (a Chrome page).
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

// BrowserConfig holds settings for the browser backend.
type BrowserConfig struct {
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	StartURL       string   `mapstructure:"start_url" yaml:"start_url"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	ExecPath       string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args           []string `mapstructure:"args" yaml:"args"`
}

// LocatorConfig tunes element grounding.
type LocatorConfig struct {
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	Annotate      bool          `mapstructure:"annotate" yaml:"annotate"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// JournalConfig selects where run history is persisted.
type JournalConfig struct {
	// Driver is "bolt", "postgres" or "none".
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
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
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Agent --
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.max_step_attempts", 10)
	v.SetDefault("agent.delay_between_steps", "2s")
	v.SetDefault("agent.keystroke_pause", "100ms")
	v.SetDefault("agent.type_rate_limit.capacity", 15)
	v.SetDefault("agent.type_rate_limit.window", "60s")

	// -- Agent LLM --
	v.SetDefault("agent.llm.default_fast_model", "flash")
	v.SetDefault("agent.llm.default_powerful_model", "thinking")
	v.SetDefault("agent.llm.requests_per_minute", 30)
	v.SetDefault("agent.llm.models", map[string]any{
		"flash": map[string]any{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.0-flash",
			"api_timeout": "60s",
			"temperature": 0.1,
			"max_tokens":  1024,
		},
		"thinking": map[string]any{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.0-flash-thinking-exp-01-21",
			"api_timeout": "120s",
			"temperature": 0.2,
			"max_tokens":  8192,
		},
	})

	// -- Screen --
	v.SetDefault("screen.data_dir", "data")
	v.SetDefault("screen.max_image_dimension", 1280)
	v.SetDefault("screen.jpeg_quality", 75)
	v.SetDefault("screen.clean_on_start", true)

	// -- Actuator --
	v.SetDefault("actuator.backend", "desktop")
	v.SetDefault("actuator.browser.headless", false)
	v.SetDefault("actuator.browser.start_url", "about:blank")
	v.SetDefault("actuator.browser.viewport_width", 1280)
	v.SetDefault("actuator.browser.viewport_height", 800)

	// -- Locator --
	v.SetDefault("locator.min_confidence", 0.5)
	v.SetDefault("locator.annotate", true)
	v.SetDefault("locator.timeout", "90s")

	// -- Journal --
	v.SetDefault("journal.driver", "bolt")
	v.SetDefault("journal.path", "data/history.db")
	v.SetDefault("database.url", "")
}

// BindEnvironment wires the DESKPILOT_ prefix and the well-known secrets.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind environment variables for sensitive data
	v.BindEnv("agent.llm.api_key", EnvPrefix+"_AGENT_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindEnvironment(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	cfg.AgentCfg.LLM.applySharedKey()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.ScreenCfg.DataDir, &c.JournalCfg.Path, &c.LoggerCfg.LogFile} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// applySharedKey copies the router-level API key into models without one.
func (r *LLMRouterConfig) applySharedKey() {
	if r.APIKey == "" {
		return
	}
	for name, m := range r.Models {
		if m.APIKey == "" {
			m.APIKey = r.APIKey
			r.Models[name] = m
		}
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.ScreenCfg.MaxImageDimension <= 0 {
		return fmt.Errorf("screen.max_image_dimension must be a positive integer")
	}
	if c.ScreenCfg.JPEGQuality < 1 || c.ScreenCfg.JPEGQuality > 100 {
		return fmt.Errorf("screen.jpeg_quality must be between 1 and 100")
	}
	switch c.ActuatorCfg.Backend {
	case "desktop", "browser":
	default:
		return fmt.Errorf("actuator.backend must be one of desktop, browser; got %q", c.ActuatorCfg.Backend)
	}
	if c.LocatorCfg.MinConfidence < 0.0 || c.LocatorCfg.MinConfidence > 1.0 {
		return fmt.Errorf("locator.min_confidence must be between 0.0 and 1.0")
	}
	switch c.JournalCfg.Driver {
	case "none":
	case "bolt":
		if c.JournalCfg.Path == "" {
			return fmt.Errorf("journal.path is required for the bolt journal")
		}
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres journal")
		}
	default:
		return fmt.Errorf("journal.driver must be one of bolt, postgres, none; got %q", c.JournalCfg.Driver)
	}
	return nil
}

// Validate checks the loop budgets and pacing.
func (a *AgentConfig) Validate() error {
	if a.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if a.MaxStepAttempts < 1 {
		return fmt.Errorf("agent.max_step_attempts must be at least 1")
	}
	if a.DelayBetweenSteps < 0 || a.KeystrokePause < 0 {
		return fmt.Errorf("agent delays must not be negative")
	}
	if a.TypeRateLimit.Capacity < 1 || a.TypeRateLimit.Window <= 0 {
		return fmt.Errorf("agent.type_rate_limit requires a positive capacity and window")
	}
	if a.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("agent.llm.requests_per_minute must not be negative")
	}
	for _, name := range []string{a.LLM.DefaultFastModel, a.LLM.DefaultPowerfulModel} {
		if _, ok := a.LLM.Models[name]; !ok {
			return fmt.Errorf("agent.llm model %q is not configured under agent.llm.models", name)
		}
	}
	return nil
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.AgentCfg.LLM.APIKey = mask(out.AgentCfg.LLM.APIKey)
	out.AgentCfg.LLM.Models = make(map[string]LLMModelConfig, len(c.AgentCfg.LLM.Models))
	for name, m := range c.AgentCfg.LLM.Models {
		m.APIKey = mask(m.APIKey)
		out.AgentCfg.LLM.Models[name] = m
	}
	if out.DatabaseCfg.URL != "" {
		out.DatabaseCfg.URL = "********"
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
