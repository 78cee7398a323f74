package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/shellmind/errors"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Supported LLM providers. Groq and OpenRouter are the primary routes; the
// others reuse the same gateway through their native SDKs.
const (
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderBedrock    = "bedrock"
	ProviderGemini     = "gemini"
	ProviderMock       = "mock"
)

var defaultModels = map[string]string{
	ProviderGroq:       "moonshotai/kimi-k2-instruct-0905",
	ProviderOpenRouter: "minimax/minimax-m2.1",
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderAnthropic:  "claude-3-5-haiku-latest",
	ProviderBedrock:    "anthropic.claude-3-5-haiku-20241022-v1:0",
	ProviderGemini:     "gemini-1.5-flash",
	ProviderMock:       "mock",
}

type LLMConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	Model          string        `mapstructure:"model" yaml:"model"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

// Credentials are only ever sourced from the environment.
type Credentials struct {
	Groq       string `mapstructure:"groq" yaml:"-"`
	OpenRouter string `mapstructure:"openrouter" yaml:"-"`
	OpenAI     string `mapstructure:"openai" yaml:"-"`
	Anthropic  string `mapstructure:"anthropic" yaml:"-"`
	Gemini     string `mapstructure:"gemini" yaml:"-"`
	Tavily     string `mapstructure:"tavily" yaml:"-"`
}

type AgentConfig struct {
	MaxSteps        int  `mapstructure:"max_steps" yaml:"max_steps"`
	WindowSize      int  `mapstructure:"window_size" yaml:"window_size"`
	ToolConcurrency int  `mapstructure:"tool_concurrency" yaml:"tool_concurrency"`
	AutoExecute     bool `mapstructure:"auto_execute" yaml:"auto_execute"`
	// ToolTimeout bounds a single tool invocation.
	ToolTimeout time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
}

type ShellConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

type SearchConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	MaxResults    int           `mapstructure:"max_results" yaml:"max_results"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SafetyConfig struct {
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file"`
}

type MCPServer struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
}

// Config is loaded once at startup and handed to constructors; nothing below
// cmd/ reads the environment directly.
type Config struct {
	LLM         LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Credentials Credentials  `mapstructure:"credentials" yaml:"-"`
	Agent       AgentConfig  `mapstructure:"agent" yaml:"agent"`
	Shell       ShellConfig  `mapstructure:"shell" yaml:"shell"`
	Search      SearchConfig `mapstructure:"search" yaml:"search"`
	Safety      SafetyConfig `mapstructure:"safety" yaml:"safety"`
	MCPServers  []MCPServer  `mapstructure:"mcp_servers" yaml:"mcp_servers"`
	Log         LogConfig    `mapstructure:"log" yaml:"log"`
}

// LoadOptions controls where Load looks for configuration. Zero values fall
// back to the user's home directory and the current working directory.
type LoadOptions struct {
	// ConfigFile, when set, replaces the layered user/project lookup.
	ConfigFile string
	HomeDir    string
	WorkDir    string
}

// envBindings maps config keys to the conventional provider variables, in
// addition to the SHELLMIND_ prefixed form.
var envBindings = map[string][]string{
	"llm.provider":           {"SHELLMIND_LLM_PROVIDER", "LLM_PROVIDER"},
	"llm.model":              {"SHELLMIND_LLM_MODEL", "LLM_MODEL"},
	"llm.base_url":           {"SHELLMIND_LLM_BASE_URL", "OPENAI_BASE_URL"},
	"credentials.groq":       {"GROQ_API_KEY"},
	"credentials.openrouter": {"OPENROUTER_API_KEY"},
	"credentials.openai":     {"OPENAI_API_KEY"},
	"credentials.anthropic":  {"ANTHROPIC_API_KEY"},
	"credentials.gemini":     {"GEMINI_API_KEY"},
	"credentials.tavily":     {"TAVILY_API_KEY"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", ProviderGroq)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.backoff_initial", 500*time.Millisecond)
	v.SetDefault("llm.backoff_max", 8*time.Second)
	v.SetDefault("agent.max_steps", 30)
	v.SetDefault("agent.window_size", 20)
	v.SetDefault("agent.tool_concurrency", 4)
	v.SetDefault("agent.auto_execute", false)
	v.SetDefault("agent.tool_timeout", 60*time.Second)
	v.SetDefault("shell.timeout", 30*time.Second)
	v.SetDefault("shell.max_output_bytes", 10*1024)
	v.SetDefault("search.endpoint", "https://api.tavily.com/search")
	v.SetDefault("search.max_results", 3)
	v.SetDefault("search.rate_per_second", 1.0)
	v.SetDefault("search.timeout", 20*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "~/.shellmind/logs/shellmind.log")
	v.SetDefault("log.console", false)
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}

// Load reads configuration from the user's home directory and the current
// working directory, with the latter taking precedence, then applies the
// environment on top.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHELLMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, errors.Wrapf(err, "binding %s", key)
		}
	}

	if opts.ConfigFile != "" {
		path, err := ExpandPath(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", path)
		}
	} else {
		for _, dir := range searchDirs(opts) {
			path := filepath.Join(dir, ".shellmind", "config.yaml")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, errors.Wrapf(err, "error loading config %s", path)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode configuration")
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)
	}
	if cfg.Safety.RulesFile != "" {
		path, err := ExpandPath(cfg.Safety.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Safety.RulesFile = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func searchDirs(opts LoadOptions) []string {
	var dirs []string
	home := opts.HomeDir
	if home == "" {
		if h, err := homedir.Dir(); err == nil {
			home = h
		}
	}
	if home != "" {
		dirs = append(dirs, home)
	}
	wd := opts.WorkDir
	if wd == "" {
		if w, err := os.Getwd(); err == nil {
			wd = w
		}
	}
	if wd != "" && wd != home {
		dirs = append(dirs, wd)
	}
	return dirs
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, ok := defaultModels[c.LLM.Provider]; !ok {
		return errors.New("unknown llm provider %q (expected groq, openrouter, openai, anthropic, bedrock, gemini or mock)", c.LLM.Provider)
	}
	if c.Agent.MaxSteps <= 0 {
		return errors.New("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.WindowSize <= 0 {
		return errors.New("agent.window_size must be positive, got %d", c.Agent.WindowSize)
	}
	if c.LLM.MaxAttempts <= 0 {
		return errors.New("llm.max_attempts must be positive, got %d", c.LLM.MaxAttempts)
	}
	if c.Agent.ToolTimeout < 0 {
		return errors.New("agent.tool_timeout must not be negative, got %s", c.Agent.ToolTimeout)
	}
	if c.Agent.ToolConcurrency <= 0 {
		c.Agent.ToolConcurrency = 1
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 3
	}
	return nil
}

// APIKey returns the credential for the configured provider. Bedrock uses
// the AWS default credential chain and has no key here.
func (c *Config) APIKey() string {
	switch c.LLM.Provider {
	case ProviderGroq:
		return c.Credentials.Groq
	case ProviderOpenRouter:
		return c.Credentials.OpenRouter
	case ProviderOpenAI:
		return c.Credentials.OpenAI
	case ProviderAnthropic:
		return c.Credentials.Anthropic
	case ProviderGemini:
		return c.Credentials.Gemini
	}
	return ""
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not expand path %q", path)
	}
	return p, nil
}

// LoadDotEnv reads KEY=VALUE pairs from path and exports those that are not
// already set in the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "could not read %s", path)
	}
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return errors.Wrapf(err, "could not export %s", name)
		}
	}
	return nil
}
