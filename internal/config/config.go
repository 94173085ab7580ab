// Package config loads the page translator configuration from a config file,
// environment variables and command-line flags.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pdf-page-translator/internal/logger"
	"pdf-page-translator/internal/types"
)

const (
	// DefaultConfigName is the config file base name searched in . and ~/.config/pagetrans
	DefaultConfigName = "pagetrans"
	// EnvPrefix prefixes every environment override, e.g. PAGETRANS_WORK_DIR
	EnvPrefix = "PAGETRANS"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvOpenAIModel is the environment variable name for the model
	EnvOpenAIModel = "OPENAI_MODEL"

	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-3.5-turbo"
	DefaultSourceLanguage = "English"
	DefaultTargetLanguage = "Simplified Chinese"
	DefaultTimeout        = 120 * time.Second
	DefaultMaxRetries     = 2
	DefaultSourcePath     = "source.pdf"
	DefaultOutputPath     = "final_translated_document.pdf"
	DefaultWorkDir        = "pages"
	DefaultFontPath       = "font.ttf"
	// DefaultConcurrency keeps pages strictly sequential.
	DefaultConcurrency = 1
	DefaultLogFile     = "pagetrans.log"
	DefaultLogLevel    = "info"
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	v          *viper.Viper
	config     *types.Config
}

// NewConfigManager creates a ConfigManager. An empty configPath searches for
// pagetrans.{yaml,json,toml} in the working directory and ~/.config/pagetrans.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pagetrans"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// The conventional OpenAI variables are honoured alongside the prefixed ones.
	bindings := map[string][]string{
		"openai_api_key":  {EnvPrefix + "_OPENAI_API_KEY", EnvOpenAIAPIKey},
		"openai_base_url": {EnvPrefix + "_OPENAI_BASE_URL", EnvOpenAIBaseURL},
		"openai_model":    {EnvPrefix + "_OPENAI_MODEL", EnvOpenAIModel},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, types.NewAppError(types.ErrConfig, "failed to bind environment variable", err)
		}
	}

	setDefaults(v)

	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		v:          v,
		config:     defaultConfig(),
	}, nil
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig()
	v.SetDefault("openai_base_url", d.OpenAIBaseURL)
	v.SetDefault("openai_model", d.OpenAIModel)
	v.SetDefault("source_language", d.SourceLanguage)
	v.SetDefault("target_language", d.TargetLanguage)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("source_path", d.SourcePath)
	v.SetDefault("output_path", d.OutputPath)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("font_path", d.FontPath)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("truncate_overflow", d.TruncateOverflow)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_level", d.LogLevel)
	// registered so AutomaticEnv picks up PAGETRANS_OPENAI_API_KEY during Unmarshal
	v.SetDefault("openai_api_key", "")
}

// defaultConfig returns a Config with default values
func defaultConfig() *types.Config {
	return &types.Config{
		OpenAIBaseURL:  DefaultBaseURL,
		OpenAIModel:    DefaultModel,
		SourceLanguage: DefaultSourceLanguage,
		TargetLanguage: DefaultTargetLanguage,
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		SourcePath:     DefaultSourcePath,
		OutputPath:     DefaultOutputPath,
		WorkDir:        DefaultWorkDir,
		FontPath:       DefaultFontPath,
		Concurrency:    DefaultConcurrency,
		LogFile:        DefaultLogFile,
		LogLevel:       DefaultLogLevel,
	}
}

// BindFlags lets command-line flags override file and environment values.
// keys maps config keys (e.g. "work_dir") to flag names (e.g. "work-dir").
func (m *ConfigManager) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := m.v.BindPFlag(key, flag); err != nil {
			return types.NewAppErrorWithDetails(types.ErrConfig, "failed to bind flag", name, err)
		}
	}
	return nil
}

// Load reads the config file (a missing file is not an error), applies
// environment and flag overrides, and fills defaults for empty fields.
func (m *ConfigManager) Load() error {
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
			logger.Debug("config file not found, using defaults", logger.String("path", m.configPath))
		default:
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		m.configPath = m.v.ConfigFileUsed()
		logger.Info("configuration loaded", logger.String("path", m.configPath))
	}

	cfg := &types.Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to decode configuration", err)
	}
	applyDefaults(cfg)
	m.config = cfg

	logger.Debug("configuration resolved",
		logger.Int("apiKeyLength", len(cfg.OpenAIAPIKey)),
		logger.String("baseURL", cfg.OpenAIBaseURL),
		logger.String("model", cfg.OpenAIModel),
		logger.Int("concurrency", cfg.Concurrency))
	return nil
}

func applyDefaults(cfg *types.Config) {
	d := defaultConfig()
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = d.OpenAIBaseURL
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = d.OpenAIModel
	}
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = d.SourceLanguage
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = d.TargetLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}
	if cfg.SourcePath == "" {
		cfg.SourcePath = d.SourcePath
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = d.OutputPath
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = d.WorkDir
	}
	if cfg.FontPath == "" {
		cfg.FontPath = d.FontPath
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
}

// Save writes the current configuration to the config file. The format
// follows the file extension; the file is created with 0600 since it may
// hold the API key.
func (m *ConfigManager) Save() error {
	path := m.configPath
	if path == "" {
		path = DefaultConfigName + ".yaml"
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
		}
	}

	out := viper.New()
	c := m.GetConfig()
	for key, value := range map[string]interface{}{
		"openai_api_key":    c.OpenAIAPIKey,
		"openai_base_url":   c.OpenAIBaseURL,
		"openai_model":      c.OpenAIModel,
		"source_language":   c.SourceLanguage,
		"target_language":   c.TargetLanguage,
		"timeout":           c.Timeout.String(),
		"max_retries":       c.MaxRetries,
		"rate_limit":        c.RateLimit,
		"source_path":       c.SourcePath,
		"output_path":       c.OutputPath,
		"work_dir":          c.WorkDir,
		"font_path":         c.FontPath,
		"concurrency":       c.Concurrency,
		"truncate_overflow": c.TruncateOverflow,
		"log_file":          c.LogFile,
		"log_level":         c.LogLevel,
	} {
		out.Set(key, value)
	}

	if err := out.WriteConfigAs(path); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", path))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to restrict config file permissions", err)
	}

	m.configPath = path
	logger.Info("configuration saved", logger.String("path", path))
	return nil
}

// Validate checks the settings a translation run cannot proceed without.
func (m *ConfigManager) Validate() error {
	c := m.GetConfig()
	if c.OpenAIAPIKey == "" {
		return types.NewAppErrorWithDetails(types.ErrConfig, "OpenAI API key is not configured",
			"set "+EnvOpenAIAPIKey+" or openai_api_key in the config file", nil)
	}
	if c.SourcePath == "" {
		return types.NewAppError(types.ErrInvalidInput, "source path is empty", nil)
	}
	if c.Concurrency < 1 {
		return types.NewAppError(types.ErrInvalidInput, "concurrency must be at least 1", nil)
	}
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return defaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the config file in use, or the explicit path given.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

