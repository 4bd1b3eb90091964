package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DataDir      string   `mapstructure:"data_dir"`
	WorkflowDirs []string `mapstructure:"workflow_dirs"`

	DB struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	LLM struct {
		APIKey  string        `mapstructure:"api_key"`
		BaseURL string        `mapstructure:"base_url"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`

	Executor struct {
		MaxRetries int `mapstructure:"max_retries"`
	} `mapstructure:"executor"`

	Server struct {
		Addr               string   `mapstructure:"addr"`
		RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
		CORSOrigins        []string `mapstructure:"cors_origins"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	// Tracing exports step, LLM call and HTTP request spans to the log.
	Tracing struct {
		Enabled     bool    `mapstructure:"enabled"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`

	// Actions are extra actions registered with the generic output shape.
	Actions []CustomAction `mapstructure:"actions"`
}

type CustomAction struct {
	Name     string `mapstructure:"name"`
	Template string `mapstructure:"template"`
}

// Load reads configuration from path, or from textflow.yaml in the working
// directory or data directory when path is empty, then applies TEXTFLOW_*
// environment overrides. GROQ_API_KEY supplies the default credential.
func Load(path string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("TEXTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "TEXTFLOW_LLM_API_KEY", "GROQ_API_KEY"); err != nil {
		return nil, err
	}
	setDefaults(v, filepath.Join(homeDir, ".textflow"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("textflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if c.DB.DSN == "" && c.DB.Driver == "sqlite" {
		c.DB.DSN = filepath.Join(c.DataDir, "textflow.db")
	}
	if len(c.WorkflowDirs) == 0 {
		c.WorkflowDirs = []string{".textflow/workflows", c.UserWorkflowDir()}
	}
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")

	return &c, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("workflow_dirs", []string{})
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("executor.max_retries", 1)
	v.SetDefault("server.addr", ":5001")
	v.SetDefault("server.rate_limit_per_minute", 5)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserWorkflowDir(), 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) UserWorkflowDir() string {
	return filepath.Join(c.DataDir, "workflows")
}
