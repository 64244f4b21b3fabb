// Package config handles configuration loading and management for swarm.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Config holds all configuration for swarm.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Control   ControlConfig   `mapstructure:"control"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds settings for the API-backed provider.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	// UseBedrock routes requests through AWS Bedrock instead of the Anthropic API.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// QueueConfig holds admission control settings.
type QueueConfig struct {
	// MaxConcurrentRuns caps the number of running runs.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
	// Retention is how long finished runs and idempotency keys are remembered.
	Retention time.Duration `mapstructure:"retention"`
	// MaxTracked bounds the number of finished runs kept in memory.
	MaxTracked int `mapstructure:"max_tracked"`
}

// PipelineConfig holds stage execution settings.
type PipelineConfig struct {
	// ConfidenceThreshold is the default rerun threshold (0-100).
	ConfidenceThreshold int `mapstructure:"confidence_threshold"`
	// MaxReruns bounds low-confidence reruns per stage.
	MaxReruns int `mapstructure:"max_reruns"`
	// InstanceTimeout is the wall-clock limit for one agent instance.
	InstanceTimeout time.Duration `mapstructure:"instance_timeout"`
	// ProjectAgents is the project-mode fan-out per stage.
	ProjectAgents map[string]int `mapstructure:"project_agents"`
	// WorkDir is the directory agent subprocesses run in.
	WorkDir string `mapstructure:"work_dir"`
}

// AgentCount returns the number of parallel instances for a stage in the given mode.
func (p PipelineConfig) AgentCount(mode models.Mode, stage models.Stage) int {
	if mode != models.ModeProject || stage == models.StageSynthesize {
		return 1
	}
	if n, ok := p.ProjectAgents[string(stage)]; ok && n > 0 {
		return n
	}
	return 3
}

// BreakerConfig holds per-provider circuit breaker settings.
type BreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// ProvidersConfig holds provider routing settings.
type ProvidersConfig struct {
	// Order is the default fallback chain.
	Order []string `mapstructure:"order"`
	// CatalogPath points to a YAML file of CLI provider definitions.
	CatalogPath string `mapstructure:"catalog_path"`
	// Account holds account-level routing preferences.
	Account AccountConfig `mapstructure:"account"`
}

// AccountConfig holds account-level provider settings.
type AccountConfig struct {
	// Preferred is tried after the caller preference and before the default order.
	Preferred string `mapstructure:"preferred"`
	// Allowed restricts routing to these providers when non-empty.
	Allowed []string `mapstructure:"allowed"`
}

// ConsensusConfig holds confidence scoring settings.
type ConsensusConfig struct {
	// Semantic enables the embedding similarity blend.
	Semantic bool `mapstructure:"semantic"`
	// SemanticWeight is the share of the embedding score in [0,1].
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	// EmbeddingBackend is "ollama" or "openai".
	EmbeddingBackend string `mapstructure:"embedding_backend"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
	EmbeddingURL     string `mapstructure:"embedding_url"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	// FactCheck enables the placeholder penalty pass.
	FactCheck bool `mapstructure:"fact_check"`
}

// ServerConfig holds HTTP and push channel settings.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// StoreConfig selects the run history backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig holds the file-signal control settings.
type ControlConfig struct {
	SignalsDir string `mapstructure:"signals_dir"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SWARM_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.swarm.yaml in current directory or parent)
// 3. User config (~/.config/swarm/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("consensus.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("store.dsn", "SWARM_STORE_DSN", "DATABASE_URL")
	v.BindEnv("telemetry.endpoint", "SWARM_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Consensus.OpenAIAPIKey = expandEnv(cfg.Consensus.OpenAIAPIKey)
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the core logic relies on.
func (c *Config) Validate() error {
	if c.Queue.MaxConcurrentRuns < 1 {
		return fmt.Errorf("queue.max_concurrent_runs must be at least 1, got %d", c.Queue.MaxConcurrentRuns)
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 100 {
		return fmt.Errorf("pipeline.confidence_threshold must be in [0,100], got %d", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.MaxReruns < 0 {
		return fmt.Errorf("pipeline.max_reruns must not be negative, got %d", c.Pipeline.MaxReruns)
	}
	if c.Pipeline.InstanceTimeout <= 0 {
		return fmt.Errorf("pipeline.instance_timeout must be positive")
	}
	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker.threshold must be at least 1, got %d", c.Breaker.Threshold)
	}
	if c.Consensus.SemanticWeight < 0 || c.Consensus.SemanticWeight > 1 {
		return fmt.Errorf("consensus.semantic_weight must be in [0,1], got %v", c.Consensus.SemanticWeight)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveToPath(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveToPath writes the configuration to path.
func SaveToPath(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("queue.max_concurrent_runs", cfg.Queue.MaxConcurrentRuns)
	v.Set("queue.retention", cfg.Queue.Retention.String())
	v.Set("queue.max_tracked", cfg.Queue.MaxTracked)
	v.Set("pipeline.confidence_threshold", cfg.Pipeline.ConfidenceThreshold)
	v.Set("pipeline.max_reruns", cfg.Pipeline.MaxReruns)
	v.Set("pipeline.instance_timeout", cfg.Pipeline.InstanceTimeout.String())
	v.Set("pipeline.project_agents", cfg.Pipeline.ProjectAgents)
	v.Set("pipeline.work_dir", cfg.Pipeline.WorkDir)
	v.Set("breaker.threshold", cfg.Breaker.Threshold)
	v.Set("breaker.reset_timeout", cfg.Breaker.ResetTimeout.String())
	v.Set("providers.order", cfg.Providers.Order)
	v.Set("providers.catalog_path", cfg.Providers.CatalogPath)
	v.Set("providers.account.preferred", cfg.Providers.Account.Preferred)
	v.Set("providers.account.allowed", cfg.Providers.Account.Allowed)
	v.Set("consensus.semantic", cfg.Consensus.Semantic)
	v.Set("consensus.semantic_weight", cfg.Consensus.SemanticWeight)
	v.Set("consensus.embedding_backend", cfg.Consensus.EmbeddingBackend)
	v.Set("consensus.embedding_model", cfg.Consensus.EmbeddingModel)
	v.Set("consensus.embedding_url", cfg.Consensus.EmbeddingURL)
	v.Set("consensus.fact_check", cfg.Consensus.FactCheck)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.Set("server.ping_interval", cfg.Server.PingInterval.String())
	v.Set("store.driver", cfg.Store.Driver)
	v.Set("store.path", cfg.Store.Path)
	v.Set("store.dsn", cfg.Store.DSN)
	v.Set("telemetry.endpoint", cfg.Telemetry.Endpoint)
	v.Set("telemetry.insecure", cfg.Telemetry.Insecure)
	v.Set("telemetry.service_name", cfg.Telemetry.ServiceName)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("control.signals_dir", cfg.Control.SignalsDir)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DataDir returns the directory for the default database and signal files.
func DataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "swarm")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".swarm")
	}
	return filepath.Join(home, ".local", "share", "swarm")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("queue.max_concurrent_runs", d.Queue.MaxConcurrentRuns)
	v.SetDefault("queue.retention", "1h")
	v.SetDefault("queue.max_tracked", d.Queue.MaxTracked)

	v.SetDefault("pipeline.confidence_threshold", d.Pipeline.ConfidenceThreshold)
	v.SetDefault("pipeline.max_reruns", d.Pipeline.MaxReruns)
	v.SetDefault("pipeline.instance_timeout", "10m")
	v.SetDefault("pipeline.project_agents", d.Pipeline.ProjectAgents)
	v.SetDefault("pipeline.work_dir", "")

	v.SetDefault("breaker.threshold", d.Breaker.Threshold)
	v.SetDefault("breaker.reset_timeout", "30s")

	v.SetDefault("providers.order", d.Providers.Order)
	v.SetDefault("providers.catalog_path", "")
	v.SetDefault("providers.account.preferred", "")
	v.SetDefault("providers.account.allowed", []string{})

	v.SetDefault("consensus.semantic", false)
	v.SetDefault("consensus.semantic_weight", d.Consensus.SemanticWeight)
	v.SetDefault("consensus.embedding_backend", d.Consensus.EmbeddingBackend)
	v.SetDefault("consensus.embedding_model", d.Consensus.EmbeddingModel)
	v.SetDefault("consensus.embedding_url", d.Consensus.EmbeddingURL)
	v.SetDefault("consensus.openai_api_key", "")
	v.SetDefault("consensus.fact_check", true)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.ping_interval", "30s")

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", "")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("control.signals_dir", d.Control.SignalsDir)

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for swarm.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "swarm")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "swarm")
	}
	return filepath.Join(home, ".config", "swarm")
}

// findProjectConfig searches for .swarm.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".swarm.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			AWSRegion: "us-east-1",
		},
		Queue: QueueConfig{
			MaxConcurrentRuns: 4,
			Retention:         time.Hour,
			MaxTracked:        1000,
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 80,
			MaxReruns:           2,
			InstanceTimeout:     10 * time.Minute,
			ProjectAgents: map[string]int{
				"research": 3,
				"plan":     3,
				"code":     3,
				"validate": 2,
				"security": 2,
			},
		},
		Breaker: BreakerConfig{
			Threshold:    5,
			ResetTimeout: 30 * time.Second,
		},
		Providers: ProvidersConfig{
			Order: []string{"claude", "anthropic"},
		},
		Consensus: ConsensusConfig{
			SemanticWeight:   0.5,
			EmbeddingBackend: "ollama",
			EmbeddingModel:   "nomic-embed-text",
			EmbeddingURL:     "http://localhost:11434/api",
			FactCheck:        true,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			PingInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "swarm.db"),
		},
		Telemetry: TelemetryConfig{
			ServiceName: "swarm",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Control: ControlConfig{
			SignalsDir: filepath.Join(dataDir, "signals"),
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
