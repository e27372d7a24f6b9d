// Package config holds all application configuration for the Alpha runtime.
// It is loaded from ~/.alpha/config.yaml and can be overridden by the
// environment variables documented on each binding below.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/alpha/internal/logging"
)

// Config is the root configuration object.
type Config struct {
	// DataDir is the root for all persisted state (memory dump, persona,
	// databases, knowledge artifacts, sidecars).
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Autonomy      AutonomyConfig      `mapstructure:"autonomy" yaml:"autonomy"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge" yaml:"knowledge"`
	Prompt        PromptConfig        `mapstructure:"prompt" yaml:"prompt"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation" yaml:"consolidation"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Logging       logging.Config      `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig configures the local LLM endpoint and request defaults.
type LLMConfig struct {
	// URL is the Ollama-compatible endpoint base URL.
	URL string `mapstructure:"url" yaml:"url"`
	// PreferredModel is used when present on the endpoint.
	PreferredModel string `mapstructure:"preferred_model" yaml:"preferred_model"`
	// FallbackModel is used when the preferred model is absent.
	FallbackModel string `mapstructure:"fallback_model" yaml:"fallback_model"`
	// TimeoutSec is the hard per-call deadline.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	// ReflectionTimeoutSec is the extended deadline for nightly reflection.
	ReflectionTimeoutSec int `mapstructure:"reflection_timeout_sec" yaml:"reflection_timeout_sec"`
	// MaxRetries bounds attempts per call.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// BaseDelaySec is the exponential backoff base between retries.
	BaseDelaySec float64 `mapstructure:"base_delay_sec" yaml:"base_delay_sec"`
	// NumPredict is the default prediction token budget.
	NumPredict int `mapstructure:"num_predict" yaml:"num_predict"`
	// Temperature is the default sampling temperature.
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	// RepeatPenalty is passed through to the endpoint.
	RepeatPenalty float64 `mapstructure:"repeat_penalty" yaml:"repeat_penalty"`
	TopK          int     `mapstructure:"top_k" yaml:"top_k"`
	TopP          float64 `mapstructure:"top_p" yaml:"top_p"`
	// WarmupOnStart sends a low-temperature probe request at boot so the
	// first real turn does not pay the model cold start.
	WarmupOnStart bool `mapstructure:"warmup_on_start" yaml:"warmup_on_start"`
}

// Timeout returns the per-call deadline as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ReflectionTimeout returns the reflection deadline as a duration.
func (c LLMConfig) ReflectionTimeout() time.Duration {
	return time.Duration(c.ReflectionTimeoutSec) * time.Second
}

// BaseDelay returns the retry backoff base as a duration.
func (c LLMConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySec * float64(time.Second))
}

// AutonomyConfig gates the background cycles.
type AutonomyConfig struct {
	// NightHours is the permitted window as "start-end" in local hours.
	// The window may wrap past midnight, e.g. "23-8".
	NightHours string `mapstructure:"night_hours" yaml:"night_hours"`
	// GoalExecutionIntervalSec is the goal loop wake interval.
	GoalExecutionIntervalSec int `mapstructure:"goal_execution_interval_sec" yaml:"goal_execution_interval_sec"`
	// MaxGoalsPerDay caps goal executions per calendar day.
	MaxGoalsPerDay int `mapstructure:"max_goals_per_day" yaml:"max_goals_per_day"`
	// InternetGoalIntervalSec is the minimum spacing between autonomous
	// internet studies.
	InternetGoalIntervalSec int `mapstructure:"internet_goal_interval_sec" yaml:"internet_goal_interval_sec"`
	// MaxInternetPerDay caps autonomous studies per calendar day.
	MaxInternetPerDay int `mapstructure:"max_internet_per_day" yaml:"max_internet_per_day"`
	// InternetTopics is the fixed topic list the research loop samples.
	InternetTopics []string `mapstructure:"internet_topics" yaml:"internet_topics"`

	EnableReflection       bool `mapstructure:"enable_reflection" yaml:"enable_reflection"`
	EnableGoalExecution    bool `mapstructure:"enable_goal_execution" yaml:"enable_goal_execution"`
	EnableInternetResearch bool `mapstructure:"enable_internet_research" yaml:"enable_internet_research"`
}

// GoalExecutionInterval returns the goal loop interval as a duration.
func (c AutonomyConfig) GoalExecutionInterval() time.Duration {
	return time.Duration(c.GoalExecutionIntervalSec) * time.Second
}

// InternetGoalInterval returns the research spacing as a duration.
func (c AutonomyConfig) InternetGoalInterval() time.Duration {
	return time.Duration(c.InternetGoalIntervalSec) * time.Second
}

// NightWindow parses NightHours into (start, end). Accepts "23-8" and
// "23,8" forms.
func (c AutonomyConfig) NightWindow() (int, int, error) {
	s := strings.NewReplacer(",", "-", " ", "").Replace(c.NightHours)
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid night_hours %q, want start-end", c.NightHours)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid night_hours start: %w", err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid night_hours end: %w", err)
	}
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return 0, 0, fmt.Errorf("night_hours out of range: %q", c.NightHours)
	}
	return start, end, nil
}

// KnowledgeConfig configures the external knowledge source adapter.
type KnowledgeConfig struct {
	// BaseURL of the article source. Search and fetch endpoints hang off it.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// MaxResults bounds search result lists.
	MaxResults int `mapstructure:"max_results" yaml:"max_results"`
	// TimeoutSec is the external fetch deadline.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	// CacheEntries bounds the on-disk learn cache.
	CacheEntries int `mapstructure:"cache_entries" yaml:"cache_entries"`
}

// Timeout returns the fetch deadline as a duration.
func (c KnowledgeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PromptConfig configures the composer.
type PromptConfig struct {
	// EnableContinuation lets "продолжи" turns resume a truncated reply.
	EnableContinuation bool `mapstructure:"enable_continuation" yaml:"enable_continuation"`
	// FamiliarName is the operator's informal name that flips familiar mode.
	FamiliarName string `mapstructure:"familiar_name" yaml:"familiar_name"`
	// CacheSize bounds the prompt cache.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
	// CacheTTLSec is the maximum age of a usable cache entry.
	CacheTTLSec int `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

// CacheTTL returns the cache entry lifetime.
func (c PromptConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// ConsolidationConfig configures the memory consolidator.
type ConsolidationConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// TimeoutSec bounds one consolidation run.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the consolidation run deadline.
func (c ConsolidationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".alpha"),
		LLM: LLMConfig{
			URL:                  "http://127.0.0.1:11434",
			PreferredModel:       "qwen2.5:14b",
			FallbackModel:        "llama3",
			TimeoutSec:           600,
			ReflectionTimeoutSec: 900,
			MaxRetries:           3,
			BaseDelaySec:         2,
			NumPredict:           400,
			Temperature:          0.7,
			RepeatPenalty:        1.15,
			TopK:                 40,
			TopP:                 0.9,
			WarmupOnStart:        true,
		},
		Autonomy: AutonomyConfig{
			NightHours:               "23-8",
			GoalExecutionIntervalSec: 10800,
			MaxGoalsPerDay:           3,
			InternetGoalIntervalSec:  86400,
			MaxInternetPerDay:        2,
			InternetTopics: []string{
				"фракталы",
				"эмерджентность",
				"теория информации",
				"нейронные сети",
				"философия сознания",
				"самоорганизация систем",
			},
			EnableReflection:       true,
			EnableGoalExecution:    true,
			EnableInternetResearch: true,
		},
		Knowledge: KnowledgeConfig{
			BaseURL:      "https://ru.wikipedia.org",
			MaxResults:   5,
			TimeoutSec:   30,
			CacheEntries: 100,
		},
		Prompt: PromptConfig{
			EnableContinuation: true,
			FamiliarName:       "Алекс",
			CacheSize:          50,
			CacheTTLSec:        3600,
		},
		Consolidation: ConsolidationConfig{
			Enabled:    true,
			TimeoutSec: 300,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:19200",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// envBindings maps viper keys to their documented environment variables.
var envBindings = map[string]string{
	"llm.url":                              "OLLAMA_URL",
	"llm.preferred_model":                  "PREFERRED_MODEL",
	"llm.timeout_sec":                      "OLLAMA_TIMEOUT",
	"llm.max_retries":                      "OLLAMA_MAX_RETRIES",
	"llm.base_delay_sec":                   "OLLAMA_BASE_DELAY",
	"llm.num_predict":                      "OLLAMA_NUM_PREDICT",
	"llm.temperature":                      "OLLAMA_TEMPERATURE",
	"llm.repeat_penalty":                   "OLLAMA_REPEAT_PENALTY",
	"autonomy.night_hours":                 "AUTONOMY_NIGHT_HOURS",
	"autonomy.goal_execution_interval_sec": "GOAL_EXECUTION_INTERVAL",
	"autonomy.max_goals_per_day":           "MAX_GOALS_PER_DAY",
	"autonomy.internet_goal_interval_sec":  "INTERNET_GOAL_INTERVAL",
	"autonomy.internet_topics":             "AUTONOMOUS_INTERNET_TOPICS",
	"autonomy.enable_reflection":           "ENABLE_REFLECTION",
	"autonomy.enable_goal_execution":       "ENABLE_GOAL_EXECUTION",
	"autonomy.enable_internet_research":    "ENABLE_INTERNET_RESEARCH",
	"prompt.enable_continuation":           "ENABLE_CONTINUATION",
	"consolidation.enabled":                "ENABLE_MEMORY_CONSOLIDATION",
	"consolidation.timeout_sec":            "MEMORY_CONSOLIDATION_TIMEOUT",
}

// Load reads configuration from path. A missing file is not an error: the
// defaults are written there for the next run, then env overrides apply.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".alpha", "config.yaml")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	defaults := Default()
	setDefaults(v, defaults)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if werr := writeDefault(path, defaults); werr != nil {
			// The runtime still works on in-memory defaults.
			fmt.Fprintf(os.Stderr, "warning: could not write default config: %v\n", werr)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// AUTONOMOUS_INTERNET_TOPICS arrives as a comma-separated string.
	if raw := os.Getenv("AUTONOMOUS_INTERNET_TOPICS"); raw != "" {
		var topics []string
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
		if len(topics) > 0 {
			cfg.Autonomy.InternetTopics = topics
		}
	}

	if _, _, err := cfg.Autonomy.NightWindow(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDataDirs creates the on-disk layout under DataDir.
func (c *Config) EnsureDataDirs() error {
	dirs := []string{
		c.DataDir,
		c.KnowledgeDir(),
		c.ExperimentalDir(),
		c.BackupDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// KnowledgeDir is where study artifacts are written.
func (c *Config) KnowledgeDir() string { return filepath.Join(c.DataDir, "knowledge") }

// ExperimentalDir holds scratch artifacts the agent may write.
func (c *Config) ExperimentalDir() string { return filepath.Join(c.DataDir, "experimental") }

// BackupDir holds timestamped experiment backups.
func (c *Config) BackupDir() string { return filepath.Join(c.DataDir, "backups") }

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("llm.url", cfg.LLM.URL)
	v.SetDefault("llm.preferred_model", cfg.LLM.PreferredModel)
	v.SetDefault("llm.fallback_model", cfg.LLM.FallbackModel)
	v.SetDefault("llm.timeout_sec", cfg.LLM.TimeoutSec)
	v.SetDefault("llm.reflection_timeout_sec", cfg.LLM.ReflectionTimeoutSec)
	v.SetDefault("llm.max_retries", cfg.LLM.MaxRetries)
	v.SetDefault("llm.base_delay_sec", cfg.LLM.BaseDelaySec)
	v.SetDefault("llm.num_predict", cfg.LLM.NumPredict)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.repeat_penalty", cfg.LLM.RepeatPenalty)
	v.SetDefault("llm.top_k", cfg.LLM.TopK)
	v.SetDefault("llm.top_p", cfg.LLM.TopP)
	v.SetDefault("llm.warmup_on_start", cfg.LLM.WarmupOnStart)

	v.SetDefault("autonomy.night_hours", cfg.Autonomy.NightHours)
	v.SetDefault("autonomy.goal_execution_interval_sec", cfg.Autonomy.GoalExecutionIntervalSec)
	v.SetDefault("autonomy.max_goals_per_day", cfg.Autonomy.MaxGoalsPerDay)
	v.SetDefault("autonomy.internet_goal_interval_sec", cfg.Autonomy.InternetGoalIntervalSec)
	v.SetDefault("autonomy.max_internet_per_day", cfg.Autonomy.MaxInternetPerDay)
	v.SetDefault("autonomy.internet_topics", cfg.Autonomy.InternetTopics)
	v.SetDefault("autonomy.enable_reflection", cfg.Autonomy.EnableReflection)
	v.SetDefault("autonomy.enable_goal_execution", cfg.Autonomy.EnableGoalExecution)
	v.SetDefault("autonomy.enable_internet_research", cfg.Autonomy.EnableInternetResearch)

	v.SetDefault("knowledge.base_url", cfg.Knowledge.BaseURL)
	v.SetDefault("knowledge.max_results", cfg.Knowledge.MaxResults)
	v.SetDefault("knowledge.timeout_sec", cfg.Knowledge.TimeoutSec)
	v.SetDefault("knowledge.cache_entries", cfg.Knowledge.CacheEntries)

	v.SetDefault("prompt.enable_continuation", cfg.Prompt.EnableContinuation)
	v.SetDefault("prompt.familiar_name", cfg.Prompt.FamiliarName)
	v.SetDefault("prompt.cache_size", cfg.Prompt.CacheSize)
	v.SetDefault("prompt.cache_ttl_sec", cfg.Prompt.CacheTTLSec)

	v.SetDefault("consolidation.enabled", cfg.Consolidation.Enabled)
	v.SetDefault("consolidation.timeout_sec", cfg.Consolidation.TimeoutSec)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file_path", cfg.Logging.FilePath)
}

func writeDefault(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := "# Alpha runtime configuration.\n# Environment variables such as OLLAMA_URL and AUTONOMY_NIGHT_HOURS override these values.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
