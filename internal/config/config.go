// Package config loads the callsight YAML configuration. Everything the
// pipeline needs is threaded from here explicitly; nothing reads config from
// ambient global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full callsight configuration.
type Config struct {
	ClientID      string `yaml:"client_id"`
	RecordingsDir string `yaml:"recordings_dir"`
	DataDir       string `yaml:"data_dir"`
	IndexDB       string `yaml:"index_db"`

	OpenAI     OpenAIConfig     `yaml:"openai"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Compliance ComplianceConfig `yaml:"compliance"`
}

// OpenAIConfig names the models and the API endpoint used by the inference
// gateway. APIKeyEnv is the environment variable holding the key, never the
// key itself.
type OpenAIConfig struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	WhisperModel   string `yaml:"whisper_model"`
	LLMModel       string `yaml:"llm_model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// PipelineConfig bounds the orchestrator's concurrency and retries.
type PipelineConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent"`
	ValidationRetries int `yaml:"validation_retries"`
	TransportRetries  int `yaml:"transport_retries"`
	InitialBackoffMS  int `yaml:"initial_backoff_ms"`
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// ComplianceConfig carries the client's phrase lists for the compliance stage.
type ComplianceConfig struct {
	RequiredPhrases  []string `yaml:"required_phrases"`
	ForbiddenPhrases []string `yaml:"forbidden_phrases"`
}

// Default returns a configuration with workable local defaults.
func Default() *Config {
	return &Config{
		ClientID:      "client_local",
		RecordingsDir: "recordings",
		DataDir:       "data",
		IndexDB:       "data/index.db",
		OpenAI: OpenAIConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			BaseURL:        "https://api.openai.com/v1",
			WhisperModel:   "whisper-1",
			LLMModel:       "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:     4,
			ValidationRetries: 2,
			TransportRetries:  3,
			InitialBackoffMS:  500,
			RequestTimeoutSec: 25,
		},
	}
}

// Load reads the config file at path. A missing file yields the defaults so
// a fresh checkout works without setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.RecordingsDir == "" {
		c.RecordingsDir = d.RecordingsDir
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.IndexDB == "" {
		c.IndexDB = d.IndexDB
	}
	if c.OpenAI.APIKeyEnv == "" {
		c.OpenAI.APIKeyEnv = d.OpenAI.APIKeyEnv
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = d.OpenAI.BaseURL
	}
	if c.OpenAI.WhisperModel == "" {
		c.OpenAI.WhisperModel = d.OpenAI.WhisperModel
	}
	if c.OpenAI.LLMModel == "" {
		c.OpenAI.LLMModel = d.OpenAI.LLMModel
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = d.OpenAI.EmbeddingModel
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		c.Pipeline.MaxConcurrent = d.Pipeline.MaxConcurrent
	}
	if c.Pipeline.ValidationRetries < 0 {
		c.Pipeline.ValidationRetries = d.Pipeline.ValidationRetries
	}
	if c.Pipeline.TransportRetries <= 0 {
		c.Pipeline.TransportRetries = d.Pipeline.TransportRetries
	}
	if c.Pipeline.InitialBackoffMS <= 0 {
		c.Pipeline.InitialBackoffMS = d.Pipeline.InitialBackoffMS
	}
	if c.Pipeline.RequestTimeoutSec <= 0 {
		c.Pipeline.RequestTimeoutSec = d.Pipeline.RequestTimeoutSec
	}
}

// InitialBackoff returns the first retry delay.
func (p PipelineConfig) InitialBackoff() time.Duration {
	return time.Duration(p.InitialBackoffMS) * time.Millisecond
}

// RequestTimeout returns the per-request timeout for external calls.
func (p PipelineConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSec) * time.Second
}

// APIKey resolves the API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.OpenAI.APIKeyEnv)
}

// Save writes the config back to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
