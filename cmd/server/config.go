package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port                 string       `yaml:"port"`
	SystemPrompt         string       `yaml:"systemPrompt"`
	TitleGeneratorPrompt string       `yaml:"titleGeneratorPrompt"`
	LLM                  llmConfig    `yaml:"llm"`
	Stream               streamConfig `yaml:"stream"`
}

type llmConfig struct {
	APIKey     string `yaml:"apiKey"`
	BaseURL    string `yaml:"baseURL"`
	Model      string `yaml:"model"`
	TitleModel string `yaml:"titleModel"`

	// Tools is passed through verbatim as the request's tool declarations.
	Tools []map[string]any `yaml:"tools"`

	// ExtraOptions is merged into every streaming request body,
	// last-write-wins on key collision.
	ExtraOptions map[string]any `yaml:"extraOptions"`
}

type streamConfig struct {
	TimeoutSeconds  int `yaml:"timeoutSeconds"`
	FlushIntervalMs int `yaml:"flushIntervalMs"`

	// MaxAhead caps how far past the expected sequence number an out-of-order
	// fragment may be buffered; zero means unbounded.
	MaxAhead int `yaml:"maxAhead"`
}

const (
	defaultPort        = "8080"
	defaultTitlePrompt = "Generate a concise title (at most five words) for a chat starting with the following message. Reply with the title only."
)

func loadConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.TitleGeneratorPrompt == "" {
		cfg.TitleGeneratorPrompt = defaultTitlePrompt
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		return config{}, fmt.Errorf("llm api key is required")
	}
	if cfg.LLM.Model == "" {
		return config{}, fmt.Errorf("llm model is required")
	}
	if cfg.LLM.TitleModel == "" {
		cfg.LLM.TitleModel = cfg.LLM.Model
	}

	return cfg, nil
}

func (c config) streamTimeout() time.Duration {
	return time.Duration(c.Stream.TimeoutSeconds) * time.Second
}

func (c config) flushInterval() time.Duration {
	return time.Duration(c.Stream.FlushIntervalMs) * time.Millisecond
}
