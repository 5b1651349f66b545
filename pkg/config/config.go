// Package config loads runtime settings from a .env file, the environment and
// an optional YAML overlay named by CRISIS_CONFIG. Environment variables win
// over the overlay, which wins over defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// OverlayEnv names the environment variable holding the YAML overlay path.
const OverlayEnv = "CRISIS_CONFIG"

// Role selects which keys are required.
type Role int

const (
	// Chat needs the vector store and, for gemini, an API key.
	Chat Role = iota
	// Ingest needs only the vector store.
	Ingest
)

// Config is the full runtime configuration.
type Config struct {
	Qdrant struct {
		URL             string `yaml:"url"`
		APIKey          string `yaml:"api_key"`
		TextCollection  string `yaml:"text_collection"`
		ImageCollection string `yaml:"image_collection"`
	} `yaml:"qdrant"`

	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		APIKey      string  `yaml:"api_key"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"llm"`

	Embed struct {
		OllamaURL string  `yaml:"ollama_url"`
		TextModel string  `yaml:"text_model"`
		ClipURL   string  `yaml:"clip_url"`
		ClipModel string  `yaml:"clip_model"`
		Rate      float64 `yaml:"rate"`
		Burst     int     `yaml:"burst"`
	} `yaml:"embed"`

	Retrieval struct {
		TextThreshold  float32 `yaml:"text_threshold"`
		ImageThreshold float32 `yaml:"image_threshold"`
		TextTopK       int     `yaml:"text_top_k"`
		ImageTopK      int     `yaml:"image_top_k"`
	} `yaml:"retrieval"`

	Neo4j struct {
		URL  string `yaml:"url"`
		User string `yaml:"user"`
		Pass string `yaml:"pass"`
	} `yaml:"neo4j"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	NATSURL        string        `yaml:"nats_url"`
	Port           string        `yaml:"port"`
	MetricsPort    string        `yaml:"metrics_port"`
	EpisodicMemory bool          `yaml:"episodic_memory"`
	LogLevel       string        `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	c := &Config{}
	c.Qdrant.TextCollection = "user_episodic_memory"
	c.Qdrant.ImageCollection = "disaster_multimodal"
	c.LLM.Provider = "gemini"
	c.LLM.Model = "gemini-2.5-flash"
	c.Embed.OllamaURL = "http://localhost:11434"
	c.Embed.TextModel = "all-minilm"
	c.Embed.ClipURL = "http://localhost:8000"
	c.Embed.ClipModel = "clip-ViT-B-32"
	c.Embed.Rate = 20
	c.Embed.Burst = 5
	c.Retrieval.TextThreshold = domain.DefaultTextThreshold
	c.Retrieval.ImageThreshold = domain.DefaultImageThreshold
	c.Retrieval.TextTopK = 2
	c.Retrieval.ImageTopK = 1
	c.RequestTimeout = 30 * time.Second
	c.Port = "8090"
	c.MetricsPort = "9091"
	c.EpisodicMemory = true
	c.LogLevel = "info"
	return c
}

// Load reads .env (a missing file is fine), the overlay and the environment,
// then checks the keys role requires.
func Load(role Role) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	return LoadEnv(os.Getenv, role)
}

// LoadEnv is Load without the .env step, reading variables through getenv.
func LoadEnv(getenv func(string) string, role Role) (*Config, error) {
	c := Default()
	if path := getenv(OverlayEnv); path != "" {
		if err := c.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(role); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.ConfigError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &domain.ConfigError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("QDRANT_URL", &c.Qdrant.URL)
	str("QDRANT_API_KEY", &c.Qdrant.APIKey)
	str("QDRANT_TEXT_COLLECTION", &c.Qdrant.TextCollection)
	str("QDRANT_IMAGE_COLLECTION", &c.Qdrant.ImageCollection)
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("GEMINI_API_KEY", &c.LLM.APIKey)
	str("OLLAMA_URL", &c.Embed.OllamaURL)
	str("TEXT_EMBED_MODEL", &c.Embed.TextModel)
	str("CLIP_URL", &c.Embed.ClipURL)
	str("CLIP_MODEL", &c.Embed.ClipModel)
	str("NATS_URL", &c.NATSURL)
	str("NEO4J_URL", &c.Neo4j.URL)
	str("NEO4J_USER", &c.Neo4j.User)
	str("NEO4J_PASS", &c.Neo4j.Pass)
	str("PORT", &c.Port)
	str("METRICS_PORT", &c.MetricsPort)
	str("LOG_LEVEL", &c.LogLevel)

	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	switch c.LLM.Provider {
	case "gemini":
		str("GEMINI_MODEL", &c.LLM.Model)
	case "ollama":
		if v := getenv("OLLAMA_CHAT_MODEL"); v != "" {
			c.LLM.Model = v
		} else if c.LLM.Model == "gemini-2.5-flash" {
			c.LLM.Model = ""
		}
	}

	var bad []string
	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			bad = append(bad, "REQUEST_TIMEOUT="+v)
		} else {
			c.RequestTimeout = d
		}
	}
	if v := getenv("EPISODIC_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			bad = append(bad, "EPISODIC_MEMORY="+v)
		} else {
			c.EpisodicMemory = b
		}
	}
	if len(bad) > 0 {
		return &domain.ConfigError{Reason: "invalid " + strings.Join(bad, ", ")}
	}
	return nil
}

// Validate reports every missing required key at once.
func (c *Config) Validate(role Role) error {
	var missing []string
	if role == Chat && c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.Qdrant.URL == "" {
		missing = append(missing, "QDRANT_URL")
	}
	if c.Qdrant.APIKey == "" {
		missing = append(missing, "QDRANT_API_KEY")
	}
	if len(missing) > 0 {
		return &domain.ConfigError{Missing: missing}
	}
	if c.LLM.Provider != "gemini" && c.LLM.Provider != "ollama" {
		return &domain.ConfigError{Reason: fmt.Sprintf("unknown LLM_PROVIDER %q", c.LLM.Provider)}
	}
	if c.Retrieval.TextTopK < 0 || c.Retrieval.ImageTopK < 0 {
		return &domain.ConfigError{Reason: "top-k must not be negative"}
	}
	return nil
}

// Neo4jEnabled reports whether a transcript archive is configured.
func (c *Config) Neo4jEnabled() bool { return c.Neo4j.URL != "" }
