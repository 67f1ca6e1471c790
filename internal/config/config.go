package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DefaultLLM   string                `toml:"default_llm"`
	LLMs         map[string]*LLMConfig `toml:"llm"`
	SystemPrompt string                `toml:"system_prompt"`
	LogLevel     string                `toml:"log_level"`
	Gateway      GatewayConfig         `toml:"gateway"`
	Journal      JournalConfig         `toml:"journal"`
	Trace        TraceConfig           `toml:"trace"`
	Functions    FunctionsConfig       `toml:"functions"`
}

type LLMConfig struct {
	Model     string            `toml:"model"`
	BaseURL   string            `toml:"base_url"`
	APIKey    string            `toml:"api_key"`
	Transport string            `toml:"transport"` // "http" or "openai"
	Headers   map[string]string `toml:"headers"`
	Body      map[string]any    `toml:"body"`
}

type GatewayConfig struct {
	Addr string `toml:"addr"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type TraceConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	URLPath     string  `toml:"url_path"`
	APIKey      string  `toml:"api_key"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"` // 0 keeps every trace
}

type FunctionsConfig struct {
	FileRoot     string `toml:"file_root"`
	BraveAPIKey  string `toml:"brave_api_key"`
	Fetch        bool   `toml:"fetch"`
	MaxFollowUps int    `toml:"max_follow_ups"`
}

func Default() *Config {
	return &Config{
		DefaultLLM: "openai",
		LLMs: map[string]*LLMConfig{
			"openai": {
				Model:     "gpt-4o-mini",
				BaseURL:   "https://api.openai.com/v1",
				APIKey:    "${OPENAI_API_KEY}",
				Transport: "openai",
			},
		},
		LogLevel: "info",
		Gateway: GatewayConfig{
			Addr: ":8484",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    defaultJournalPath(),
		},
		Functions: FunctionsConfig{
			MaxFollowUps: 3,
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path means
// the default location; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = Path()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	for _, llm := range cfg.LLMs {
		llm.APIKey = os.ExpandEnv(llm.APIKey)
		if llm.Transport == "" {
			llm.Transport = "http"
		}
	}
	cfg.Trace.APIKey = os.ExpandEnv(cfg.Trace.APIKey)
	cfg.Functions.BraveAPIKey = os.ExpandEnv(cfg.Functions.BraveAPIKey)

	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// LLM returns the named completion service, or the default one when name is
// empty.
func (c *Config) LLM(name string) (*LLMConfig, error) {
	if name == "" {
		name = c.DefaultLLM
	}
	llm, ok := c.LLMs[name]
	if !ok || llm == nil {
		return nil, fmt.Errorf("llm %q is not configured", name)
	}
	switch llm.Transport {
	case "http", "openai":
	default:
		return nil, fmt.Errorf("llm %q: unknown transport %q", name, llm.Transport)
	}
	return llm, nil
}

// Path is the default config file location.
func Path() string {
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "parley", "config.toml")
}

func defaultJournalPath() string {
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".local", "share", "parley", "journal.db")
}
