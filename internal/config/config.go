package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names understood by FromEnv.
const (
	EnvAPIKey   = "OPENROUTER_API_KEY"
	EnvBaseURL  = "OPENROUTER_BASE_URL"
	EnvVerbose  = "PROXY_VERBOSE"
	EnvPort     = "PROXY_PORT"
	EnvModelMap = "PROXY_MODEL_MAP"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultPort    = 8000
)

// Config holds the process configuration assembled from the environment.
type Config struct {
	APIKey         string
	BaseURL        string
	Verbose        bool
	Port           int
	ModelOverrides map[string]string
}

// FromEnv reads configuration from environment variables and validates the
// result. The upstream credential is mandatory; everything else has defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		APIKey:  strings.TrimSpace(os.Getenv(EnvAPIKey)),
		BaseURL: strings.TrimSpace(os.Getenv(EnvBaseURL)),
		Verbose: parseBool(os.Getenv(EnvVerbose)),
		Port:    defaultPort,
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s %q: %w", EnvPort, raw, err)
		}
		cfg.Port = port
	}

	if path := strings.TrimSpace(os.Getenv(EnvModelMap)); path != "" {
		overrides, err := loadModelMap(path)
		if err != nil {
			return Config{}, err
		}
		cfg.ModelOverrides = overrides
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%s environment variable is not set", EnvAPIKey)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be a valid TCP port, got %d", c.Port)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("upstream base URL must not be empty")
	}
	for alias, target := range c.ModelOverrides {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("model map: name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("model map: target for %q must not be empty", alias)
		}
	}
	return nil
}

type modelMapFile struct {
	Models map[string]string `yaml:"models"`
}

func loadModelMap(path string) (map[string]string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve model map path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read model map file %q: %w", absPath, err)
	}

	var file modelMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model map file %q: %w", absPath, err)
	}

	return file.Models, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
