package config

import (
	"errors"
	"os"
	"strings"
)

var (
	// ErrNoAPIKey is returned when no Anthropic API key is configured.
	ErrNoAPIKey = errors.New("no Anthropic API key configured")
	// ErrNoEmbeddingKey is returned when the openai embedding backend has no key.
	ErrNoEmbeddingKey = errors.New("no OpenAI API key configured for embeddings")
)

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKey returns the Anthropic API key, preferring the environment over the config file.
func GetAPIKey(cfg *Config) (string, error) {
	var configured string
	if cfg != nil {
		configured = cfg.Anthropic.APIKey
	}
	key, _ := resolveKey("ANTHROPIC_API_KEY", configured)
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource returns where the Anthropic API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	var configured string
	if cfg != nil {
		configured = cfg.Anthropic.APIKey
	}
	_, src := resolveKey("ANTHROPIC_API_KEY", configured)
	return src
}

// GetEmbeddingKey returns the OpenAI key used by the openai embedding backend.
func GetEmbeddingKey(cfg *Config) (string, error) {
	var configured string
	if cfg != nil {
		configured = cfg.Consensus.OpenAIAPIKey
	}
	key, _ := resolveKey("OPENAI_API_KEY", configured)
	if key == "" {
		return "", ErrNoEmbeddingKey
	}
	return key, nil
}

func resolveKey(envVar, configured string) (string, KeySource) {
	if key := os.Getenv(envVar); key != "" {
		return key, KeySourceEnv
	}
	if configured != "" {
		// Unresolved ${VAR} references count as unset.
		key := os.ExpandEnv(configured)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// ValidateAPIKey performs basic format validation on an Anthropic API key.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of a key for display.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
