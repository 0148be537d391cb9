// Package config provides application settings loaded from environment
// variables and an optional config file.
//
// Settings are created via Load() which handles:
// - Config file reading (YAML, JSON or TOML, anything viper understands)
// - Environment variable parsing with validation; env overrides the file
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/richinex/codeweave/llm"
)

// ErrMissingAPIKey is returned by CheckAPIKey for hosted providers without a key.
var ErrMissingAPIKey = errors.New("missing API key")

// Settings holds all application configuration.
type Settings struct {
	Completion Profile
	Chat       Profile
	Timeout    time.Duration
	Database   string
}

// Profile is the unresolved configuration of one kind of request: names,
// not objects. The orchestrator resolves it at submission.
type Profile struct {
	Provider       string
	Template       string
	Model          string
	URL            string
	EndpointMode   string
	Endpoint       string
	APIKey         string
	Stream         bool
	MaxTokens      int
	Temperature    *float64
	ThinkingBudget int
	KeepAlive      string
}

// Redacted returns a copy that is safe to log.
func (p Profile) Redacted() Profile {
	if p.APIKey != "" {
		p.APIKey = "***"
	}
	return p
}

// CheckAPIKey reports a missing key for providers that require one.
func (p Profile) CheckAPIKey() error {
	id, info, err := getProviderInfo(p.Provider)
	if err != nil {
		return err
	}
	if info.keyRequired && p.APIKey == "" {
		return fmt.Errorf("%w for %s: set %s or providers.%s.api_key", ErrMissingAPIKey, id, info.apiKeyEnv, info.key)
	}
	return nil
}

// ProfileFor returns the profile serving kind. Refactors use the chat profile.
func (s Settings) ProfileFor(kind llm.RequestKind) Profile {
	if kind == llm.KindCompletion {
		return s.Completion
	}
	return s.Chat
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	key                string
	modelEnv           string
	defaultModel       string
	apiKeyEnv          string
	urlEnv             string
	completionTemplate string
	chatTemplate       string
	keyRequired        bool
}

// Supported providers and their configuration.
var providers = map[llm.ProviderID]providerInfo{
	llm.ProviderOllama:           {"ollama", "OLLAMA_MODEL", "qwen2.5-coder:7b", "OLLAMA_API_KEY", "OLLAMA_URL", "Ollama FIM", "Ollama Chat", false},
	llm.ProviderOpenAI:           {"openai", "OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY", "OPENAI_URL", "OpenAI", "OpenAI", true},
	llm.ProviderClaude:           {"claude", "ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY", "ANTHROPIC_URL", "Claude", "Claude", true},
	llm.ProviderGoogleAI:         {"google", "GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY", "GEMINI_URL", "Google AI", "Google AI", true},
	llm.ProviderMistralAI:        {"mistral", "MISTRAL_MODEL", "codestral-latest", "MISTRAL_API_KEY", "MISTRAL_URL", "Codestral FIM", "Mistral AI Chat", true},
	llm.ProviderLlamaCpp:         {"llamacpp", "LLAMACPP_MODEL", "", "LLAMACPP_API_KEY", "LLAMACPP_URL", "llama.cpp FIM", "OpenAI Compatible", false},
	llm.ProviderOpenRouter:       {"openrouter", "OPENROUTER_MODEL", "openai/gpt-4o-mini", "OPENROUTER_API_KEY", "OPENROUTER_URL", "OpenAI Compatible", "OpenAI Compatible", true},
	llm.ProviderOpenAICompatible: {"compatible", "OPENAI_COMPATIBLE_MODEL", "", "OPENAI_COMPATIBLE_API_KEY", "OPENAI_COMPATIBLE_URL", "OpenAI Compatible", "OpenAI Compatible", false},
}

// Top-level keys and the environment variables that override them.
var envBindings = map[string]string{
	"provider":            "CODEWEAVE_PROVIDER",
	"stream":              "CODEWEAVE_STREAM",
	"endpoint_mode":       "CODEWEAVE_ENDPOINT_MODE",
	"endpoint":            "CODEWEAVE_ENDPOINT",
	"timeout":             "CODEWEAVE_TIMEOUT",
	"db":                  "CODEWEAVE_DB",
	"max_tokens":          "LLM_MAX_TOKENS",
	"temperature":         "LLM_TEMPERATURE",
	"thinking_budget":     "LLM_THINKING_BUDGET",
	"keep_alive":          "OLLAMA_KEEP_ALIVE",
	"completion.template": "CODEWEAVE_COMPLETION_TEMPLATE",
	"chat.template":       "CODEWEAVE_CHAT_TEMPLATE",
	"completion.provider": "CODEWEAVE_COMPLETION_PROVIDER",
	"chat.provider":       "CODEWEAVE_CHAT_PROVIDER",
}

// Load reads the config file at path (skipped when empty) and overlays the
// environment. A non-empty provider overrides both; an empty one falls back
// to CODEWEAVE_PROVIDER, then Ollama. Invalid values are errors.
func Load(path, provider string) (Settings, error) {
	v := viper.New()
	v.SetDefault("provider", "ollama")
	v.SetDefault("stream", "true")
	v.SetDefault("endpoint_mode", "auto")
	v.SetDefault("timeout", "120s")
	v.SetDefault("db", defaultDatabase())

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Settings{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	for _, info := range providers {
		prefix := "providers." + info.key + "."
		for key, env := range map[string]string{
			"model":   info.modelEnv,
			"api_key": info.apiKeyEnv,
			"url":     info.urlEnv,
		} {
			if err := v.BindEnv(prefix+key, env); err != nil {
				return Settings{}, fmt.Errorf("bind %s: %w", env, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if provider == "" {
		provider = v.GetString("provider")
	}
	completion, err := buildProfile(v, "completion", provider, llm.KindCompletion)
	if err != nil {
		return Settings{}, err
	}
	chat, err := buildProfile(v, "chat", provider, llm.KindChat)
	if err != nil {
		return Settings{}, err
	}

	timeout, err := getDuration(v, "timeout")
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Completion: completion,
		Chat:       chat,
		Timeout:    timeout,
		Database:   v.GetString("db"),
	}, nil
}

// buildProfile assembles the profile for one section. A section may pin its
// own provider, otherwise the shared one applies.
func buildProfile(v *viper.Viper, section, provider string, kind llm.RequestKind) (Profile, error) {
	if own := v.GetString(section + ".provider"); own != "" {
		provider = own
	}
	id, info, err := getProviderInfo(provider)
	if err != nil {
		return Profile{}, err
	}

	maxTokens, err := getInt(v, "max_tokens", 0)
	if err != nil {
		return Profile{}, err
	}
	thinking, err := getInt(v, "thinking_budget", 0)
	if err != nil {
		return Profile{}, err
	}
	temperature, err := getOptionalFloat(v, "temperature")
	if err != nil {
		return Profile{}, err
	}
	stream, err := getBool(v, "stream")
	if err != nil {
		return Profile{}, err
	}

	template := v.GetString(section + ".template")
	if template == "" {
		template = info.chatTemplate
		if kind == llm.KindCompletion {
			template = info.completionTemplate
		}
	}

	prefix := "providers." + info.key + "."
	model := v.GetString(prefix + "model")
	if model == "" {
		model = info.defaultModel
	}

	return Profile{
		Provider:       id.String(),
		Template:       template,
		Model:          model,
		URL:            v.GetString(prefix + "url"),
		EndpointMode:   v.GetString("endpoint_mode"),
		Endpoint:       v.GetString("endpoint"),
		APIKey:         v.GetString(prefix + "api_key"),
		Stream:         stream,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ThinkingBudget: thinking,
		KeepAlive:      v.GetString("keep_alive"),
	}, nil
}

// getProviderInfo returns configuration for a provider name or alias.
func getProviderInfo(provider string) (llm.ProviderID, providerInfo, error) {
	id, err := llm.ParseProviderID(provider)
	if err != nil {
		return 0, providerInfo{}, err
	}
	info, ok := providers[id]
	if !ok {
		return 0, providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return id, info, nil
}

// SupportedProviders returns the display names of the supported providers.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for id := range providers {
		result = append(result, id.String())
	}
	sort.Strings(result)
	return result
}

func defaultDatabase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "codeweave.db"
	}
	return filepath.Join(home, ".codeweave", "codeweave.db")
}

// Value helpers with proper error handling

func getInt(v *viper.Viper, key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	if i < 0 {
		return 0, fmt.Errorf("invalid value for %s: %q: must not be negative", key, val)
	}
	return i, nil
}

func getOptionalFloat(v *viper.Viper, key string) (*float64, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return &f, nil
}

func getBool(v *viper.Viper, key string) (bool, error) {
	val := strings.TrimSpace(v.GetString(key))
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

// getDuration accepts Go durations ("90s") and bare seconds ("90").
func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	val := strings.TrimSpace(v.GetString(key))
	if secs, err := strconv.Atoi(val); err == nil {
		val = strconv.Itoa(secs) + "s"
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	if d <= 0 {
		return 0, errors.New("invalid value for " + key + ": must be positive")
	}
	return d, nil
}
