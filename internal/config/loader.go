package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq"},
	"tts": {"googletts", "elevenlabs"},
}

// Defaults applied by [FromEnv] when the corresponding variable is unset.
const (
	DefaultPort                   = 8000
	DefaultLocalMaxGenerations    = 2
	DefaultDeployedMaxGenerations = 4
	DefaultLLMProvider            = "gemini"
	DefaultLLMModel               = "gemini-2.5-flash"
	DefaultTTSProvider            = "googletts"
)

// FromEnv builds a validated [Config] from process environment variables.
//
// Recognised variables: ENVIRONMENT, PORT, LOG_LEVEL, PUBLIC_BASE_URL,
// MAX_CONCURRENT_GENERATIONS, DATABASE_URL, AUDIO_BUCKET, OUTPUT_ROOT,
// ALLOWED_ORIGINS, API_KEYS, OAUTH_TRUST_LOOPBACK_REDIRECTS,
// CLEANUP_POLICY_FILE, FFMPEG_PATH, FFPROBE_PATH, LLM_PROVIDER, LLM_MODEL,
// LLM_BASE_URL, LLM_FALLBACK_PROVIDER, LLM_FALLBACK_MODEL,
// LLM_FALLBACK_BASE_URL, GEMINI_API_KEY, OPENAI_API_KEY, TTS_PROVIDER,
// TTS_FALLBACK_PROVIDER, GOOGLE_TTS_API_KEY, ELEVENLABS_API_KEY.
func FromEnv() (*Config, error) {
	env := Environment(getenv("ENVIRONMENT", string(EnvLocal)))

	maxGen := DefaultDeployedMaxGenerations
	if env == EnvLocal {
		maxGen = DefaultLocalMaxGenerations
	}

	cfg := &Config{
		Environment:              env,
		Port:                     getenvInt("PORT", DefaultPort),
		LogLevel:                 LogLevel(getenv("LOG_LEVEL", string(LogInfo))),
		PublicBaseURL:            getenv("PUBLIC_BASE_URL", ""),
		MaxConcurrentGenerations: getenvInt("MAX_CONCURRENT_GENERATIONS", maxGen),
		DatabaseURL:              getenv("DATABASE_URL", ""),
		AudioBucket:              getenv("AUDIO_BUCKET", ""),
		OutputRoot:               getenv("OUTPUT_ROOT", "."),
		AllowedOrigins:           splitList(getenv("ALLOWED_ORIGINS", "")),
		APIKeys:                  splitList(getenv("API_KEYS", "")),
		TrustLoopbackRedirects:   getenvBool("OAUTH_TRUST_LOOPBACK_REDIRECTS", false),
		CleanupPolicyFile:        getenv("CLEANUP_POLICY_FILE", ""),
		FFmpegPath:               getenv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:              getenv("FFPROBE_PATH", "ffprobe"),
		Providers: ProvidersConfig{
			LLM: ProviderEntry{
				Name:    getenv("LLM_PROVIDER", DefaultLLMProvider),
				Model:   getenv("LLM_MODEL", DefaultLLMModel),
				BaseURL: getenv("LLM_BASE_URL", ""),
			},
			TTS: ProviderEntry{
				Name: getenv("TTS_PROVIDER", DefaultTTSProvider),
			},
			LLMFallback: ProviderEntry{
				Name:    getenv("LLM_FALLBACK_PROVIDER", ""),
				Model:   getenv("LLM_FALLBACK_MODEL", ""),
				BaseURL: getenv("LLM_FALLBACK_BASE_URL", ""),
			},
			TTSFallback: ProviderEntry{
				Name: getenv("TTS_FALLBACK_PROVIDER", ""),
			},
		},
	}

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	// Provider API keys follow the provider selection.
	cfg.Providers.LLM.APIKey = llmAPIKey(cfg.Providers.LLM.Name)
	cfg.Providers.TTS.APIKey = ttsAPIKey(cfg.Providers.TTS.Name)
	if cfg.Providers.LLMFallback.Name != "" {
		cfg.Providers.LLMFallback.APIKey = llmAPIKey(cfg.Providers.LLMFallback.Name)
	}
	if cfg.Providers.TTSFallback.Name != "" {
		cfg.Providers.TTSFallback.APIKey = ttsAPIKey(cfg.Providers.TTSFallback.Name)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// llmAPIKey resolves the API key environment variable for an LLM provider
// name. Providers without a dedicated variable share GEMINI_API_KEY.
func llmAPIKey(provider string) string {
	switch provider {
	case "openai":
		return getenv("OPENAI_API_KEY", "")
	default:
		return getenv("GEMINI_API_KEY", "")
	}
}

// ttsAPIKey resolves the API key environment variable for a TTS provider
// name.
func ttsAPIKey(provider string) string {
	switch provider {
	case "elevenlabs":
		return getenv("ELEVENLABS_API_KEY", "")
	default:
		return getenv("GOOGLE_TTS_API_KEY", "")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("ENVIRONMENT %q is invalid; valid values: local, staging, production", cfg.Environment))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range [1, 65535]", cfg.Port))
	}
	if cfg.MaxConcurrentGenerations < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_GENERATIONS %d must be at least 1", cfg.MaxConcurrentGenerations))
	}

	// The in-memory status store loses all task state on restart; outside
	// local development that silently breaks status polling.
	if cfg.DatabaseURL == "" && cfg.Environment != EnvLocal {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required when ENVIRONMENT is %q", cfg.Environment))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)

	if cfg.Providers.LLM.APIKey == "" {
		if cfg.Environment == EnvLocal {
			slog.Warn("no LLM API key configured; generation tasks will fail at the analysis phase",
				"provider", cfg.Providers.LLM.Name)
		} else {
			errs = append(errs, fmt.Errorf("no API key configured for LLM provider %q", cfg.Providers.LLM.Name))
		}
	}
	if cfg.Providers.TTS.APIKey == "" {
		if cfg.Environment == EnvLocal {
			slog.Warn("no TTS API key configured; generation tasks will fail at the audio phase",
				"provider", cfg.Providers.TTS.Name)
		} else {
			errs = append(errs, fmt.Errorf("no API key configured for TTS provider %q", cfg.Providers.TTS.Name))
		}
	}

	if cfg.Environment != EnvLocal && len(cfg.APIKeys) == 0 {
		slog.Warn("no static API keys configured; all callers must use the OAuth flow")
	}
	if cfg.TrustLoopbackRedirects && cfg.Environment == EnvProduction {
		slog.Warn("OAUTH_TRUST_LOOPBACK_REDIRECTS is enabled in production; loopback redirect ports will not be pinned")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// getenv returns the value of the environment variable key, or def when it
// is unset or blank.
func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getenvInt parses the environment variable key as an integer, falling back
// to def on unset or unparsable values (with a warning).
func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("environment variable is not an integer; using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// getenvBool parses the environment variable key as a boolean, falling back
// to def on unset or unparsable values (with a warning).
func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("environment variable is not a boolean; using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// splitList splits a comma-separated environment value into trimmed,
// non-empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
