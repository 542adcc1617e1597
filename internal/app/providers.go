package app

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/castforge/internal/config"
	"github.com/MrWong99/castforge/pkg/provider/llm"
	"github.com/MrWong99/castforge/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/castforge/pkg/provider/llm/openai"
	"github.com/MrWong99/castforge/pkg/provider/tts"
	"github.com/MrWong99/castforge/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/castforge/pkg/provider/tts/googletts"
)

// registerBuiltinProviders wires the provider factories that ship with
// Castforge into reg. Each factory receives a config.ProviderEntry and
// constructs the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// gemini, anthropic, deepseek, mistral and groq share the any-llm
	// pattern: optional APIKey + optional BaseURL.
	for _, name := range []string{
		"gemini", "anthropic", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// openai uses the official SDK directly.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not a key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterTTS("googletts", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []googletts.Option
		if entry.BaseURL != "" {
			opts = append(opts, googletts.WithBaseURL(entry.BaseURL))
		}
		return googletts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}
