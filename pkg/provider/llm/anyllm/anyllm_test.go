package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/castforge/pkg/provider/llm"
	"github.com/MrWong99/castforge/pkg/types"
)

// TestBuildParams_SystemPrompt checks that the system prompt becomes the first message.
func TestBuildParams_SystemPrompt(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a podcast writer.",
		Messages:     []types.Message{{Role: "user", Content: "Write an outline."}},
	})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("expected first message role system, got %q", params.Messages[0].Role)
	}
	if params.Messages[0].ContentString() != "You are a podcast writer." {
		t.Errorf("unexpected system content: %q", params.Messages[0].ContentString())
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("expected second message role user, got %q", params.Messages[1].Role)
	}
}

// TestBuildParams_NoSystemPrompt checks that no system message is prepended when absent.
func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "Hello"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != "user" {
		t.Errorf("expected role user, got %q", params.Messages[0].Role)
	}
}

// TestBuildParams_Model checks that the provider's model is carried into the params.
func TestBuildParams_Model(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{})
	if params.Model != "gemini-2.5-flash" {
		t.Errorf("expected model gemini-2.5-flash, got %q", params.Model)
	}
}

// TestBuildParams_Temperature checks that a non-zero temperature is passed as a pointer.
func TestBuildParams_Temperature(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{Temperature: 0.7})
	if params.Temperature == nil {
		t.Fatal("expected non-nil Temperature")
	}
	if *params.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", *params.Temperature)
	}
}

// TestBuildParams_ZeroTemperatureOmitted checks that zero temperature yields a nil pointer.
func TestBuildParams_ZeroTemperatureOmitted(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{})
	if params.Temperature != nil {
		t.Errorf("expected nil Temperature, got %v", *params.Temperature)
	}
}

// TestBuildParams_MaxTokens checks that MaxTokens is passed as a pointer when positive.
func TestBuildParams_MaxTokens(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{MaxTokens: 2048})
	if params.MaxTokens == nil {
		t.Fatal("expected non-nil MaxTokens")
	}
	if *params.MaxTokens != 2048 {
		t.Errorf("expected MaxTokens 2048, got %d", *params.MaxTokens)
	}
}

// TestBuildParams_Name checks that the participant name is preserved.
func TestBuildParams_Name(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "Hi", Name: "alice"}},
	})
	if params.Messages[0].Name != "alice" {
		t.Errorf("expected name alice, got %q", params.Messages[0].Name)
	}
}

// TestModelCapabilities_Gemini25Flash checks gemini-2.5-flash capabilities.
func TestModelCapabilities_Gemini25Flash(t *testing.T) {
	caps := modelCapabilities("gemini-2.5-flash")
	if caps.ContextWindow != 1_048_576 {
		t.Errorf("gemini-2.5-flash: expected context window 1048576, got %d", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 65_536 {
		t.Errorf("gemini-2.5-flash: expected MaxOutputTokens 65536, got %d", caps.MaxOutputTokens)
	}
	if !caps.SupportsVision {
		t.Error("gemini-2.5-flash: expected SupportsVision=true")
	}
	if !caps.SupportsStreaming {
		t.Error("gemini-2.5-flash: expected SupportsStreaming=true")
	}
}

// TestModelCapabilities_Gemini25Pro checks gemini-2.5-pro capabilities.
func TestModelCapabilities_Gemini25Pro(t *testing.T) {
	caps := modelCapabilities("gemini-2.5-pro")
	if caps.ContextWindow != 1_048_576 {
		t.Errorf("gemini-2.5-pro: expected context window 1048576, got %d", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 65_536 {
		t.Errorf("gemini-2.5-pro: expected MaxOutputTokens 65536, got %d", caps.MaxOutputTokens)
	}
}

// TestModelCapabilities_Gemini15Pro checks gemini-1.5-pro capabilities.
func TestModelCapabilities_Gemini15Pro(t *testing.T) {
	caps := modelCapabilities("gemini-1.5-pro")
	if caps.ContextWindow != 2_097_152 {
		t.Errorf("gemini-1.5-pro: expected context window 2097152, got %d", caps.ContextWindow)
	}
}

// TestModelCapabilities_GeminiGeneric catches generic Gemini models.
func TestModelCapabilities_GeminiGeneric(t *testing.T) {
	caps := modelCapabilities("gemini-pro")
	if caps.ContextWindow != 128_000 {
		t.Errorf("gemini-pro: expected context window 128000, got %d", caps.ContextWindow)
	}
}

// TestModelCapabilities_GPT4oMini checks gpt-4o-mini capabilities.
func TestModelCapabilities_GPT4oMini(t *testing.T) {
	caps := modelCapabilities("gpt-4o-mini")
	if caps.ContextWindow != 128_000 {
		t.Errorf("gpt-4o-mini: expected context window 128000, got %d", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 16_384 {
		t.Errorf("gpt-4o-mini: expected MaxOutputTokens 16384, got %d", caps.MaxOutputTokens)
	}
	if !caps.SupportsVision {
		t.Error("gpt-4o-mini: expected SupportsVision=true")
	}
}

// TestModelCapabilities_GPT4 checks gpt-4 capabilities.
func TestModelCapabilities_GPT4(t *testing.T) {
	caps := modelCapabilities("gpt-4")
	if caps.ContextWindow != 8_192 {
		t.Errorf("gpt-4: expected context window 8192, got %d", caps.ContextWindow)
	}
	if caps.SupportsVision {
		t.Error("gpt-4: expected SupportsVision=false")
	}
}

// TestModelCapabilities_O1Mini checks o1-mini capabilities.
func TestModelCapabilities_O1Mini(t *testing.T) {
	caps := modelCapabilities("o1-mini")
	if caps.ContextWindow != 128_000 {
		t.Errorf("o1-mini: expected context window 128000, got %d", caps.ContextWindow)
	}
	if caps.SupportsToolCalling {
		t.Error("o1-mini: expected SupportsToolCalling=false")
	}
}

// TestModelCapabilities_Claude35Sonnet checks claude-3-5-sonnet capabilities.
func TestModelCapabilities_Claude35Sonnet(t *testing.T) {
	caps := modelCapabilities("claude-3-5-sonnet-latest")
	if caps.ContextWindow != 200_000 {
		t.Errorf("claude-3-5-sonnet: expected context window 200000, got %d", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 8_192 {
		t.Errorf("claude-3-5-sonnet: expected MaxOutputTokens 8192, got %d", caps.MaxOutputTokens)
	}
}

// TestModelCapabilities_ClaudeGeneric catches generic claude models.
func TestModelCapabilities_ClaudeGeneric(t *testing.T) {
	caps := modelCapabilities("claude-future-model")
	if caps.ContextWindow != 200_000 {
		t.Errorf("claude-generic: expected context window 200000, got %d", caps.ContextWindow)
	}
	if !caps.SupportsVision {
		t.Error("claude-generic: expected SupportsVision=true")
	}
}

// TestModelCapabilities_Unknown checks that unknown models return safe defaults.
func TestModelCapabilities_Unknown(t *testing.T) {
	caps := modelCapabilities("my-custom-model")
	if caps.ContextWindow <= 0 {
		t.Error("unknown model: expected positive ContextWindow")
	}
	if caps.MaxOutputTokens <= 0 {
		t.Error("unknown model: expected positive MaxOutputTokens")
	}
	if !caps.SupportsStreaming {
		t.Error("unknown model: expected SupportsStreaming=true")
	}
}

// TestModelCapabilities_CaseInsensitive checks that model name matching is case-insensitive.
func TestModelCapabilities_CaseInsensitive(t *testing.T) {
	lower := modelCapabilities("gemini-2.5-flash")
	upper := modelCapabilities("GEMINI-2.5-FLASH")
	if lower.ContextWindow != upper.ContextWindow {
		t.Errorf("case should not matter: got %d vs %d", lower.ContextWindow, upper.ContextWindow)
	}
}

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gemini-2.5-flash")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("gemini", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_Gemini_WithAPIKey checks that the Gemini provider constructs successfully with an API key.
func TestNew_Gemini_WithAPIKey(t *testing.T) {
	p, err := NewGemini("gemini-2.5-flash", anyllmlib.WithAPIKey("AI-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "gemini-2.5-flash" {
		t.Errorf("expected model gemini-2.5-flash, got %q", p.model)
	}
}

// TestNew_OpenAI_MissingAPIKey checks that OpenAI returns an error when no API key is available.
// This relies on OPENAI_API_KEY not being set in the test environment.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "") // Ensure env var is clear.
	_, err := New("openai", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// TestNew_Ollama_NoAPIKey checks that Ollama works without an API key.
func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := NewOllama("llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// TestConvenienceConstructors checks all convenience constructors delegate correctly.
func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"NewGemini", func() (*Provider, error) { return NewGemini("gemini-2.5-flash", anyllmlib.WithAPIKey("AI-test")) }},
		{"NewOpenAI", func() (*Provider, error) { return NewOpenAI("gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"NewAnthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if p == nil {
				t.Fatalf("%s: expected non-nil provider", tt.name)
			}
		})
	}
}

// TestCountTokens_Estimation checks that token counting returns a reasonable value.
func TestCountTokens_Estimation(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	msgs := []types.Message{
		{Role: "user", Content: "Hello world"}, // 11 chars → ~3 tokens + 4 overhead = 7
	}
	count, err := p.CountTokens(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count <= 0 {
		t.Errorf("expected positive token count, got %d", count)
	}
}

// TestCountTokens_Empty checks that an empty message list returns zero tokens.
func TestCountTokens_Empty(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	count, err := p.CountTokens(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 tokens for empty messages, got %d", count)
	}
}

// TestCountTokens_MultipleMessages checks that multiple messages accumulate correctly.
func TestCountTokens_MultipleMessages(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	msgs := []types.Message{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there, how can I help?"},
	}
	count, err := p.CountTokens(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	singleCount, _ := p.CountTokens(msgs[:1])
	if count <= singleCount {
		t.Errorf("expected more tokens for two messages than one: %d <= %d", count, singleCount)
	}
}

// TestCapabilities_ReturnsForModel checks that Capabilities() delegates to modelCapabilities.
func TestCapabilities_ReturnsForModel(t *testing.T) {
	p := &Provider{model: "gemini-2.5-flash"}
	caps := p.Capabilities()
	expected := modelCapabilities("gemini-2.5-flash")
	if caps.ContextWindow != expected.ContextWindow {
		t.Errorf("expected ContextWindow %d, got %d", expected.ContextWindow, caps.ContextWindow)
	}
	if caps.SupportsVision != expected.SupportsVision {
		t.Errorf("expected SupportsVision %v, got %v", expected.SupportsVision, caps.SupportsVision)
	}
}
