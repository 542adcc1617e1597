// Package types defines the shared types used across all Castforge packages.
//
// These types form the lingua franca between providers, gateways, and the
// pipeline. They are intentionally minimal — each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "strings"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// VoiceProfile describes a TTS voice configuration for one podcast speaker.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "en-US-Neural2-D").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// LanguageCode is the BCP-47 language tag the voice speaks (e.g. "en-US").
	LanguageCode string

	// Gender is the voice gender as reported by the provider catalog.
	Gender Gender

	// PitchShift adjusts pitch in semitones (-10 to +10, 0 = default).
	PitchShift float64

	// SpeakingRate adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeakingRate float64

	// Metadata holds provider-specific voice attributes (age, accent, etc.).
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// Gender is the normalized speaker gender used for voice assignment.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderNeutral Gender = "neutral"
)

// NormalizeGender maps free-form gender strings (as LLMs and voice catalogs
// produce them) onto the three canonical values. Unknown or empty input
// normalizes to GenderNeutral.
func NormalizeGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "man":
		return GenderMale
	case "female", "f", "woman":
		return GenderFemale
	default:
		return GenderNeutral
	}
}
