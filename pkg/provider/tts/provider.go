// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Google Cloud TTS or
// ElevenLabs) and presents a uniform per-utterance interface. The primary
// entry point is Synthesize, which converts one dialogue turn into a complete
// encoded audio clip. Podcast assembly happens downstream: each turn becomes
// its own MP3 segment and the stitcher joins them, so there is no need for
// sample-level streaming here.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/castforge/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple Synthesize calls
// may run in parallel (e.g., several dialogue turns at once).
type Provider interface {
	// Synthesize converts text into a complete MP3-encoded audio clip using
	// the given voice profile. The full clip is returned in one slice; callers
	// that need progress reporting should split work at the turn level.
	//
	// voice.ID selects the provider voice. Implementations should apply
	// voice.SpeakingRate and voice.PitchShift where the backend supports them
	// and ignore them otherwise.
	//
	// Returns an error if the voice is unknown, the backend rejects the
	// request, or ctx is cancelled before synthesis completes.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
