package resilience

import (
	"context"

	"github.com/MrWong99/castforge/pkg/provider/tts"
	"github.com/MrWong99/castforge/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker; a turn that cannot be
// synthesized by the primary is retried against the next healthy fallback.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize converts one dialogue turn using the first healthy provider.
// Note that fallback providers may not know the primary's voice ids; callers
// relying on pinned voice profiles should treat a cross-provider result as
// best-effort.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Snapshots reports the per-backend circuit breaker states.
func (f *TTSFallback) Snapshots() []Snapshot {
	return f.group.Snapshots()
}
