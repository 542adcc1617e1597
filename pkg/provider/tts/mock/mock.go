// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider in unit tests to verify synthesis requests and feed controlled
// audio bytes without a live TTS backend. All fields are safe to set before
// calling any method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	p := &mock.Provider{AudioBytes: []byte("mp3")}
//	audio, err := p.Synthesize(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/castforge/pkg/provider/tts"
	"github.com/MrWong99/castforge/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice profile passed to Synthesize.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
// Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeFunc, if non-nil, handles Synthesize calls instead of the
	// static fields below. Use it to script per-call behaviour (e.g. failing
	// only for a specific speaker).
	SynthesizeFunc func(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// AudioBytes is returned by Synthesize. May be nil.
	AudioBytes []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCallCount is the number of times ListVoices was called.
	ListVoicesCallCount int
}

// Synthesize records the call and returns SynthesizeFunc's result if set,
// otherwise AudioBytes, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	audio, err := p.AudioBytes, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	return audio, err
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	voices := make([]types.VoiceProfile, len(p.Voices))
	copy(voices, p.Voices)
	return voices, nil
}

// CallCount returns the number of Synthesize invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
