// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs REST API. It implements the tts.Provider interface.
//
// Synthesis is performed via POST /v1/text-to-speech/{voice_id}, which returns
// a complete MP3 clip per call; the voice catalogue is retrieved from
// GET /v1/voices.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/castforge/pkg/provider/tts"
	"github.com/MrWong99/castforge/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"
	defaultTimeout   = 60 * time.Second

	synthesizePathFmt = "/v1/text-to-speech/%s"
	voicesEndpoint    = "/v1/voices"
)

// ---- options ----

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the default API base URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by the ElevenLabs REST API.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- internal request/response types ----

// synthesizeRequest is the JSON body sent to POST /v1/text-to-speech/{voice_id}.
type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ---- Synthesize ----

// Synthesize performs a single POST /v1/text-to-speech/{voice_id} call and
// returns the MP3 bytes. voice.SpeakingRate maps to the voice_settings speed
// field when non-zero; voice.PitchShift is not supported by ElevenLabs and is
// ignored.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	body := synthesizeRequest{
		Text:    text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           voice.SpeakingRate,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal synthesize request: %w", err)
	}

	params := url.Values{}
	params.Set("output_format", p.outputFormat)
	reqURL := p.baseURL + fmt.Sprintf(synthesizePathFmt, url.PathEscape(voice.ID)) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: POST text-to-speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: POST text-to-speech returned status %d: %s",
			resp.StatusCode, readErrorBody(resp.Body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return audio, nil
}

// ---- ListVoices ----

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: GET %s returned status %d: %s",
			voicesEndpoint, resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read voices response: %w", err)
	}
	return parseVoicesResponse(data)
}

// ---- helpers ----

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values. The gender label,
// when present, is normalised onto the canonical Gender values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices response: %w", err)
	}

	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Gender:   types.NormalizeGender(v.Labels["gender"]),
			Metadata: meta,
		})
	}
	return profiles, nil
}

// readErrorBody drains up to 512 bytes from an error response body so the
// status message can include the server's explanation.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(data))
}
