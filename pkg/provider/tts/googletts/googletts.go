// Package googletts provides a Google Cloud Text-to-Speech backed TTS provider
// using the REST API (texttospeech.googleapis.com). It implements the
// tts.Provider interface.
//
// Synthesis is performed via POST /v1/text:synthesize with a JSON body; the
// voice catalogue is retrieved from GET /v1/voices. Authentication uses an API
// key sent in the X-Goog-Api-Key header.
//
// Typical usage:
//
//	p, err := googletts.New(apiKey,
//	    googletts.WithTimeout(20*time.Second),
//	)
//	audio, err := p.Synthesize(ctx, "Welcome to the show.", voice)
package googletts

import (
	"bytes"
	"context"
	"encoding/base64"
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
	defaultBaseURL      = "https://texttospeech.googleapis.com"
	defaultLanguageCode = "en-US"
	defaultTimeout      = 30 * time.Second

	synthesizeEndpoint = "/v1/text:synthesize"
	voicesEndpoint     = "/v1/voices"
)

// ---- options ----

// Option is a functional option for configuring a Google TTS Provider.
type Option func(*Provider)

// WithBaseURL overrides the default API base URL. Useful for tests and for
// routing through a regional endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLanguageCode sets the default BCP-47 language code used when a voice
// profile does not carry one (e.g., "en-US", "en-GB"). Defaults to "en-US".
func WithLanguageCode(code string) Option {
	return func(p *Provider) {
		p.languageCode = code
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by the Google Cloud TTS REST API.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	apiKey       string
	baseURL      string
	languageCode string
	httpClient   *http.Client
}

// New creates a new Google TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("googletts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		languageCode: defaultLanguageCode,
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

// synthesizeRequest is the JSON body sent to POST /v1/text:synthesize.
type synthesizeRequest struct {
	Input       synthesisInput  `json:"input"`
	Voice       voiceSelection  `json:"voice"`
	AudioConfig audioConfigBody `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
}

type audioConfigBody struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
}

// synthesizeResponse is the JSON body returned by POST /v1/text:synthesize.
type synthesizeResponse struct {
	AudioContent string `json:"audioContent"` // base64-encoded MP3
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []googleVoice `json:"voices"`
}

// googleVoice is a single voice entry from the Google TTS catalogue.
type googleVoice struct {
	LanguageCodes          []string `json:"languageCodes"`
	Name                   string   `json:"name"`
	SSMLGender             string   `json:"ssmlGender"`
	NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
}

// ---- Synthesize ----

// Synthesize performs a single POST /v1/text:synthesize call and returns the
// decoded MP3 bytes. voice.ID selects the Google voice name (e.g.,
// "en-US-Neural2-D"); voice.LanguageCode overrides the provider default.
// voice.SpeakingRate and voice.PitchShift are passed through when non-zero.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("googletts: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("googletts: voice.ID must not be empty")
	}

	lang := voice.LanguageCode
	if lang == "" {
		lang = p.languageCode
	}

	body := synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceSelection{
			LanguageCode: lang,
			Name:         voice.ID,
		},
		AudioConfig: audioConfigBody{
			AudioEncoding: "MP3",
			SpeakingRate:  voice.SpeakingRate,
			Pitch:         voice.PitchShift,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("googletts: marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+synthesizeEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("googletts: create synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googletts: POST %s: %w", synthesizeEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("googletts: POST %s returned status %d: %s",
			synthesizeEndpoint, resp.StatusCode, readErrorBody(resp.Body))
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("googletts: decode synthesize response: %w", err)
	}
	if sr.AudioContent == "" {
		return nil, errors.New("googletts: synthesize response missing audioContent")
	}

	audio, err := base64.StdEncoding.DecodeString(sr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("googletts: decode audioContent: %w", err)
	}
	return audio, nil
}

// ---- ListVoices ----

// ListVoices retrieves the voice catalogue from GET /v1/voices, filtered to
// the provider's configured language code prefix (e.g., "en-US" also matches
// no filter server-side; Google filters by the languageCode query parameter).
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	reqURL := p.baseURL + voicesEndpoint
	if p.languageCode != "" {
		params := url.Values{}
		params.Set("languageCode", p.languageCode)
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("googletts: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googletts: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("googletts: GET %s returned status %d: %s",
			voicesEndpoint, resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("googletts: read voices response: %w", err)
	}
	return parseVoicesResponse(data)
}

// ---- helpers ----

// parseVoicesResponse parses a raw JSON byte slice (matching the Google TTS
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("googletts: decode voices response: %w", err)
	}

	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:           v.Name,
			Name:         v.Name,
			Provider:     "googletts",
			LanguageCode: lang,
			Gender:       types.NormalizeGender(v.SSMLGender),
			Metadata: map[string]string{
				"natural_sample_rate_hertz": fmt.Sprintf("%d", v.NaturalSampleRateHertz),
			},
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
