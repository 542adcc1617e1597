package googletts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/castforge/pkg/types"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, apiKey string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(apiKey, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", apiKey, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "test-key")
		if p.baseURL != defaultBaseURL {
			t.Errorf("baseURL = %q, want %q", p.baseURL, defaultBaseURL)
		}
		if p.languageCode != defaultLanguageCode {
			t.Errorf("languageCode = %q, want %q", p.languageCode, defaultLanguageCode)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("empty key returns error", func(t *testing.T) {
		_, err := New("")
		if err == nil {
			t.Fatal("expected error for empty API key, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "test-key",
			WithBaseURL("http://localhost:9999/"),
			WithLanguageCode("en-GB"),
			WithTimeout(5*time.Second),
		)
		if p.baseURL != "http://localhost:9999" {
			t.Errorf("baseURL = %q, want trailing slash stripped", p.baseURL)
		}
		if p.languageCode != "en-GB" {
			t.Errorf("languageCode = %q, want %q", p.languageCode, "en-GB")
		}
		if p.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, 5*time.Second)
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_MockServer(t *testing.T) {
	wantAudio := []byte("fake-mp3-bytes")

	var (
		reqMu        sync.Mutex
		receivedReqs []synthesizeRequest
		receivedKeys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != synthesizeEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reqMu.Lock()
		receivedReqs = append(receivedReqs, req)
		receivedKeys = append(receivedKeys, r.Header.Get("X-Goog-Api-Key"))
		reqMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(synthesizeResponse{
			AudioContent: base64.StdEncoding.EncodeToString(wantAudio),
		})
	}))
	defer srv.Close()

	p := mustNew(t, "test-key", WithBaseURL(srv.URL))
	voice := types.VoiceProfile{
		ID:           "en-US-Neural2-D",
		LanguageCode: "en-US",
		SpeakingRate: 1.05,
	}

	audio, err := p.Synthesize(context.Background(), "Welcome to the show.", voice)
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	if string(audio) != string(wantAudio) {
		t.Errorf("audio = %q, want %q", audio, wantAudio)
	}

	reqMu.Lock()
	defer reqMu.Unlock()
	if len(receivedReqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(receivedReqs))
	}
	req := receivedReqs[0]
	if req.Input.Text != "Welcome to the show." {
		t.Errorf("input.text = %q, want %q", req.Input.Text, "Welcome to the show.")
	}
	if req.Voice.Name != "en-US-Neural2-D" {
		t.Errorf("voice.name = %q, want %q", req.Voice.Name, "en-US-Neural2-D")
	}
	if req.Voice.LanguageCode != "en-US" {
		t.Errorf("voice.languageCode = %q, want %q", req.Voice.LanguageCode, "en-US")
	}
	if req.AudioConfig.AudioEncoding != "MP3" {
		t.Errorf("audioConfig.audioEncoding = %q, want %q", req.AudioConfig.AudioEncoding, "MP3")
	}
	if req.AudioConfig.SpeakingRate != 1.05 {
		t.Errorf("audioConfig.speakingRate = %v, want 1.05", req.AudioConfig.SpeakingRate)
	}
	if receivedKeys[0] != "test-key" {
		t.Errorf("X-Goog-Api-Key = %q, want %q", receivedKeys[0], "test-key")
	}
}

func TestSynthesize_DefaultLanguageCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Voice.LanguageCode != "en-GB" {
			t.Errorf("voice.languageCode = %q, want provider default en-GB", req.Voice.LanguageCode)
		}
		json.NewEncoder(w).Encode(synthesizeResponse{
			AudioContent: base64.StdEncoding.EncodeToString([]byte("x")),
		})
	}))
	defer srv.Close()

	p := mustNew(t, "test-key", WithBaseURL(srv.URL), WithLanguageCode("en-GB"))
	// Voice without a language code falls back to the provider default.
	_, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{ID: "en-GB-Neural2-A"})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p := mustNew(t, "test-key")
	_, err := p.Synthesize(context.Background(), "", types.VoiceProfile{ID: "en-US-Neural2-D"})
	if err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
	if !strings.Contains(err.Error(), "googletts:") {
		t.Errorf("error %q does not have 'googletts:' prefix", err.Error())
	}
}

func TestSynthesize_EmptyVoiceID(t *testing.T) {
	p := mustNew(t, "test-key")
	_, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{})
	if err == nil {
		t.Fatal("expected error for empty voice ID, got nil")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"API key not valid"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	p := mustNew(t, "bad-key", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{ID: "en-US-Neural2-D"})
	if err == nil {
		t.Fatal("expected error for HTTP 403, got nil")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error %q does not mention status 403", err.Error())
	}
}

func TestSynthesize_MissingAudioContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(synthesizeResponse{})
	}))
	defer srv.Close()

	p := mustNew(t, "test-key", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{ID: "en-US-Neural2-D"})
	if err == nil {
		t.Fatal("expected error for missing audioContent, got nil")
	}
}

func TestSynthesize_InvalidBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(synthesizeResponse{AudioContent: "!!not-base64!!"})
	}))
	defer srv.Close()

	p := mustNew(t, "test-key", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{ID: "en-US-Neural2-D"})
	if err == nil {
		t.Fatal("expected error for invalid base64 audioContent, got nil")
	}
}

// ---- ListVoices ----

func TestListVoices_MockServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voicesEndpoint {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("languageCode"); got != "en-US" {
			t.Errorf("languageCode query = %q, want %q", got, "en-US")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"voices": [
				{"languageCodes": ["en-US"], "name": "en-US-Neural2-A", "ssmlGender": "FEMALE", "naturalSampleRateHertz": 24000},
				{"languageCodes": ["en-US"], "name": "en-US-Neural2-D", "ssmlGender": "MALE", "naturalSampleRateHertz": 24000}
			]
		}`))
	}))
	defer srv.Close()

	p := mustNew(t, "test-key", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}

	v := voices[0]
	if v.ID != "en-US-Neural2-A" {
		t.Errorf("voices[0].ID = %q, want %q", v.ID, "en-US-Neural2-A")
	}
	if v.Provider != "googletts" {
		t.Errorf("voices[0].Provider = %q, want %q", v.Provider, "googletts")
	}
	if v.LanguageCode != "en-US" {
		t.Errorf("voices[0].LanguageCode = %q, want %q", v.LanguageCode, "en-US")
	}
	if v.Gender != types.GenderFemale {
		t.Errorf("voices[0].Gender = %q, want %q", v.Gender, types.GenderFemale)
	}
	if voices[1].Gender != types.GenderMale {
		t.Errorf("voices[1].Gender = %q, want %q", voices[1].Gender, types.GenderMale)
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, "test-key", WithBaseURL(srv.URL))
	_, err := p.ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

// ---- parseVoicesResponse ----

func TestParseVoicesResponse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		data := []byte(`{"voices": [{"languageCodes": ["en-GB"], "name": "en-GB-Wavenet-B", "ssmlGender": "MALE", "naturalSampleRateHertz": 24000}]}`)
		voices, err := parseVoicesResponse(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(voices) != 1 {
			t.Fatalf("expected 1 voice, got %d", len(voices))
		}
		if voices[0].Metadata["natural_sample_rate_hertz"] != "24000" {
			t.Errorf("metadata sample rate = %q, want %q",
				voices[0].Metadata["natural_sample_rate_hertz"], "24000")
		}
	})

	t.Run("neutral gender for unspecified", func(t *testing.T) {
		data := []byte(`{"voices": [{"languageCodes": ["en-US"], "name": "x", "ssmlGender": "SSML_VOICE_GENDER_UNSPECIFIED"}]}`)
		voices, err := parseVoicesResponse(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if voices[0].Gender != types.GenderNeutral {
			t.Errorf("gender = %q, want %q", voices[0].Gender, types.GenderNeutral)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := parseVoicesResponse([]byte("not json"))
		if err == nil {
			t.Fatal("expected error for invalid JSON, got nil")
		}
	})

	t.Run("empty list", func(t *testing.T) {
		voices, err := parseVoicesResponse([]byte(`{"voices": []}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(voices) != 0 {
			t.Errorf("expected 0 voices, got %d", len(voices))
		}
	})
}
