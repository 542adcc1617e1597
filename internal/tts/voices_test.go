package tts_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/castforge/internal/tts"
	"github.com/MrWong99/castforge/pkg/provider/tts/mock"
	"github.com/MrWong99/castforge/pkg/types"
)

func catalogProvider() *mock.Provider {
	return &mock.Provider{Voices: []types.VoiceProfile{
		{ID: "en-US-Neural2-D", Name: "en-US-Neural2-D", LanguageCode: "en-US", Gender: types.GenderMale},
		{ID: "en-US-Neural2-C", Name: "en-US-Neural2-C", LanguageCode: "en-US", Gender: types.GenderFemale},
		{ID: "en-GB-Wavenet-B", Name: "en-GB-Wavenet-B", LanguageCode: "en-GB", Gender: types.GenderMale},
		// Filtered out: legacy family.
		{ID: "en-US-Standard-A", Name: "en-US-Standard-A", LanguageCode: "en-US", Gender: types.GenderFemale},
		// Filtered out: non-English locale.
		{ID: "de-DE-Neural2-B", Name: "de-DE-Neural2-B", LanguageCode: "de-DE", Gender: types.GenderMale},
	}}
}

func TestPickVoiceIsDeterministic(t *testing.T) {
	t.Parallel()

	g := tts.New(catalogProvider(), newStore(t))
	ctx := context.Background()

	first, firstParams, err := g.PickVoice(ctx, types.GenderMale, "ada-lovelace")
	if err != nil {
		t.Fatalf("PickVoice: %v", err)
	}
	second, secondParams, err := g.PickVoice(ctx, types.GenderMale, "ada-lovelace")
	if err != nil {
		t.Fatalf("PickVoice: %v", err)
	}

	if first.ID != second.ID || firstParams.SpeakingRate != secondParams.SpeakingRate {
		t.Errorf("same person got different casting: %q/%v vs %q/%v",
			first.ID, firstParams.SpeakingRate, second.ID, secondParams.SpeakingRate)
	}
	if firstParams.SpeakingRate < 0.85 || firstParams.SpeakingRate > 1.15 {
		t.Errorf("SpeakingRate = %v, want within [0.85, 1.15]", firstParams.SpeakingRate)
	}
	if first.SpeakingRate != firstParams.SpeakingRate {
		t.Errorf("voice SpeakingRate %v != params %v", first.SpeakingRate, firstParams.SpeakingRate)
	}
}

func TestPickVoiceFiltersCatalog(t *testing.T) {
	t.Parallel()

	p := catalogProvider()
	g := tts.New(p, newStore(t))
	ctx := context.Background()

	for _, person := range []string{"a", "b", "c", "d", "e", "f"} {
		voice, _, err := g.PickVoice(ctx, types.GenderMale, person)
		if err != nil {
			t.Fatalf("PickVoice(%q): %v", person, err)
		}
		if voice.Gender != types.GenderMale {
			t.Errorf("PickVoice(%q) = %q with gender %q, want male", person, voice.ID, voice.Gender)
		}
		if strings.Contains(voice.ID, "Standard") || strings.HasPrefix(voice.ID, "de-") {
			t.Errorf("PickVoice(%q) = %q, filtered family or locale leaked through", person, voice.ID)
		}
	}

	// The catalog is listed once and cached.
	if p.ListVoicesCallCount != 1 {
		t.Errorf("ListVoices calls = %d, want 1", p.ListVoicesCallCount)
	}
}

func TestPickVoiceNeutralUsesFullCatalog(t *testing.T) {
	t.Parallel()

	g := tts.New(catalogProvider(), newStore(t))

	voice, _, err := g.PickVoice(context.Background(), types.GenderNeutral, "host")
	if err != nil {
		t.Fatalf("PickVoice: %v", err)
	}
	if voice.ID == "" {
		t.Error("neutral casting returned an empty voice")
	}
}

func TestPickVoiceFallsBackWhenCatalogUnavailable(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ListVoicesErr: errors.New("catalog down")}
	g := tts.New(p, newStore(t))

	voice, params, err := g.PickVoice(context.Background(), types.GenderFemale, "grace-hopper")
	if err != nil {
		t.Fatalf("PickVoice: %v", err)
	}
	if voice.Gender != types.GenderFemale {
		t.Errorf("fallback voice gender = %q, want female", voice.Gender)
	}
	if params.SpeakingRate < 0.85 || params.SpeakingRate > 1.15 {
		t.Errorf("SpeakingRate = %v, want within [0.85, 1.15]", params.SpeakingRate)
	}
}

func TestCatalogListsFilteredVoices(t *testing.T) {
	t.Parallel()

	g := tts.New(catalogProvider(), newStore(t))

	voices, err := g.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("Catalog returned %d voices, want 3 preferred-family English voices", len(voices))
	}
	for _, v := range voices {
		if strings.Contains(v.ID, "Standard") || strings.HasPrefix(v.ID, "de-") {
			t.Errorf("Catalog contains filtered voice %q", v.ID)
		}
	}
}
