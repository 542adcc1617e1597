package tts

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"github.com/MrWong99/castforge/internal/podcast"
	"github.com/MrWong99/castforge/pkg/types"
)

// Voice casting prefers the high-quality English families. Standard and
// other legacy families are filtered out of the catalog.
var (
	preferredFamilies = []string{"Neural2", "Wavenet", "Studio"}
	preferredLocales  = []string{"en-US", "en-GB", "en-AU"}
)

// fallbackVoices is the hard-coded shortlist used when the provider's
// catalog cannot be listed or yields nothing usable for a gender.
var fallbackVoices = map[types.Gender][]types.VoiceProfile{
	types.GenderMale: {
		{ID: "en-US-Neural2-D", Name: "en-US-Neural2-D", LanguageCode: "en-US", Gender: types.GenderMale},
		{ID: "en-US-Neural2-J", Name: "en-US-Neural2-J", LanguageCode: "en-US", Gender: types.GenderMale},
		{ID: "en-GB-Neural2-B", Name: "en-GB-Neural2-B", LanguageCode: "en-GB", Gender: types.GenderMale},
	},
	types.GenderFemale: {
		{ID: "en-US-Neural2-C", Name: "en-US-Neural2-C", LanguageCode: "en-US", Gender: types.GenderFemale},
		{ID: "en-US-Neural2-F", Name: "en-US-Neural2-F", LanguageCode: "en-US", Gender: types.GenderFemale},
		{ID: "en-GB-Neural2-A", Name: "en-GB-Neural2-A", LanguageCode: "en-GB", Gender: types.GenderFemale},
	},
}

// PickVoice deterministically assigns a voice and speaking rate to a
// speaker. The same personID always maps to the same voice, so a speaker
// sounds identical across every turn and across re-runs of the same task.
func (g *Gateway) PickVoice(ctx context.Context, gender types.Gender, personID string) (types.VoiceProfile, podcast.VoiceParams, error) {
	voices, err := g.voicesFor(ctx, gender)
	if err != nil {
		return types.VoiceProfile{}, podcast.VoiceParams{}, err
	}

	h := fnv.New32a()
	h.Write([]byte(personID))
	sum := h.Sum32()

	voice := voices[int(sum%uint32(len(voices)))]
	// Speaking rate in [0.85, 1.15], quantized to hundredths, from the
	// upper hash bits so it varies independently of the voice index.
	rate := 0.85 + float64((sum>>8)%31)/100

	voice.SpeakingRate = rate
	return voice, podcast.VoiceParams{SpeakingRate: rate}, nil
}

// Catalog returns the filtered voice catalog the gateway casts from,
// cached after the first listing. The control surface exposes it through
// the voice-listing tool.
func (g *Gateway) Catalog(ctx context.Context) ([]types.VoiceProfile, error) {
	return g.voicesFor(ctx, types.GenderNeutral)
}

// voicesFor returns the cached catalog slice for a gender, lazily listing
// and filtering the provider's voices on first use. Neutral speakers draw
// from the full filtered catalog.
func (g *Gateway) voicesFor(ctx context.Context, gender types.Gender) ([]types.VoiceProfile, error) {
	g.voiceMu.Lock()
	defer g.voiceMu.Unlock()

	if cached, ok := g.voices[gender]; ok {
		return cached, nil
	}

	catalog, err := g.provider.ListVoices(ctx)
	if err != nil {
		slog.Warn("voice catalog unavailable, using fallback shortlist",
			"gender", gender, "error", err)
		catalog = nil
	}

	filtered := filterVoices(catalog, gender)
	if len(filtered) == 0 {
		filtered = fallbackFor(gender)
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("tts: no usable voices for gender %q", gender)
	}

	g.voices[gender] = filtered
	return filtered, nil
}

// filterVoices keeps preferred-family English voices matching the gender.
// A neutral request matches every gender.
func filterVoices(catalog []types.VoiceProfile, gender types.Gender) []types.VoiceProfile {
	var out []types.VoiceProfile
	for _, v := range catalog {
		if gender != types.GenderNeutral && v.Gender != gender {
			continue
		}
		if !preferredVoice(v) {
			continue
		}
		out = append(out, v)
	}
	// The catalog order is the provider's; sort so hash indexing is stable.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func preferredVoice(v types.VoiceProfile) bool {
	localeOK := false
	for _, loc := range preferredLocales {
		if strings.EqualFold(v.LanguageCode, loc) {
			localeOK = true
			break
		}
	}
	if !localeOK {
		return false
	}
	for _, fam := range preferredFamilies {
		if strings.Contains(v.ID, fam) || strings.Contains(v.Name, fam) {
			return true
		}
	}
	return false
}

func fallbackFor(gender types.Gender) []types.VoiceProfile {
	if gender == types.GenderNeutral {
		var all []types.VoiceProfile
		all = append(all, fallbackVoices[types.GenderFemale]...)
		all = append(all, fallbackVoices[types.GenderMale]...)
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		return all
	}
	return fallbackVoices[gender]
}
