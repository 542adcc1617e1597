package podcast

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// Built-in speakers present in every episode regardless of requested personas.
const (
	SpeakerHost     = "Host"
	SpeakerNarrator = "Narrator"
)

const (
	// speakerSuggestThreshold is the minimum Jaro-Winkler score for a known
	// speaker to be offered as a suggestion in an error message.
	speakerSuggestThreshold = 0.70

	// speakerAcceptThreshold is the minimum Jaro-Winkler score (combined
	// with Double Metaphone agreement) for a near-miss speaker id to be
	// silently normalized instead of rejected.
	speakerAcceptThreshold = 0.85
)

// SpeakerSet is the closed set of speaker ids valid for one episode:
// the built-in Host and Narrator plus the requested persona ids. A set is
// read-only after construction and safe for concurrent use.
//
// LLMs occasionally return near-miss speaker ids ("host", "Naratar",
// "ada_lovelace" for "ada-lovelace"). Resolve accepts such ids when they are
// phonetically and textually close enough to exactly one known speaker, and
// rejects everything else with the nearest candidate named in the error.
type SpeakerSet struct {
	canonical []string
	byFolded  map[string]string
}

// NewSpeakerSet builds the speaker closure for an episode from the requested
// persona ids. Duplicate and blank persona ids are ignored.
func NewSpeakerSet(personaIDs []string) *SpeakerSet {
	s := &SpeakerSet{byFolded: make(map[string]string, len(personaIDs)+2)}
	for _, id := range append([]string{SpeakerHost, SpeakerNarrator}, personaIDs...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		folded := foldSpeakerID(id)
		if _, dup := s.byFolded[folded]; dup {
			continue
		}
		s.canonical = append(s.canonical, id)
		s.byFolded[folded] = id
	}
	return s
}

// IDs returns the canonical speaker ids in registration order.
func (s *SpeakerSet) IDs() []string {
	return append([]string(nil), s.canonical...)
}

// Contains reports whether raw resolves exactly to a known speaker.
func (s *SpeakerSet) Contains(raw string) bool {
	_, ok := s.byFolded[foldSpeakerID(raw)]
	return ok
}

// Resolve maps raw onto a canonical speaker id.
//
// Exact matches (after case folding and separator normalization) resolve
// silently. A near miss is accepted when its Double Metaphone codes overlap
// a known speaker's and the Jaro-Winkler score reaches the accept threshold
// for exactly one best candidate; normalized reports that this happened so
// the caller can log a warning. Everything else returns an error naming the
// nearest known speaker when one is plausibly close.
func (s *SpeakerSet) Resolve(raw string) (canonical string, normalized bool, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false, fmt.Errorf("podcast: empty speaker id")
	}
	if c, ok := s.byFolded[foldSpeakerID(trimmed)]; ok {
		return c, false, nil
	}

	rawCodes := metaphoneCodes(trimmed)

	type candidate struct {
		id    string
		score float64
	}
	var best, second candidate
	var nearest candidate

	for _, known := range s.canonical {
		score := speakerSimilarity(trimmed, known)
		if score > nearest.score {
			nearest = candidate{id: known, score: score}
		}
		if !codesOverlap(rawCodes, metaphoneCodes(known)) {
			continue
		}
		switch {
		case score > best.score:
			second = best
			best = candidate{id: known, score: score}
		case score > second.score:
			second = candidate{id: known, score: score}
		}
	}

	if best.score >= speakerAcceptThreshold && second.score < best.score {
		return best.id, true, nil
	}

	if nearest.score >= speakerSuggestThreshold {
		return "", false, fmt.Errorf("podcast: unknown speaker %q (closest known speaker: %q)", raw, nearest.id)
	}
	return "", false, fmt.Errorf("podcast: unknown speaker %q", raw)
}

// foldSpeakerID lowercases and unifies separators so that "ada_lovelace",
// "Ada Lovelace" and "ada-lovelace" compare equal.
func foldSpeakerID(id string) string {
	folded := strings.ToLower(strings.TrimSpace(id))
	folded = strings.ReplaceAll(folded, "_", "-")
	folded = strings.ReplaceAll(folded, " ", "-")
	return folded
}

// speakerTokens splits a speaker id into comparable word tokens.
func speakerTokens(id string) []string {
	return strings.FieldsFunc(strings.ToLower(id), func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
}

// metaphoneCodes returns the union of Double Metaphone codes over all tokens
// of the id. Empty codes are excluded.
func metaphoneCodes(id string) map[string]struct{} {
	tokens := speakerTokens(id)
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, sec := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// speakerSimilarity computes the best Jaro-Winkler score between two ids
// across three comparisons: the folded full strings, the concatenated
// tokens, and the best pairwise token score. Multi-token ids ("ada
// lovelace" vs "ada-lovelace") score high on at least one of them.
func speakerSimilarity(a, b string) float64 {
	aTokens, bTokens := speakerTokens(a), speakerTokens(b)

	score := matchr.JaroWinkler(foldSpeakerID(a), foldSpeakerID(b), false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
