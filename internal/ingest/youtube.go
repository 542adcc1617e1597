package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// playerResponse is the slice of ytInitialPlayerResponse the transcript
// extraction needs: video title and the available caption tracks.
type playerResponse struct {
	VideoDetails struct {
		Title string `json:"title"`
	} `json:"videoDetails"`
	Captions struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// captionTrack is one transcript track offered by the watch page.
type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`

	// Kind is "asr" for auto-generated tracks, empty for manual ones.
	Kind string `json:"kind"`
}

// timedText is the <transcript> document served by the caption base URL.
type timedText struct {
	Texts []struct {
		Content string `xml:",chardata"`
	} `xml:"text"`
}

// extractYouTube fetches a YouTube watch page, enumerates the available
// transcript tracks, and returns the decoded transcript of the best one.
// English tracks are preferred, manual over auto-generated.
func (i *Ingestor) extractYouTube(ctx context.Context, watchURL string) (string, []string, error) {
	body, _, err := i.fetch(ctx, watchURL,
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return "", nil, err
	}

	pr, err := parsePlayerResponse(body)
	if err != nil {
		return "", nil, fmt.Errorf("ingest: youtube %q: %w", watchURL, err)
	}

	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return "", nil, fmt.Errorf("ingest: youtube %q: no transcript tracks available", watchURL)
	}

	var warnings []string
	track := pickCaptionTrack(tracks)
	if !strings.HasPrefix(strings.ToLower(track.LanguageCode), "en") {
		warnings = append(warnings,
			fmt.Sprintf("no English transcript for %s; using language %q", watchURL, track.LanguageCode))
	}

	raw, _, err := i.fetch(ctx, track.BaseURL, "application/xml,text/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return "", warnings, err
	}

	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err != nil {
		return "", warnings, fmt.Errorf("ingest: youtube %q: decode transcript: %w", watchURL, err)
	}

	parts := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		// Caption text arrives entity-escaped, sometimes twice.
		s := html.UnescapeString(html.UnescapeString(t.Content))
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	transcript := strings.Join(parts, " ")

	if title := strings.TrimSpace(pr.VideoDetails.Title); title != "" && transcript != "" {
		transcript = title + "\n\n" + transcript
	}
	return transcript, warnings, nil
}

// parsePlayerResponse locates the ytInitialPlayerResponse JSON inside the
// watch page's script tags and decodes the parts the extraction needs.
func parsePlayerResponse(page []byte) (*playerResponse, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse watch page: %w", err)
	}

	const marker = "ytInitialPlayerResponse"
	var rawJSON string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.Index(text, marker)
		if idx < 0 {
			return true
		}
		start := strings.Index(text[idx:], "{")
		if start < 0 {
			return true
		}
		rawJSON = extractJSONObject(text[idx+start:])
		return rawJSON == ""
	})
	if rawJSON == "" {
		return nil, fmt.Errorf("player response not found in watch page")
	}

	var pr playerResponse
	if err := json.Unmarshal([]byte(rawJSON), &pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	return &pr, nil
}

// extractJSONObject returns the balanced JSON object starting at s[0] (which
// must be '{'), respecting string literals and escapes. Empty when the braces
// never balance.
func extractJSONObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// pickCaptionTrack orders tracks by preference — plain "en" first, then other
// English variants, then everything else, manual tracks before auto-generated
// within each group — and returns the best.
func pickCaptionTrack(tracks []captionTrack) captionTrack {
	rank := func(t captionTrack) int {
		lang := strings.ToLower(t.LanguageCode)
		r := 4
		switch {
		case lang == "en":
			r = 0
		case strings.HasPrefix(lang, "en-"), strings.HasPrefix(lang, "en_"):
			r = 2
		}
		if t.Kind == "asr" {
			r++
		}
		return r
	}

	best := tracks[0]
	bestRank := rank(best)
	for _, t := range tracks[1:] {
		if r := rank(t); r < bestRank {
			best, bestRank = t, r
		}
	}
	return best
}
