// Package podcast defines the content domain model for Castforge.
//
// The types here trace one generation run through its content stages:
// extracted source text, per-source analysis, persona research, the episode
// outline, and the dialogue turns that get synthesized into audio. The LLM
// gateway decodes model output directly into these types and relies on their
// Validate methods to reject structurally broken responses before they reach
// the pipeline.
package podcast

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/castforge/pkg/types"
)

// ExtractedSource is the text pulled out of one input reference by the
// ingestor. Sources are fed to analysis in submission order and are not
// persisted individually.
type ExtractedSource struct {
	// OriginRef is the input reference as submitted (URL, PDF path, YouTube link).
	OriginRef string `json:"origin_ref"`

	// ContentText is the extracted plain text. May be empty when extraction
	// found nothing usable; the pipeline decides what that means.
	ContentText string `json:"content_text"`

	// ByteCount is the size of ContentText in bytes.
	ByteCount int `json:"byte_count"`

	// Warnings collects non-fatal extraction problems (empty captions,
	// truncated fetch, unparsable pages).
	Warnings []string `json:"warnings,omitempty"`
}

// Empty reports whether the source yielded no usable text.
func (s ExtractedSource) Empty() bool {
	return strings.TrimSpace(s.ContentText) == ""
}

// SourceAnalysis is the LLM's digest of one extracted source.
type SourceAnalysis struct {
	// SummaryPoints are the headline takeaways, one per entry.
	SummaryPoints []string `json:"summary_points"`

	// DetailedAnalysisText is the long-form analysis used as context for
	// outline and dialogue generation.
	DetailedAnalysisText string `json:"detailed_analysis_text"`
}

// Validate reports whether the analysis is structurally usable.
func (a *SourceAnalysis) Validate() error {
	var errs []error
	if len(a.SummaryPoints) == 0 {
		errs = append(errs, errors.New("summary_points must not be empty"))
	}
	for i, p := range a.SummaryPoints {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("summary_points[%d] is blank", i))
		}
	}
	if strings.TrimSpace(a.DetailedAnalysisText) == "" {
		errs = append(errs, errors.New("detailed_analysis_text must not be empty"))
	}
	return errors.Join(errs...)
}

// VoiceParams are the synthesis parameters fixed at persona-research time.
type VoiceParams struct {
	// SpeakingRate is the rate multiplier, picked from [0.85, 1.15].
	SpeakingRate float64 `json:"speaking_rate"`
}

// PersonaResearch is the researched profile of one prominent person,
// including the voice assignment that all of their dialogue turns will use.
type PersonaResearch struct {
	// PersonID is the identifier the request named this person by.
	PersonID string `json:"person_id"`

	// DisplayName is the person's resolved real-world name.
	DisplayName string `json:"display_name"`

	// Gender is normalized to male, female or neutral.
	Gender types.Gender `json:"gender"`

	// InventedName is the fictionalized on-air name the episode uses.
	InventedName string `json:"invented_name"`

	// DetailedProfileText is the long-form research used as dialogue context.
	DetailedProfileText string `json:"detailed_profile_text"`

	// TTSVoiceID and TTSVoiceParams are assigned once research completes and
	// reused for every turn the persona speaks.
	TTSVoiceID     string      `json:"tts_voice_id,omitempty"`
	TTSVoiceParams VoiceParams `json:"tts_voice_params,omitempty"`
}

// Validate reports whether the research is structurally usable. Voice fields
// are excluded: they are assigned after research, not by the model.
func (p *PersonaResearch) Validate() error {
	var errs []error
	if strings.TrimSpace(p.PersonID) == "" {
		errs = append(errs, errors.New("person_id must not be empty"))
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		errs = append(errs, errors.New("display_name must not be empty"))
	}
	switch p.Gender {
	case types.GenderMale, types.GenderFemale, types.GenderNeutral:
	default:
		errs = append(errs, fmt.Errorf("gender %q is not one of male, female, neutral", p.Gender))
	}
	if strings.TrimSpace(p.InventedName) == "" {
		errs = append(errs, errors.New("invented_name must not be empty"))
	}
	if strings.TrimSpace(p.DetailedProfileText) == "" {
		errs = append(errs, errors.New("detailed_profile_text must not be empty"))
	}
	return errors.Join(errs...)
}

// OutlineSegment is one planned episode section.
type OutlineSegment struct {
	SegmentID int    `json:"segment_id"`
	Title     string `json:"title"`

	// SpeakerID is the segment's lead speaker. Must be in the episode's
	// speaker set.
	SpeakerID string `json:"speaker_id"`

	// ContentCue tells the dialogue stage what the segment covers.
	ContentCue string `json:"content_cue"`

	// TargetWordCount is this segment's share of the episode word budget.
	TargetWordCount int `json:"target_word_count"`

	EstimatedDurationSeconds float64 `json:"estimated_duration_seconds"`
}

// PodcastOutline is the planned structure of one episode.
type PodcastOutline struct {
	Title    string           `json:"title"`
	Summary  string           `json:"summary"`
	Segments []OutlineSegment `json:"segments"`
}

// TotalWordCount sums the per-segment word targets.
func (o *PodcastOutline) TotalWordCount() int {
	total := 0
	for _, s := range o.Segments {
		total += s.TargetWordCount
	}
	return total
}

// Validate reports whether the outline is structurally usable. The word
// budget check against the requested length is the pipeline's call, not a
// structural property, so it lives there.
func (o *PodcastOutline) Validate() error {
	var errs []error
	if strings.TrimSpace(o.Title) == "" {
		errs = append(errs, errors.New("title must not be empty"))
	}
	if strings.TrimSpace(o.Summary) == "" {
		errs = append(errs, errors.New("summary must not be empty"))
	}
	if len(o.Segments) == 0 {
		errs = append(errs, errors.New("segments must not be empty"))
	}
	seen := make(map[int]bool, len(o.Segments))
	for i, s := range o.Segments {
		if s.SegmentID <= 0 {
			errs = append(errs, fmt.Errorf("segments[%d]: segment_id %d must be positive", i, s.SegmentID))
		} else if seen[s.SegmentID] {
			errs = append(errs, fmt.Errorf("segments[%d]: duplicate segment_id %d", i, s.SegmentID))
		}
		seen[s.SegmentID] = true
		if strings.TrimSpace(s.Title) == "" {
			errs = append(errs, fmt.Errorf("segments[%d]: title must not be empty", i))
		}
		if strings.TrimSpace(s.SpeakerID) == "" {
			errs = append(errs, fmt.Errorf("segments[%d]: speaker_id must not be empty", i))
		}
		if strings.TrimSpace(s.ContentCue) == "" {
			errs = append(errs, fmt.Errorf("segments[%d]: content_cue must not be empty", i))
		}
		if s.TargetWordCount <= 0 {
			errs = append(errs, fmt.Errorf("segments[%d]: target_word_count %d must be positive", i, s.TargetWordCount))
		}
	}
	return errors.Join(errs...)
}

// DialogueTurn is one spoken line of the episode. Turn ids are 1-based and
// dense across all segments; their order is the canonical rendering and
// synthesis order.
type DialogueTurn struct {
	TurnID    int    `json:"turn_id"`
	SpeakerID string `json:"speaker_id"`

	// SpeakerGender optionally overrides the speaker's default voice gender
	// for this turn. Empty means use the speaker's profile.
	SpeakerGender types.Gender `json:"speaker_gender,omitempty"`

	Text string `json:"text"`

	// SourceMentions names the sources this turn draws on.
	SourceMentions []string `json:"source_mentions,omitempty"`
}

// ValidateTurns checks a batch of dialogue turns returned for one segment:
// ids must continue the global sequence densely starting at nextID, and every
// turn needs a speaker and text.
func ValidateTurns(turns []DialogueTurn, nextID int) error {
	if len(turns) == 0 {
		return errors.New("no turns returned")
	}
	var errs []error
	for i, turn := range turns {
		if want := nextID + i; turn.TurnID != want {
			errs = append(errs, fmt.Errorf("turns[%d]: turn_id %d, want %d (dense, 1-based)", i, turn.TurnID, want))
		}
		if strings.TrimSpace(turn.SpeakerID) == "" {
			errs = append(errs, fmt.Errorf("turns[%d]: speaker_id must not be empty", i))
		}
		if strings.TrimSpace(turn.Text) == "" {
			errs = append(errs, fmt.Errorf("turns[%d]: text must not be empty", i))
		}
	}
	return errors.Join(errs...)
}

// TurnFileName is the canonical per-turn audio file name, zero-padded so
// lexical order equals turn order.
func TurnFileName(turnID int) string {
	return fmt.Sprintf("turn_%03d.mp3", turnID)
}

// CountWords counts whitespace-separated words across the given texts.
func CountWords(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(strings.Fields(t))
	}
	return n
}
