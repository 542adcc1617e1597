package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Store key layout. Audio lives under a per-task prefix plus a stable
// final-episode key; text documents share the text/<task>/ prefix. Cleanup
// removes artifacts by these prefixes, so every key a task writes must
// fall under one of them.

// SegmentFilename returns the zero-padded file name for one dialogue turn,
// e.g. turn_007.mp3.
func SegmentFilename(turn int) string {
	return fmt.Sprintf("turn_%03d.mp3", turn)
}

// TaskAudioKey returns the key for a working audio file of a task.
func TaskAudioKey(taskID, filename string) string {
	return "podcasts/" + taskID + "/audio/" + filename
}

// SegmentKey returns the key for one synthesized dialogue turn.
func SegmentKey(taskID string, turn int) string {
	return TaskAudioKey(taskID, SegmentFilename(turn))
}

// FinalEpisodeKey returns the key of the stitched episode.
func FinalEpisodeKey(taskID string) string {
	return "episodes/final/" + taskID + ".mp3"
}

// AudioPrefix returns the prefix that covers a task's working audio files.
// The final episode sits outside it, under FinalEpisodeKey.
func AudioPrefix(taskID string) string {
	return "podcasts/" + taskID + "/"
}

// TextPrefix returns the prefix that covers a task's text documents.
func TextPrefix(taskID string) string {
	return "text/" + taskID + "/"
}

// SourceAnalysisKey returns the key for the analysis of the n-th source
// (1-based).
func SourceAnalysisKey(taskID string, n int) string {
	return fmt.Sprintf("text/%s/source_analysis_%d.json", taskID, n)
}

// PersonaResearchKey returns the key for one prominent person's research
// document. The person ID is sanitized for key safety.
func PersonaResearchKey(taskID, personID string) string {
	return "text/" + taskID + "/persona_research_" + sanitize(personID) + ".json"
}

// OutlineKey returns the key for the episode outline.
func OutlineKey(taskID string) string {
	return "text/" + taskID + "/podcast_outline.json"
}

// DialogueKey returns the key for the dialogue turn bundle.
func DialogueKey(taskID string) string {
	return "text/" + taskID + "/dialogue_turns.json"
}

// TranscriptKey returns the key for the rendered transcript.
func TranscriptKey(taskID string) string {
	return "text/" + taskID + "/transcript.txt"
}

// MetadataKey returns the key for the episode metadata document.
func MetadataKey(taskID string) string {
	return "text/" + taskID + "/episode_metadata.json"
}

// Local audio workspace. Synthesis and stitching run against real files on
// disk regardless of the active store backend; these paths name that
// scratch area under the configured output root.

// LocalTaskDir returns the scratch directory of one task.
func LocalTaskDir(root, taskID string) string {
	return filepath.Join(root, "outputs", "audio", taskID)
}

// LocalSegmentDir returns the directory holding a task's per-turn files.
func LocalSegmentDir(root, taskID string) string {
	return filepath.Join(LocalTaskDir(root, taskID), "segments")
}

// LocalSegmentPath returns the scratch path for one dialogue turn.
func LocalSegmentPath(root, taskID string, turn int) string {
	return filepath.Join(LocalSegmentDir(root, taskID), SegmentFilename(turn))
}

// LocalFinalPath returns the scratch path of the stitched episode.
func LocalFinalPath(root, taskID string) string {
	return filepath.Join(LocalTaskDir(root, taskID), "final.mp3")
}

// sanitize maps an arbitrary identifier to a key-safe form: lower case,
// spaces to underscores, everything outside [a-z0-9._-] dropped.
func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	return b.String()
}
