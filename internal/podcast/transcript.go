package podcast

import "strings"

// RenderTranscript renders the episode transcript: a title header followed by
// every dialogue turn in canonical turn order, one "Speaker: text" line per
// turn. speakerNames maps speaker ids to on-air display names; ids without a
// mapping (the built-in Host and Narrator) are rendered as-is.
func RenderTranscript(outline *PodcastOutline, turns []DialogueTurn, speakerNames map[string]string) string {
	var b strings.Builder

	title := strings.TrimSpace(outline.Title)
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("=", len(title)))
		b.WriteString("\n\n")
	}
	if summary := strings.TrimSpace(outline.Summary); summary != "" {
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	for _, turn := range turns {
		name := turn.SpeakerID
		if display, ok := speakerNames[turn.SpeakerID]; ok && display != "" {
			name = display
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(turn.Text))
		b.WriteByte('\n')
	}

	return b.String()
}
