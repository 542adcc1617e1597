package llm

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/MrWong99/castforge/internal/podcast"
)

// systemPrompt frames every gateway operation.
const systemPrompt = `You are the content engine of a podcast production system.
You always respond with a single JSON object matching the contract given in
the prompt. No markdown fences, no commentary, no fields beyond the contract.`

// Template parameter structs, one per operation.

type analyzeParams struct {
	SourceText   string
	CustomPrompt string
}

type researchParams struct {
	PersonName string
	SourceText string
}

type outlineParams struct {
	Analyses       []podcast.SourceAnalysis
	Personas       []podcast.PersonaResearch
	TargetWords    int
	TargetMinutes  float64
	CustomPrompt   string
	CorrectionNote string
}

type dialogueParams struct {
	Outline       *podcast.PodcastOutline
	Segment       podcast.OutlineSegment
	Speakers      map[string]string
	PriorDialogue string
	NextTurnID    int
	CustomPrompt  string
}

type repairParams struct {
	OriginalPrompt string
	BadResponse    string
	Problem        string
}

var tmplAnalyzeSource = template.Must(template.New(OpAnalyzeSource).Parse(`Analyze the following source material for a podcast episode.

Respond with this JSON contract:
{
  "summary_points": ["one headline takeaway per entry, 3 to 7 entries"],
  "detailed_analysis_text": "several paragraphs of analysis: key claims, context, notable details, points of tension worth discussing on air"
}
{{if .CustomPrompt}}
Additional direction from the requester: {{.CustomPrompt}}
{{end}}
SOURCE MATERIAL:
{{.SourceText}}`))

var tmplResearchPersona = template.Must(template.New(OpResearchPersona).Parse(`Research the person "{{.PersonName}}" as a podcast guest, using the source material below plus general knowledge.

Respond with this JSON contract:
{
  "display_name": "the person's resolved real-world name",
  "gender": "male, female or neutral — your best determination for voice casting",
  "invented_name": "a fictionalized on-air name clearly distinct from the real name",
  "detailed_profile_text": "several paragraphs: who they are, their views and voice, how they speak, what they would say about the source material"
}

SOURCE MATERIAL:
{{.SourceText}}`))

var tmplGenerateOutline = template.Must(template.New(OpGenerateOutline).Parse(`Plan a podcast episode from the analyzed sources below.

Hard requirements:
- The episode targets {{printf "%.1f" .TargetMinutes}} minutes, which is exactly {{.TargetWords}} spoken words at 150 words per minute.
- The target_word_count values of all segments MUST sum to exactly {{.TargetWords}}. Check your arithmetic before responding.
- Each segment's speaker_id must be "Host", "Narrator"{{if .Personas}} or one of: {{range $i, $p := .Personas}}{{if $i}}, {{end}}"{{$p.PersonID}}"{{end}}{{end}}.
- estimated_duration_seconds for a segment is target_word_count / 2.5.

Respond with this JSON contract:
{
  "title": "episode title",
  "summary": "two or three sentence episode summary",
  "segments": [
    {
      "segment_id": 1,
      "title": "segment title",
      "speaker_id": "lead speaker for the segment",
      "content_cue": "what the dialogue for this segment should cover",
      "target_word_count": 0,
      "estimated_duration_seconds": 0
    }
  ]
}
{{if .CustomPrompt}}
Additional direction from the requester: {{.CustomPrompt}}
{{end}}{{if .CorrectionNote}}
CORRECTION: {{.CorrectionNote}}
{{end}}
SOURCE ANALYSES:
{{range $i, $a := .Analyses}}--- Source {{$i}} ---
{{range $a.SummaryPoints}}* {{.}}
{{end}}{{$a.DetailedAnalysisText}}

{{end}}{{if .Personas}}GUEST PROFILES:
{{range .Personas}}--- {{.DisplayName}} (speaker_id "{{.PersonID}}", on-air name "{{.InventedName}}") ---
{{.DetailedProfileText}}

{{end}}{{end}}`))

var tmplGenerateDialogue = template.Must(template.New(OpGenerateDialogue).Parse(`Write the dialogue for one segment of the podcast episode "{{.Outline.Title}}".

Segment {{.Segment.SegmentID}}: {{.Segment.Title}}
Content cue: {{.Segment.ContentCue}}
Lead speaker: {{.Segment.SpeakerID}}
Word budget for this segment: {{.Segment.TargetWordCount}} words across all turns combined. Stay within 10% of it.

Available speakers (use speaker_id values exactly as given):
{{range $id, $name := .Speakers}}- speaker_id "{{$id}}" speaks as "{{$name}}"
{{end}}
Hard requirements:
- turn_id values are global across the whole episode: the first turn of this segment is {{.NextTurnID}}, and ids increase by exactly 1 per turn.
- Every turn's speaker_id must be one of the available speakers.
- source_mentions names the sources a turn draws on; use an empty array when none apply.

Respond with this JSON contract:
{
  "turns": [
    {
      "turn_id": {{.NextTurnID}},
      "speaker_id": "...",
      "text": "what the speaker says",
      "source_mentions": []
    }
  ]
}
{{if .CustomPrompt}}
Additional direction from the requester: {{.CustomPrompt}}
{{end}}{{if .PriorDialogue}}
ALREADY COVERED IN EARLIER SEGMENTS (do not repeat, flow onwards):
{{.PriorDialogue}}
{{end}}`))

var tmplRepair = template.Must(template.New("repair").Parse(`Your previous response did not satisfy the contract.

Problem: {{.Problem}}

Your previous response was:
{{.BadResponse}}

Respond again to the original request below, fixing the problem. Reply with
the corrected JSON object only.

ORIGINAL REQUEST:
{{.OriginalPrompt}}`))

// renderPrompt executes tmpl with params into a string.
func renderPrompt(tmpl *template.Template, params any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, params); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
