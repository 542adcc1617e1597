package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/llm"
	"github.com/MrWong99/castforge/internal/podcast"
	"github.com/MrWong99/castforge/internal/task"
	"github.com/MrWong99/castforge/pkg/types"
)

// analysisConcurrency bounds the P2/P3 LLM fan-out. Synthesis concurrency
// is the speech gateway's concern.
const analysisConcurrency = 3

// priorDialogueBudget caps how much already-written dialogue feeds into the
// next segment's prompt.
const priorDialogueBudget = 1500

// preprocessSources extracts text from every input reference. Extraction
// problems are warnings; only a task with zero usable sources fails.
func (o *Orchestrator) preprocessSources(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusPreprocessing, "extracting source content"); err != nil {
		return FailNoUsableSources, err
	}

	sources, err := o.ingestor.Ingest(ctx, r.req.Sources)
	if err != nil {
		return FailNoUsableSources, err
	}
	r.sources = sources

	var combined strings.Builder
	usable := 0
	for _, src := range sources {
		for _, w := range src.Warnings {
			o.warn(ctx, r, fmt.Sprintf("source %s: %s", src.OriginRef, w))
		}
		if src.Empty() {
			continue
		}
		usable++
		if combined.Len() > 0 {
			combined.WriteString("\n\n---\n\n")
		}
		combined.WriteString(src.ContentText)
	}
	r.combined = combined.String()

	if usable == 0 {
		return FailNoUsableSources, fmt.Errorf("none of the %d sources yielded usable text", len(sources))
	}
	o.logInfo(ctx, r, fmt.Sprintf("extracted %d of %d sources", usable, len(sources)))
	o.tick(ctx, r, task.StatusPreprocessing, 1, 1)
	return "", nil
}

// analyzeSources digests every usable source, up to three at a time.
// Individual failures degrade to warnings; at least one analysis must
// survive.
func (o *Orchestrator) analyzeSources(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusAnalyzing, "analyzing source material"); err != nil {
		return FailAnalysis, err
	}

	var usable []podcast.ExtractedSource
	for _, src := range r.sources {
		if !src.Empty() {
			usable = append(usable, src)
		}
	}

	results := make([]*podcast.SourceAnalysis, len(usable))
	failures := make([]error, len(usable))

	var g errgroup.Group
	g.SetLimit(analysisConcurrency)
	var completed int
	var mu sync.Mutex
	for i, src := range usable {
		g.Go(func() error {
			if ctx.Err() != nil {
				failures[i] = ctx.Err()
				return nil
			}
			analysis, err := o.content.AnalyzeSource(ctx, src.ContentText, r.req.CustomPrompt)
			if err != nil {
				failures[i] = err
			} else {
				results[i] = analysis
			}
			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			o.tick(ctx, r, task.StatusAnalyzing, n, len(usable))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return FailAnalysis, err
	}

	for i, analysis := range results {
		if analysis == nil {
			o.warn(ctx, r, fmt.Sprintf("source %s: analysis failed: %v", usable[i].OriginRef, failures[i]))
			continue
		}
		r.analyses = append(r.analyses, *analysis)
	}
	if len(r.analyses) == 0 {
		return FailAnalysis, errors.New("every source analysis failed")
	}

	for i, analysis := range r.analyses {
		key := artifact.SourceAnalysisKey(r.taskID, i+1)
		if err := o.putJSON(ctx, key, analysis); err != nil {
			return FailAnalysis, err
		}
		if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
			a.HasSourceAnalyses = true
			a.SourceAnalysisKeys = append(a.SourceAnalysisKeys, key)
		}); err != nil {
			return FailAnalysis, err
		}
	}
	return "", nil
}

// researchPersonas builds the profile and voice casting for each requested
// prominent person. Skipped entirely when none were requested; otherwise at
// least one persona must survive.
func (o *Orchestrator) researchPersonas(ctx context.Context, r *run) (string, error) {
	if len(r.req.ProminentPersons) == 0 {
		return "", nil
	}
	if err := o.enterPhase(ctx, r, task.StatusResearchingPersonas, "researching prominent persons"); err != nil {
		return FailResearch, err
	}

	persons := r.req.ProminentPersons
	results := make([]*podcast.PersonaResearch, len(persons))
	failures := make([]error, len(persons))

	var g errgroup.Group
	g.SetLimit(analysisConcurrency)
	var completed int
	var mu sync.Mutex
	for i, person := range persons {
		g.Go(func() error {
			if ctx.Err() != nil {
				failures[i] = ctx.Err()
				return nil
			}
			research, err := o.content.ResearchPersona(ctx, person, r.combined)
			if err != nil {
				failures[i] = err
			} else {
				results[i] = research
			}
			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			o.tick(ctx, r, task.StatusResearchingPersonas, n, len(persons))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return FailResearch, err
	}

	for i, research := range results {
		if research == nil {
			o.warn(ctx, r, fmt.Sprintf("persona %q: research failed: %v", persons[i], failures[i]))
			continue
		}
		voice, params, err := o.speech.PickVoice(ctx, research.Gender, research.PersonID)
		if err != nil {
			o.warn(ctx, r, fmt.Sprintf("persona %q: voice casting failed: %v", research.PersonID, err))
		} else {
			research.TTSVoiceID = voice.ID
			research.TTSVoiceParams = params
		}
		r.personas = append(r.personas, research)
	}
	if len(r.personas) == 0 {
		return FailResearch, errors.New("every persona research failed")
	}

	for _, research := range r.personas {
		key := artifact.PersonaResearchKey(r.taskID, research.PersonID)
		if err := o.putJSON(ctx, key, research); err != nil {
			return FailResearch, err
		}
		if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
			a.HasPersonaResearch = true
			if a.ResearchKeys == nil {
				a.ResearchKeys = make(map[string]string)
			}
			a.ResearchKeys[research.PersonID] = key
		}); err != nil {
			return FailResearch, err
		}
	}
	return "", nil
}

// generateOutline plans the episode. The per-segment word targets must sum
// to the episode budget exactly; one correction re-prompt is allowed, a
// second violation fails the task.
func (o *Orchestrator) generateOutline(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusGeneratingOutline, "planning episode outline"); err != nil {
		return FailOutline, err
	}

	outlineReq := llm.OutlineRequest{
		Analyses:     r.analyses,
		Personas:     derefPersonas(r.personas),
		Length:       r.length,
		CustomPrompt: r.req.CustomPrompt,
	}
	outline, err := o.content.GenerateOutline(ctx, outlineReq)
	if err != nil {
		return FailOutline, err
	}

	target := r.length.TargetWords
	if got := outline.TotalWordCount(); got != target {
		o.warn(ctx, r, fmt.Sprintf("outline word sum %d deviates from target %d, re-prompting", got, target))
		outlineReq.CorrectionNote = fmt.Sprintf(
			"your previous outline's target_word_count values summed to %d words; they must sum to exactly %d", got, target)
		outline, err = o.content.GenerateOutline(ctx, outlineReq)
		if err != nil {
			return FailOutline, err
		}
		if got := outline.TotalWordCount(); got != target {
			return FailOutlineBudget, fmt.Errorf("outline word sum %d still deviates from target %d after correction", got, target)
		}
	}

	for i := range outline.Segments {
		canonical, normalized, err := r.speakers.Resolve(outline.Segments[i].SpeakerID)
		if err != nil {
			return FailOutline, fmt.Errorf("segment %d: %w", outline.Segments[i].SegmentID, err)
		}
		if normalized {
			o.warn(ctx, r, fmt.Sprintf("segment %d: speaker %q normalized to %q",
				outline.Segments[i].SegmentID, outline.Segments[i].SpeakerID, canonical))
		}
		outline.Segments[i].SpeakerID = canonical
	}

	key := artifact.OutlineKey(r.taskID)
	if err := o.putJSON(ctx, key, outline); err != nil {
		return FailOutline, err
	}
	if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
		a.HasOutline = true
		a.OutlineKey = key
	}); err != nil {
		return FailOutline, err
	}

	r.outline = outline
	o.tick(ctx, r, task.StatusGeneratingOutline, 1, 1)
	return "", nil
}

// generateDialogue writes every segment's dialogue, strictly in order so
// turn ids continue densely across segments. All-or-nothing.
func (o *Orchestrator) generateDialogue(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusGeneratingDialogue, "writing dialogue"); err != nil {
		return FailDialogue, err
	}

	r.speakerNames = map[string]string{
		podcast.SpeakerHost:     podcast.SpeakerHost,
		podcast.SpeakerNarrator: podcast.SpeakerNarrator,
	}
	for _, p := range r.personas {
		r.speakerNames[p.PersonID] = p.InventedName
	}

	nextID := 1
	var prior strings.Builder
	for i, segment := range r.outline.Segments {
		if err := ctx.Err(); err != nil {
			return FailDialogue, err
		}

		turns, err := o.content.GenerateSegmentDialogue(ctx, llm.DialogueRequest{
			Outline:       r.outline,
			Segment:       segment,
			Speakers:      r.speakerNames,
			PriorDialogue: tail(prior.String(), priorDialogueBudget),
			NextTurnID:    nextID,
			CustomPrompt:  r.req.CustomPrompt,
		})
		if err != nil {
			return FailDialogue, fmt.Errorf("segment %d: %w", segment.SegmentID, err)
		}

		for t := range turns {
			canonical, normalized, err := r.speakers.Resolve(turns[t].SpeakerID)
			if err != nil {
				return FailDialogue, fmt.Errorf("segment %d turn %d: %w", segment.SegmentID, turns[t].TurnID, err)
			}
			if normalized {
				o.warn(ctx, r, fmt.Sprintf("turn %d: speaker %q normalized to %q",
					turns[t].TurnID, turns[t].SpeakerID, canonical))
			}
			turns[t].SpeakerID = canonical
			fmt.Fprintf(&prior, "%s: %s\n", r.speakerNames[canonical], turns[t].Text)
		}

		nextID += len(turns)
		r.turns = append(r.turns, turns...)
		o.tick(ctx, r, task.StatusGeneratingDialogue, i+1, len(r.outline.Segments))
	}

	if err := podcast.ValidateTurns(r.turns, 1); err != nil {
		return FailDialogue, err
	}

	key := artifact.DialogueKey(r.taskID)
	if err := o.putJSON(ctx, key, struct {
		Turns []podcast.DialogueTurn `json:"turns"`
	}{r.turns}); err != nil {
		return FailDialogue, err
	}
	if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
		a.HasDialogue = true
		a.DialogueKey = key
	}); err != nil {
		return FailDialogue, err
	}
	return "", nil
}

// synthesizeTurns voices every dialogue turn. Concurrency is bounded by the
// speech gateway's worker pool; the episode proceeds when at least half the
// turns synthesized.
func (o *Orchestrator) synthesizeTurns(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusGeneratingAudio, "synthesizing speech"); err != nil {
		return FailSynthesis, err
	}

	voices, err := o.castVoices(ctx, r)
	if err != nil {
		return FailSynthesis, err
	}

	failures := make([]error, len(r.turns))
	var g errgroup.Group
	var completed int
	var mu sync.Mutex
	for i, turn := range r.turns {
		voice := voices[voiceCastKey(turn)]
		g.Go(func() error {
			if ctx.Err() != nil {
				failures[i] = ctx.Err()
				return nil
			}
			key := artifact.SegmentKey(r.taskID, turn.TurnID)
			err := o.speech.Synthesize(ctx, turn.Text, voice, key)
			failures[i] = err
			o.metrics.RecordTurn(context.WithoutCancel(ctx), err == nil)
			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			o.tick(ctx, r, task.StatusGeneratingAudio, n, len(r.turns))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return FailSynthesis, err
	}

	var keys []string
	for i, turn := range r.turns {
		if failures[i] != nil {
			o.warn(ctx, r, fmt.Sprintf("turn %d synthesis failed: %v", turn.TurnID, failures[i]))
			continue
		}
		key := artifact.SegmentKey(r.taskID, turn.TurnID)
		r.synthesized[turn.TurnID] = key
		keys = append(keys, key)
	}

	if len(r.synthesized)*2 < len(r.turns) {
		return FailSynthesis, fmt.Errorf("only %d of %d turns synthesized", len(r.synthesized), len(r.turns))
	}
	if missing := len(r.turns) - len(r.synthesized); missing > 0 {
		o.warn(ctx, r, fmt.Sprintf("proceeding without %d failed turns", missing))
	}

	if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
		a.HasAudioSegments = true
		a.SegmentKeys = keys
	}); err != nil {
		return FailSynthesis, err
	}
	return "", nil
}

// castVoices resolves the voice of every distinct speaker/gender pairing
// appearing in the dialogue before the synthesis fan-out starts.
func (o *Orchestrator) castVoices(ctx context.Context, r *run) (map[string]types.VoiceProfile, error) {
	personas := make(map[string]*podcast.PersonaResearch, len(r.personas))
	for _, p := range r.personas {
		personas[p.PersonID] = p
	}

	voices := make(map[string]types.VoiceProfile)
	for _, turn := range r.turns {
		key := voiceCastKey(turn)
		if _, ok := voices[key]; ok {
			continue
		}

		gender := turn.SpeakerGender
		if gender == "" {
			if p, ok := personas[turn.SpeakerID]; ok {
				gender = p.Gender
			} else {
				gender = types.GenderNeutral
			}
		}
		voice, _, err := o.speech.PickVoice(ctx, gender, turn.SpeakerID)
		if err != nil {
			return nil, fmt.Errorf("cast voice for %q: %w", turn.SpeakerID, err)
		}
		voices[key] = voice
	}
	return voices, nil
}

func voiceCastKey(turn podcast.DialogueTurn) string {
	return turn.SpeakerID + "\x00" + string(turn.SpeakerGender)
}

// stitchEpisode materializes the synthesized segments on local disk, joins
// them, and uploads the episode. All-or-nothing.
func (o *Orchestrator) stitchEpisode(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusStitchingAudio, "stitching episode audio"); err != nil {
		return FailStitching, err
	}

	segmentDir := artifact.LocalSegmentDir(o.outputRoot, r.taskID)
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		return FailStitching, fmt.Errorf("create segment dir: %w", err)
	}

	var paths []string
	for _, turn := range r.turns {
		key, ok := r.synthesized[turn.TurnID]
		if !ok {
			continue
		}
		data, err := o.artifacts.GetBytes(ctx, key)
		if err != nil {
			return FailStitching, fmt.Errorf("fetch segment %d: %w", turn.TurnID, err)
		}
		path := artifact.LocalSegmentPath(o.outputRoot, r.taskID, turn.TurnID)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return FailStitching, fmt.Errorf("materialize segment %d: %w", turn.TurnID, err)
		}
		paths = append(paths, path)
	}

	outPath := artifact.LocalFinalPath(o.outputRoot, r.taskID)
	start := time.Now()
	result, err := o.stitcher.Stitch(ctx, paths, outPath)
	if err != nil {
		return FailStitching, err
	}
	o.metrics.StitchDuration.Record(ctx, time.Since(start).Seconds())
	r.stitch = result

	final, err := os.ReadFile(outPath)
	if err != nil {
		return FailStitching, fmt.Errorf("read stitched episode: %w", err)
	}
	key := artifact.FinalEpisodeKey(r.taskID)
	url, err := o.artifacts.PutBytes(ctx, key, final, artifact.ContentTypeMP3)
	if err != nil {
		return FailStitching, fmt.Errorf("upload episode: %w", err)
	}
	r.finalAudioURL = url
	r.finalSize = int64(len(final))

	if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
		a.HasFinalAudio = true
		a.FinalAudioKey = key
	}); err != nil {
		return FailStitching, err
	}
	o.tick(ctx, r, task.StatusStitchingAudio, 1, 1)
	return "", nil
}

// episodeMetadata is the reader-facing metadata document stored alongside
// the transcript.
type episodeMetadata struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	WordCount       int       `json:"word_count"`
	SegmentCount    int       `json:"segment_count"`
	TurnCount       int       `json:"turn_count"`
	GeneratedAt     time.Time `json:"generated_at"`
	Warnings        []string  `json:"warnings,omitempty"`
}

// postprocess renders the transcript and metadata and attaches the
// finished episode to the task record.
func (o *Orchestrator) postprocess(ctx context.Context, r *run) (string, error) {
	if err := o.enterPhase(ctx, r, task.StatusPostprocessing, "rendering transcript and metadata"); err != nil {
		return FailPostprocessing, err
	}

	transcript := podcast.RenderTranscript(r.outline, r.turns, r.speakerNames)
	transcriptKey := artifact.TranscriptKey(r.taskID)
	if _, err := o.artifacts.PutText(ctx, transcriptKey, transcript, artifact.ContentTypeText); err != nil {
		return FailPostprocessing, fmt.Errorf("store transcript: %w", err)
	}
	if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
		a.HasTranscript = true
		a.TranscriptKey = transcriptKey
	}); err != nil {
		return FailPostprocessing, err
	}

	var texts []string
	for _, turn := range r.turns {
		texts = append(texts, turn.Text)
	}
	wordCount := podcast.CountWords(texts...)

	metadataKey := artifact.MetadataKey(r.taskID)
	if err := o.putJSON(ctx, metadataKey, episodeMetadata{
		Title:           r.outline.Title,
		Description:     r.outline.Summary,
		DurationSeconds: r.stitch.DurationSeconds,
		WordCount:       wordCount,
		SegmentCount:    len(r.outline.Segments),
		TurnCount:       len(r.turns),
		GeneratedAt:     time.Now().UTC(),
		Warnings:        r.warnings,
	}); err != nil {
		return FailPostprocessing, err
	}
	if err := o.status.UpdateArtifacts(ctx, r.taskID, func(a *task.Artifacts) {
		a.HasMetadata = true
		a.MetadataKey = metadataKey
	}); err != nil {
		return FailPostprocessing, err
	}

	episode := task.Episode{
		AudioURL:        r.finalAudioURL,
		DurationSeconds: r.stitch.DurationSeconds,
		WordCount:       wordCount,
		SizeBytes:       r.finalSize,
		Title:           r.outline.Title,
		Description:     r.outline.Summary,
		SegmentCount:    len(r.outline.Segments),
		TurnCount:       len(r.turns),
		Warnings:        r.warnings,
	}
	if err := o.status.SetEpisode(ctx, r.taskID, episode); err != nil {
		return FailPostprocessing, err
	}
	o.tick(ctx, r, task.StatusPostprocessing, 1, 1)
	return "", nil
}

// putJSON marshals v and stores it under key as a JSON text document.
func (o *Orchestrator) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := o.artifacts.PutText(ctx, key, string(data), artifact.ContentTypeJSON); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// derefPersonas flattens the persona pointers for the outline request.
func derefPersonas(personas []*podcast.PersonaResearch) []podcast.PersonaResearch {
	out := make([]podcast.PersonaResearch, 0, len(personas))
	for _, p := range personas {
		out = append(out, *p)
	}
	return out
}

// tail returns the last n bytes of s, cut at a line boundary when one is
// close.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}
