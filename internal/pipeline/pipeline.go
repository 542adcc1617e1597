// Package pipeline drives one podcast generation task end to end: source
// extraction, analysis, persona research, outline, dialogue, synthesis,
// stitching and postprocessing. The orchestrator owns every status
// transition of a running task; collaborators (gateways, stores, the
// notifier) never touch task state themselves.
//
// Each phase persists its artifacts before flipping the matching inventory
// flag, checks for cancellation at every boundary, and degrades according
// to a fixed policy: analysis and research tolerate partial failure,
// synthesis needs at least half the turns, everything else is
// all-or-nothing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/audio"
	"github.com/MrWong99/castforge/internal/llm"
	"github.com/MrWong99/castforge/internal/observe"
	"github.com/MrWong99/castforge/internal/podcast"
	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
	"github.com/MrWong99/castforge/internal/webhook"
	"github.com/MrWong99/castforge/pkg/types"
)

// Failure codes surfaced in task.Error.Message.
const (
	FailNoUsableSources = "no_usable_sources"
	FailAnalysis        = "source_analysis_failed"
	FailResearch        = "persona_research_failed"
	FailOutline         = "outline_generation_failed"
	FailOutlineBudget   = "outline word budget"
	FailDialogue        = "dialogue_generation_failed"
	FailSynthesis       = "audio_synthesis_failed"
	FailStitching       = "audio_stitching_failed"
	FailPostprocessing  = "postprocessing_failed"
)

// Task outcomes, recorded as lifecycle metrics.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Ingestor extracts text from input references.
type Ingestor interface {
	Ingest(ctx context.Context, refs []string) ([]podcast.ExtractedSource, error)
}

// ContentGateway is the typed LLM surface the pipeline generates content
// through.
type ContentGateway interface {
	AnalyzeSource(ctx context.Context, sourceText, customPrompt string) (*podcast.SourceAnalysis, error)
	ResearchPersona(ctx context.Context, personName, sourceText string) (*podcast.PersonaResearch, error)
	GenerateOutline(ctx context.Context, req llm.OutlineRequest) (*podcast.PodcastOutline, error)
	GenerateSegmentDialogue(ctx context.Context, req llm.DialogueRequest) ([]podcast.DialogueTurn, error)
}

// SpeechGateway synthesizes dialogue turns and casts voices.
type SpeechGateway interface {
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile, key string) error
	PickVoice(ctx context.Context, gender types.Gender, personID string) (types.VoiceProfile, podcast.VoiceParams, error)
}

// Stitcher joins synthesized segments into the episode file.
type Stitcher interface {
	Stitch(ctx context.Context, segmentPaths []string, outPath string) (audio.StitchResult, error)
}

// Notifier delivers terminal webhooks.
type Notifier interface {
	NotifyTerminal(ctx context.Context, url string, payload webhook.Payload) error
}

// Orchestrator runs podcast generation tasks. Safe for concurrent use; each
// Run call is independent.
type Orchestrator struct {
	status    status.Store
	artifacts artifact.Store
	ingestor  Ingestor
	content   ContentGateway
	speech    SpeechGateway
	stitcher  Stitcher
	notifier  Notifier
	metrics   *observe.Metrics

	// outputRoot is the local scratch root for synthesis and stitching.
	outputRoot string
}

// Options carries the orchestrator's collaborators. All fields except
// Notifier are required.
type Options struct {
	Status     status.Store
	Artifacts  artifact.Store
	Ingestor   Ingestor
	Content    ContentGateway
	Speech     SpeechGateway
	Stitcher   Stitcher
	Notifier   Notifier
	Metrics    *observe.Metrics
	OutputRoot string
}

// New creates an [Orchestrator].
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		status:     opts.Status,
		artifacts:  opts.Artifacts,
		ingestor:   opts.Ingestor,
		content:    opts.Content,
		speech:     opts.Speech,
		stitcher:   opts.Stitcher,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		outputRoot: opts.OutputRoot,
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// run carries the state one task accumulates across phases.
type run struct {
	taskID string
	req    task.Request
	length podcast.Length

	speakers     *podcast.SpeakerSet
	speakerNames map[string]string

	sources  []podcast.ExtractedSource
	combined string

	analyses []podcast.SourceAnalysis
	personas []*podcast.PersonaResearch

	outline *podcast.PodcastOutline
	turns   []podcast.DialogueTurn

	// synthesized maps turn id to its stored segment key; failed turns
	// are absent.
	synthesized map[int]string

	stitch        audio.StitchResult
	finalAudioURL string
	finalSize     int64

	warnings []string
}

// Run executes the whole pipeline for one queued task. It never returns an
// error: every outcome, including failure and cancellation, is recorded in
// the status store and, when a webhook is registered, delivered to it.
func (o *Orchestrator) Run(ctx context.Context, taskID string, req task.Request) {
	o.metrics.ActiveTasks.Add(ctx, 1)
	defer o.metrics.ActiveTasks.Add(ctx, -1)

	start := time.Now()
	r := &run{taskID: taskID, req: req, synthesized: make(map[int]string)}

	outcome := o.execute(ctx, r)

	o.metrics.RecordTaskEvent(context.WithoutCancel(ctx), outcome)
	slog.Info("task finished",
		"task_id", taskID,
		"outcome", outcome,
		"elapsed", time.Since(start))

	o.notifyTerminal(context.WithoutCancel(ctx), taskID, req)
}

// execute runs the phases in order and returns the task outcome.
func (o *Orchestrator) execute(ctx context.Context, r *run) string {
	length, err := podcast.ParseLength(r.req.PodcastLength)
	if err != nil {
		return o.fail(ctx, r, "queued", "invalid podcast_length", err)
	}
	r.length = length
	r.speakers = podcast.NewSpeakerSet(r.req.ProminentPersons)

	type phase struct {
		status task.Status
		fn     func(context.Context, *run) (string, error)
	}
	phases := []phase{
		{task.StatusPreprocessing, o.preprocessSources},
		{task.StatusAnalyzing, o.analyzeSources},
		{task.StatusResearchingPersonas, o.researchPersonas},
		{task.StatusGeneratingOutline, o.generateOutline},
		{task.StatusGeneratingDialogue, o.generateDialogue},
		{task.StatusGeneratingAudio, o.synthesizeTurns},
		{task.StatusStitchingAudio, o.stitchEpisode},
		{task.StatusPostprocessing, o.postprocess},
	}

	for _, p := range phases {
		if outcome, done := o.checkCancelled(ctx, r); done {
			return outcome
		}
		phaseStart := time.Now()
		failMsg, err := p.fn(ctx, r)
		o.metrics.PhaseDuration.Record(context.WithoutCancel(ctx), time.Since(phaseStart).Seconds(),
			metric.WithAttributes(observe.Attr("phase", string(p.status))))
		if err != nil {
			if outcome, done := o.checkCancelled(ctx, r); done {
				return outcome
			}
			return o.fail(ctx, r, string(p.status), failMsg, err)
		}
	}

	if outcome, done := o.checkCancelled(ctx, r); done {
		return outcome
	}
	if err := o.status.UpdateStatus(ctx, r.taskID, task.StatusCompleted, 100, "podcast episode ready"); err != nil {
		slog.Error("completion transition failed", "task_id", r.taskID, "error", err)
		return outcomeFailed
	}
	return outcomeCompleted
}

// enterPhase transitions the task to a phase's entry anchor.
func (o *Orchestrator) enterPhase(ctx context.Context, r *run, st task.Status, description string) error {
	return o.status.UpdateStatus(ctx, r.taskID, st, st.EntryPct(), description)
}

// tick reports within-phase progress: done of total items, interpolated
// between the phase's entry anchor and its cap.
func (o *Orchestrator) tick(ctx context.Context, r *run, st task.Status, done, total int) {
	if total <= 0 {
		return
	}
	span := st.MaxPct() - st.EntryPct()
	pct := st.EntryPct() + span*done/total
	if err := o.status.UpdateStatus(ctx, r.taskID, st, pct, ""); err != nil {
		slog.Debug("progress tick dropped", "task_id", r.taskID, "error", err)
	}
}

// warn records a non-fatal problem in the task log and on the episode
// warning list.
func (o *Orchestrator) warn(ctx context.Context, r *run, msg string) {
	r.warnings = append(r.warnings, msg)
	if err := o.status.AppendLog(ctx, r.taskID, task.LevelWarning, msg); err != nil {
		slog.Warn("task warning dropped", "task_id", r.taskID, "warning", msg, "error", err)
	}
}

func (o *Orchestrator) logInfo(ctx context.Context, r *run, msg string) {
	if err := o.status.AppendLog(ctx, r.taskID, task.LevelInfo, msg); err != nil {
		slog.Debug("task log entry dropped", "task_id", r.taskID, "error", err)
	}
}

// checkCancelled handles a cancelled context: it stamps the cancellation
// marker and moves the task to cancelled exactly once.
func (o *Orchestrator) checkCancelled(ctx context.Context, r *run) (string, bool) {
	if ctx.Err() == nil {
		return "", false
	}
	bg := context.WithoutCancel(ctx)
	if err := o.status.AppendLog(bg, r.taskID, task.LevelInfo, "cancellation requested, stopping pipeline"); err != nil {
		slog.Warn("cancellation marker dropped", "task_id", r.taskID, "error", err)
	}
	if err := o.status.UpdateStatus(bg, r.taskID, task.StatusCancelled, 0, "cancelled by request"); err != nil &&
		!errors.Is(err, status.ErrTerminal) {
		slog.Error("cancellation transition failed", "task_id", r.taskID, "error", err)
	}
	return outcomeCancelled, true
}

// fail records the task error and moves the task to failed. A failure that
// races an already-terminal record (e.g. a cancel) is left alone.
func (o *Orchestrator) fail(ctx context.Context, r *run, stage, message string, cause error) string {
	taskErr := task.Error{Stage: stage, Message: message}
	if cause != nil {
		taskErr.Detail = cause.Error()
	}
	bg := context.WithoutCancel(ctx)
	if err := o.status.SetError(bg, r.taskID, taskErr); err != nil {
		if errors.Is(err, status.ErrTerminal) {
			return outcomeCancelled
		}
		slog.Error("failure transition failed", "task_id", r.taskID, "error", err)
	}
	slog.Warn("task failed",
		"task_id", r.taskID,
		"stage", stage,
		"message", message,
		"error", cause)
	return outcomeFailed
}

// notifyTerminal delivers the webhook for the task's terminal state, when
// one is registered. The outcome only reaches the task log; delivery never
// alters task status.
func (o *Orchestrator) notifyTerminal(ctx context.Context, taskID string, req task.Request) {
	if o.notifier == nil || req.WebhookURL == "" {
		return
	}
	rec, err := o.status.Get(ctx, taskID)
	if err != nil || !rec.Status.Terminal() {
		return
	}

	payload := webhook.NewPayload(rec)
	if err := o.notifier.NotifyTerminal(ctx, req.WebhookURL, payload); err != nil {
		msg := fmt.Sprintf("webhook delivery failed: %v", err)
		if logErr := o.status.AppendLog(ctx, taskID, task.LevelWarning, msg); logErr != nil {
			slog.Warn("webhook outcome dropped", "task_id", taskID, "error", logErr)
		}
		return
	}
	if err := o.status.AppendLog(ctx, taskID, task.LevelInfo, "webhook notification delivered"); err != nil {
		slog.Debug("webhook outcome dropped", "task_id", taskID, "error", err)
	}
}
