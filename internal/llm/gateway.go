// Package llm is the typed gateway between the pipeline and the LLM
// provider. Each generation stage calls one operation — source analysis,
// persona research, outline, segment dialogue — and receives a validated
// domain object, never raw model text.
//
// Every operation renders a named prompt template that embeds the JSON
// response contract, sends it through the provider with retry, strips
// markdown fences, decodes strictly, and validates. A malformed or invalid
// response earns exactly one repair reprompt carrying the validation error;
// a second bad response fails the operation with an [OpError].
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/castforge/internal/observe"
	"github.com/MrWong99/castforge/internal/podcast"
	"github.com/MrWong99/castforge/internal/resilience"
	"github.com/MrWong99/castforge/pkg/provider/llm"
	"github.com/MrWong99/castforge/pkg/types"
)

// Operation names, used in errors, logs and metrics.
const (
	OpAnalyzeSource    = "analyze_source"
	OpResearchPersona  = "research_persona"
	OpGenerateOutline  = "generate_outline"
	OpGenerateDialogue = "generate_segment_dialogue"
)

// maxSourceChars caps how much source text a single prompt carries. Longer
// sources are truncated at a word boundary with a marker, keeping prompts
// inside every supported model's context window.
const maxSourceChars = 24_000

// OpError is the terminal failure of one gateway operation after retries and
// the repair reprompt are exhausted.
type OpError struct {
	// Op is one of the Op* constants.
	Op string

	// Cause is the underlying provider or validation error.
	Cause error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Op, e.Cause)
}

func (e *OpError) Unwrap() error {
	return e.Cause
}

// Gateway performs the typed LLM operations for the pipeline. Safe for
// concurrent use.
type Gateway struct {
	provider llm.Provider
	metrics  *observe.Metrics
	retry    resilience.RetryConfig
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMetrics overrides the metrics instance (tests use a manual reader).
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithRetry overrides the provider retry policy. Mainly for tests, which
// want zero backoff.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *Gateway) {
		g.retry = cfg
	}
}

// New creates a [Gateway] on top of the given provider.
func New(provider llm.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		retry: resilience.RetryConfig{
			Attempts: 3,
			Base:     time.Second,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// AnalyzeSource digests one extracted source into summary points and a
// detailed analysis.
func (g *Gateway) AnalyzeSource(ctx context.Context, sourceText, customPrompt string) (*podcast.SourceAnalysis, error) {
	prompt, err := renderPrompt(tmplAnalyzeSource, analyzeParams{
		SourceText:   truncateText(sourceText, maxSourceChars),
		CustomPrompt: customPrompt,
	})
	if err != nil {
		return nil, &OpError{Op: OpAnalyzeSource, Cause: err}
	}

	var analysis podcast.SourceAnalysis
	if err := g.completeJSON(ctx, OpAnalyzeSource, prompt, 0.3, &analysis, analysis.Validate); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// ResearchPersona builds the profile of one prominent person from the
// combined source text: display name, gender (normalized), an invented
// on-air name, and long-form research for dialogue context. Voice fields
// are left empty; the TTS gateway assigns them.
func (g *Gateway) ResearchPersona(ctx context.Context, personName, sourceText string) (*podcast.PersonaResearch, error) {
	prompt, err := renderPrompt(tmplResearchPersona, researchParams{
		PersonName: personName,
		SourceText: truncateText(sourceText, maxSourceChars),
	})
	if err != nil {
		return nil, &OpError{Op: OpResearchPersona, Cause: err}
	}

	// Decode into a loose shape first: gender needs normalizing before the
	// domain validation runs, and person_id is ours to assign, not the
	// model's.
	var raw struct {
		DisplayName         string `json:"display_name"`
		Gender              string `json:"gender"`
		InventedName        string `json:"invented_name"`
		DetailedProfileText string `json:"detailed_profile_text"`
	}
	research := &podcast.PersonaResearch{}
	validate := func() error {
		research.PersonID = personName
		research.DisplayName = raw.DisplayName
		research.Gender = types.NormalizeGender(raw.Gender)
		research.InventedName = raw.InventedName
		research.DetailedProfileText = raw.DetailedProfileText
		return research.Validate()
	}
	if err := g.completeJSON(ctx, OpResearchPersona, prompt, 0.5, &raw, validate); err != nil {
		return nil, err
	}
	return research, nil
}

// OutlineRequest carries everything the outline operation needs.
type OutlineRequest struct {
	Analyses     []podcast.SourceAnalysis
	Personas     []podcast.PersonaResearch
	Length       podcast.Length
	CustomPrompt string

	// CorrectionNote, when non-empty, is appended to the prompt. The
	// pipeline sets it on the word-budget retry, quoting the deviation.
	CorrectionNote string
}

// GenerateOutline plans the episode structure. The word budget (sum of
// per-segment targets equalling the global target) is the pipeline's
// invariant to enforce; the gateway passes the target and the optional
// correction note through.
func (g *Gateway) GenerateOutline(ctx context.Context, req OutlineRequest) (*podcast.PodcastOutline, error) {
	prompt, err := renderPrompt(tmplGenerateOutline, outlineParams{
		Analyses:       req.Analyses,
		Personas:       req.Personas,
		TargetWords:    req.Length.TargetWords,
		TargetMinutes:  req.Length.Duration.Minutes(),
		CustomPrompt:   req.CustomPrompt,
		CorrectionNote: req.CorrectionNote,
	})
	if err != nil {
		return nil, &OpError{Op: OpGenerateOutline, Cause: err}
	}

	var outline podcast.PodcastOutline
	if err := g.completeJSON(ctx, OpGenerateOutline, prompt, 0.4, &outline, outline.Validate); err != nil {
		return nil, err
	}
	return &outline, nil
}

// DialogueRequest carries everything one segment's dialogue generation needs.
type DialogueRequest struct {
	Outline *podcast.PodcastOutline
	Segment podcast.OutlineSegment

	// Speakers is the closed speaker set, id → on-air display name.
	Speakers map[string]string

	// PriorDialogue summarizes what earlier segments already covered, so
	// segments flow into each other instead of restarting the episode.
	PriorDialogue string

	// NextTurnID is the global turn id the first returned turn must carry.
	NextTurnID int

	CustomPrompt string
}

// GenerateSegmentDialogue writes the dialogue turns for one outline segment.
// Returned turn ids are validated dense, continuing the global sequence at
// req.NextTurnID.
func (g *Gateway) GenerateSegmentDialogue(ctx context.Context, req DialogueRequest) ([]podcast.DialogueTurn, error) {
	prompt, err := renderPrompt(tmplGenerateDialogue, dialogueParams{
		Outline:       req.Outline,
		Segment:       req.Segment,
		Speakers:      req.Speakers,
		PriorDialogue: truncateText(req.PriorDialogue, maxSourceChars/2),
		NextTurnID:    req.NextTurnID,
		CustomPrompt:  req.CustomPrompt,
	})
	if err != nil {
		return nil, &OpError{Op: OpGenerateDialogue, Cause: err}
	}

	var wrapper struct {
		Turns []podcast.DialogueTurn `json:"turns"`
	}
	validate := func() error {
		return podcast.ValidateTurns(wrapper.Turns, req.NextTurnID)
	}
	if err := g.completeJSON(ctx, OpGenerateDialogue, prompt, 0.8, &wrapper, validate); err != nil {
		return nil, err
	}
	return wrapper.Turns, nil
}

// completeJSON runs one prompt through the provider with retry, decodes the
// reply strictly into target, and validates. On a decode or validation
// failure it reprompts once with the error attached, then gives up.
func (g *Gateway) completeJSON(ctx context.Context, op, prompt string, temperature float64, target any, validate func() error) error {
	start := time.Now()
	defer func() {
		g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("op", op)))
	}()

	content, err := g.complete(ctx, op, prompt, temperature)
	if err != nil {
		g.metrics.RecordProviderError(ctx, "llm", op)
		return &OpError{Op: op, Cause: err}
	}

	decodeErr := decodeResponse(content, target, validate)
	if decodeErr == nil {
		return nil
	}

	// One repair attempt: show the model its own reply and what was wrong
	// with it.
	repair, err := renderPrompt(tmplRepair, repairParams{
		OriginalPrompt: prompt,
		BadResponse:    truncateText(content, maxSourceChars/4),
		Problem:        decodeErr.Error(),
	})
	if err != nil {
		return &OpError{Op: op, Cause: errors.Join(decodeErr, err)}
	}

	content, err = g.complete(ctx, op, repair, temperature)
	if err != nil {
		g.metrics.RecordProviderError(ctx, "llm", op)
		return &OpError{Op: op, Cause: err}
	}
	if err := decodeResponse(content, target, validate); err != nil {
		g.metrics.RecordProviderError(ctx, "llm", op)
		return &OpError{Op: op, Cause: fmt.Errorf("response invalid after repair reprompt: %w", err)}
	}
	return nil
}

// complete sends one prompt through the provider with the transient-retry
// policy applied.
func (g *Gateway) complete(ctx context.Context, op, prompt string, temperature float64) (string, error) {
	cfg := g.retry
	cfg.Name = "llm " + op

	resp, err := resilience.RetryWithResult(ctx, cfg, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return g.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages: []types.Message{
				{Role: "user", Content: prompt},
			},
			Temperature: temperature,
		})
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("provider returned an empty completion")
	}
	return resp.Content, nil
}

// truncateText cuts s at the last word boundary before limit and appends a
// truncation marker. Short inputs pass through untouched.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut + "\n[... truncated ...]"
}
