// Package task defines the task domain model for Castforge.
//
// A task is one asynchronous podcast generation run: submitted through the
// control surface, executed by the pipeline, and observable through the
// status store at every point of its life. The types here are the shared
// vocabulary between the runner, the pipeline, the stores, and the MCP
// surface.
package task

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task. Non-terminal states correspond
// one-to-one to pipeline phases; the three terminal states absorb all
// further transitions.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusPreprocessing       Status = "preprocessing_sources"
	StatusAnalyzing           Status = "analyzing_sources"
	StatusResearchingPersonas Status = "researching_personas"
	StatusGeneratingOutline   Status = "generating_outline"
	StatusGeneratingDialogue  Status = "generating_dialogue"
	StatusGeneratingAudio     Status = "generating_audio_segments"
	StatusStitchingAudio      Status = "stitching_audio"
	StatusPostprocessing      Status = "postprocessing_final_episode"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// phaseSeq is the forward-only phase progression. Failed and cancelled sit
// outside the sequence: they are reachable from any non-terminal state.
var phaseSeq = []Status{
	StatusQueued,
	StatusPreprocessing,
	StatusAnalyzing,
	StatusResearchingPersonas,
	StatusGeneratingOutline,
	StatusGeneratingDialogue,
	StatusGeneratingAudio,
	StatusStitchingAudio,
	StatusPostprocessing,
	StatusCompleted,
}

// phaseOrder gives each status its position in the progression. Terminal
// states share the highest ordinal so that no further movement is possible
// once one is reached.
var phaseOrder = func() map[Status]int {
	m := make(map[Status]int, len(phaseSeq)+2)
	for i, s := range phaseSeq {
		m[s] = i
	}
	m[StatusFailed] = len(phaseSeq) - 1
	m[StatusCancelled] = len(phaseSeq) - 1
	return m
}()

// entryPct is the progress anchor a task reports when it enters each phase.
var entryPct = map[Status]int{
	StatusQueued:              0,
	StatusPreprocessing:       5,
	StatusAnalyzing:           15,
	StatusResearchingPersonas: 30,
	StatusGeneratingOutline:   45,
	StatusGeneratingDialogue:  60,
	StatusGeneratingAudio:     75,
	StatusStitchingAudio:      90,
	StatusPostprocessing:      95,
	StatusCompleted:           100,
}

// IsValid reports whether s is a recognised task status.
func (s Status) IsValid() bool {
	_, ok := phaseOrder[s]
	return ok
}

// Terminal reports whether s is one of the absorbing states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// EntryPct returns the progress percentage a task reports on entering s.
// Failed and cancelled freeze progress, so they have no anchor of their own.
func (s Status) EntryPct() int {
	return entryPct[s]
}

// MaxPct returns the highest progress percentage a task may report while in
// s: one below the next phase's entry anchor, or 100 for completed.
func (s Status) MaxPct() int {
	if s == StatusCompleted {
		return 100
	}
	ord, ok := phaseOrder[s]
	if !ok || s.Terminal() {
		return entryPct[s]
	}
	return entryPct[phaseSeq[ord+1]] - 1
}

// CanTransition reports whether moving a task from one status to another is
// legal: strictly forward through the phase order, with failed and cancelled
// reachable from any non-terminal state. Terminal states absorb everything.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	return phaseOrder[to] > phaseOrder[from]
}

// MaxLogEntries caps the per-task log; older entries are dropped first.
const MaxLogEntries = 5000

// Log levels for task log entries.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// ValidateID checks the task identifier format accepted at the control
// surface: 10 to 100 characters.
func ValidateID(id string) error {
	if len(id) < 10 || len(id) > 100 {
		return fmt.Errorf("task: invalid task id %q: length must be 10-100 characters", id)
	}
	return nil
}

// Request is the submission payload for one generation run.
type Request struct {
	// Sources are the input references: URLs, PDF paths/URLs, YouTube links.
	Sources []string `json:"sources"`

	// ProminentPersons are person identifiers to research and cast as
	// dialogue speakers alongside the built-in Host and Narrator.
	ProminentPersons []string `json:"prominent_persons,omitempty"`

	// CustomPrompt is optional free-text guidance folded into content prompts.
	CustomPrompt string `json:"custom_prompt,omitempty"`

	// PodcastLength is the requested episode length, e.g. "10 minutes",
	// "90 seconds", "10-12 minutes".
	PodcastLength string `json:"podcast_length"`

	// WebhookURL, when set, receives a notification on terminal states.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// LogEntry is one timestamped line in a task's log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Artifacts tracks which derived outputs exist for a task and where they
// live. A flag is set only after the corresponding artifact has been
// persisted, so readers never see a flag pointing at nothing.
type Artifacts struct {
	HasSourceAnalyses  bool `json:"has_source_analyses"`
	HasPersonaResearch bool `json:"has_persona_research"`
	HasOutline         bool `json:"has_outline"`
	HasDialogue        bool `json:"has_dialogue"`
	HasAudioSegments   bool `json:"has_audio_segments"`
	HasFinalAudio      bool `json:"has_final_audio"`
	HasTranscript      bool `json:"has_transcript"`
	HasMetadata        bool `json:"has_metadata"`

	// Storage keys for each artifact, in the layout of the active backend.
	SourceAnalysisKeys []string          `json:"source_analysis_keys,omitempty"`
	ResearchKeys       map[string]string `json:"research_keys,omitempty"` // person_id -> key
	OutlineKey         string            `json:"outline_key,omitempty"`
	DialogueKey        string            `json:"dialogue_key,omitempty"`
	SegmentKeys        []string          `json:"segment_keys,omitempty"`
	FinalAudioKey      string            `json:"final_audio_key,omitempty"`
	TranscriptKey      string            `json:"transcript_key,omitempty"`
	MetadataKey        string            `json:"metadata_key,omitempty"`
}

// Error captures why a task failed. Message is safe to show callers;
// Detail carries the technical cause for operators.
type Error struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Episode is the final result of a completed task.
type Episode struct {
	// AudioURL locates the stitched episode in the active artifact backend.
	AudioURL string `json:"audio_url"`

	// DurationSeconds is the probed episode length. Zero when probing failed.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	WordCount    int      `json:"word_count"`
	SizeBytes    int64    `json:"size_bytes"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	SegmentCount int      `json:"segment_count"`
	TurnCount    int      `json:"turn_count"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Record is the authoritative state of one task as held by the status store.
type Record struct {
	TaskID            string    `json:"task_id"`
	Status            Status    `json:"status"`
	ProgressPct       int       `json:"progress_pct"`
	StatusDescription string    `json:"status_description"`
	CreatedAt         time.Time `json:"created_at"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`

	Request   Request    `json:"request"`
	Logs      []LogEntry `json:"logs,omitempty"`
	Artifacts Artifacts  `json:"artifacts"`
	Error     *Error     `json:"error,omitempty"`
	Episode   *Episode   `json:"result_episode,omitempty"`
}

// NewRecord builds the initial record for a freshly submitted task.
func NewRecord(taskID string, req Request, now time.Time) *Record {
	return &Record{
		TaskID:            taskID,
		Status:            StatusQueued,
		ProgressPct:       0,
		StatusDescription: "queued for processing",
		CreatedAt:         now.UTC(),
		LastUpdatedAt:     now.UTC(),
		Request:           req,
	}
}

// Clone returns a deep copy of the record. Store reads hand out clones so
// that caller mutations can never alias store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Request.Sources = append([]string(nil), r.Request.Sources...)
	out.Request.ProminentPersons = append([]string(nil), r.Request.ProminentPersons...)
	out.Logs = append([]LogEntry(nil), r.Logs...)
	out.Artifacts.SourceAnalysisKeys = append([]string(nil), r.Artifacts.SourceAnalysisKeys...)
	out.Artifacts.SegmentKeys = append([]string(nil), r.Artifacts.SegmentKeys...)
	if r.Artifacts.ResearchKeys != nil {
		out.Artifacts.ResearchKeys = make(map[string]string, len(r.Artifacts.ResearchKeys))
		for k, v := range r.Artifacts.ResearchKeys {
			out.Artifacts.ResearchKeys[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	if r.Episode != nil {
		ep := *r.Episode
		ep.Warnings = append([]string(nil), r.Episode.Warnings...)
		out.Episode = &ep
	}
	return &out
}

// AppendLog adds an entry to the record's log, dropping the oldest entries
// once the cap is reached.
func (r *Record) AppendLog(entry LogEntry) {
	r.Logs = append(r.Logs, entry)
	if over := len(r.Logs) - MaxLogEntries; over > 0 {
		r.Logs = append([]LogEntry(nil), r.Logs[over:]...)
	}
}

// Warnings collects the messages of all warning-level log entries, oldest
// first. The control surface exposes these as a task resource.
func (r *Record) Warnings() []string {
	var out []string
	for _, e := range r.Logs {
		if e.Level == LevelWarning {
			out = append(out, e.Message)
		}
	}
	return out
}
