// Package cleanup removes the artifacts of finished tasks according to the
// configured retention policy. Cleanup runs on demand through the admin
// tool or periodically through the background scheduler; either way the
// task record survives, only its files go.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/config"
	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
)

// ErrNotTerminal is returned when cleanup is requested for a task that is
// still running.
var ErrNotTerminal = errors.New("cleanup: task is not terminal")

// Result reports one cleanup run over a single task.
type Result struct {
	FilesRemoved int      `json:"files_removed"`
	Errors       []string `json:"errors,omitempty"`
}

// Manager applies retention policies to task artifacts.
type Manager struct {
	artifacts artifact.Store
	status    status.Store

	mu         sync.RWMutex
	cfg        *config.CleanupConfig
	policyPath string
	outputRoot string
}

// Option configures a [Manager].
type Option func(*Manager)

// WithPolicyFile makes runtime reconfiguration persist to path.
func WithPolicyFile(path string) Option {
	return func(m *Manager) {
		m.policyPath = path
	}
}

// WithOutputRoot points the temp-dir class at the local audio workspace.
func WithOutputRoot(root string) Option {
	return func(m *Manager) {
		m.outputRoot = root
	}
}

// New creates a [Manager]. A nil cfg starts from the built-in defaults.
func New(artifacts artifact.Store, statusStore status.Store, cfg *config.CleanupConfig, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.DefaultCleanupConfig()
	}
	m := &Manager{
		artifacts: artifacts,
		status:    statusStore,
		cfg:       cfg.Clone(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns a copy of the active retention config.
func (m *Manager) Config() *config.CleanupConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Reconfigure validates and installs a new retention config, persisting it
// to the policy file when one is configured.
func (m *Manager) Reconfigure(cfg *config.CleanupConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cleanup: reconfigure: %w", err)
	}

	m.mu.Lock()
	m.cfg = cfg.Clone()
	path := m.policyPath
	m.mu.Unlock()

	if path != "" {
		if err := config.SaveCleanupFile(path, cfg); err != nil {
			return fmt.Errorf("cleanup: persist policy: %w", err)
		}
	}
	slog.Info("cleanup policy reconfigured", "policy", cfg.Policy)
	return nil
}

// ShouldCleanupNow reports whether a task that reached a terminal state at
// completedAt is due for cleanup under cfg at the given time. Pure; the
// scheduler and tests share it.
func ShouldCleanupNow(cfg *config.CleanupConfig, completedAt, now time.Time) bool {
	switch cfg.Policy {
	case config.CleanupOnComplete, config.CleanupRetainAudioOnly:
		return true
	case config.CleanupAfterHours, config.CleanupAfterDays:
		return now.Sub(completedAt) >= cfg.Delay()
	default:
		// manual, retain_all: never automatic.
		return false
	}
}

// plan is the set of artifact classes one cleanup run removes.
type plan struct {
	finalAudio    bool
	transcripts   bool
	intermediates bool
	segments      bool
	tempDirs      bool
}

func planFor(cfg *config.CleanupConfig) plan {
	switch cfg.Policy {
	case config.CleanupRetainAll:
		return plan{}
	case config.CleanupRetainAudioOnly:
		return plan{transcripts: true, intermediates: true, segments: true, tempDirs: true}
	default:
		return plan{
			finalAudio:    cfg.RemoveFinalAudio,
			transcripts:   cfg.RemoveTranscripts,
			intermediates: cfg.RemoveLLMIntermediates,
			segments:      cfg.RemoveAudioSegments,
			tempDirs:      cfg.RemoveTempDirs,
		}
	}
}

// CleanupTask removes the configured artifact classes of one terminal task.
// override, when non-nil, replaces the active config for this run only.
// Deletion errors are collected per file; the run keeps going and reports
// them in the result.
func (m *Manager) CleanupTask(ctx context.Context, taskID string, override *config.CleanupConfig) (Result, error) {
	rec, err := m.status.Get(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if !rec.Status.Terminal() {
		return Result{}, fmt.Errorf("%w: task %q is %s", ErrNotTerminal, taskID, rec.Status)
	}

	cfg := override
	if cfg == nil {
		cfg = m.Config()
	}
	p := planFor(cfg)

	var res Result
	fail := func(key string, err error) {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
	}

	if p.segments || p.intermediates || p.transcripts || p.finalAudio {
		m.removeStored(ctx, taskID, p, &res, fail)
	}
	if p.tempDirs && m.outputRoot != "" {
		m.removeTempDir(taskID, &res, fail)
	}

	if err := m.status.UpdateArtifacts(ctx, taskID, func(a *task.Artifacts) {
		applyPlan(a, p)
	}); err != nil {
		fail("artifacts", err)
	}

	msg := fmt.Sprintf("cleanup removed %d files (%d errors)", res.FilesRemoved, len(res.Errors))
	if err := m.status.AppendLog(ctx, taskID, task.LevelInfo, msg); err != nil {
		slog.Warn("cleanup log append failed", "task_id", taskID, "error", err)
	}
	slog.Info("task cleaned up",
		"task_id", taskID,
		"files_removed", res.FilesRemoved,
		"errors", len(res.Errors))
	return res, nil
}

// removeStored deletes the selected classes from the artifact store.
func (m *Manager) removeStored(ctx context.Context, taskID string, p plan, res *Result, fail func(string, error)) {
	del := func(key string) {
		switch err := m.artifacts.Delete(ctx, key); {
		case err == nil:
			res.FilesRemoved++
		case errors.Is(err, artifact.ErrNotFound):
			// Already gone.
		default:
			fail(key, err)
		}
	}

	if p.segments {
		keys, err := m.artifacts.List(ctx, artifact.AudioPrefix(taskID))
		if err != nil {
			fail(artifact.AudioPrefix(taskID), err)
		}
		for _, key := range keys {
			del(key)
		}
	}

	if p.intermediates || p.transcripts {
		keys, err := m.artifacts.List(ctx, artifact.TextPrefix(taskID))
		if err != nil {
			fail(artifact.TextPrefix(taskID), err)
		}
		for _, key := range keys {
			if transcriptClass(key) {
				if p.transcripts {
					del(key)
				}
			} else if p.intermediates {
				del(key)
			}
		}
	}

	if p.finalAudio {
		del(artifact.FinalEpisodeKey(taskID))
	}
}

// transcriptClass reports whether a text key belongs to the transcript
// class (reader-facing documents) rather than the LLM intermediates.
func transcriptClass(key string) bool {
	return strings.HasSuffix(key, "/transcript.txt") ||
		strings.HasSuffix(key, "/episode_metadata.json")
}

// removeTempDir deletes the task's local audio workspace, counting the
// files it held.
func (m *Manager) removeTempDir(taskID string, res *Result, fail func(string, error)) {
	dir := artifact.LocalTaskDir(m.outputRoot, taskID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return
	}

	count := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})

	if err := os.RemoveAll(dir); err != nil {
		fail(dir, err)
		return
	}
	res.FilesRemoved += count
}

// applyPlan clears the artifact flags and keys of the removed classes.
func applyPlan(a *task.Artifacts, p plan) {
	if p.segments {
		a.HasAudioSegments = false
		a.SegmentKeys = nil
	}
	if p.intermediates {
		a.HasSourceAnalyses = false
		a.HasPersonaResearch = false
		a.HasOutline = false
		a.HasDialogue = false
		a.SourceAnalysisKeys = nil
		a.ResearchKeys = nil
		a.OutlineKey = ""
		a.DialogueKey = ""
	}
	if p.transcripts {
		a.HasTranscript = false
		a.HasMetadata = false
		a.TranscriptKey = ""
		a.MetadataKey = ""
	}
	if p.finalAudio {
		a.HasFinalAudio = false
		a.FinalAudioKey = ""
	}
}
