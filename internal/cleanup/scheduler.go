package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/castforge/internal/config"
	"github.com/MrWong99/castforge/internal/task"
)

// RunScheduler loops until ctx is cancelled, sweeping terminal tasks on the
// configured interval. The gate flag and interval are re-read every tick,
// so runtime reconfiguration takes effect without a restart.
func (m *Manager) RunScheduler(ctx context.Context) {
	slog.Info("cleanup scheduler started")
	defer slog.Info("cleanup scheduler stopped")

	for {
		interval := m.interval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		cfg := m.Config()
		if !cfg.EnableBackgroundCleanup {
			continue
		}
		m.sweep(ctx, cfg)
	}
}

func (m *Manager) interval() time.Duration {
	cfg := m.Config()
	if cfg.CleanupIntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
}

// sweep applies the policy to every terminal task that still holds
// removable artifacts.
func (m *Manager) sweep(ctx context.Context, cfg *config.CleanupConfig) {
	records, _, err := m.status.List(ctx, 0, 0)
	if err != nil {
		slog.Warn("cleanup sweep: list tasks failed", "error", err)
		return
	}

	now := time.Now()
	p := planFor(cfg)
	cleaned := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if !rec.Status.Terminal() {
			continue
		}
		if !ShouldCleanupNow(cfg, rec.LastUpdatedAt, now) {
			continue
		}
		if !hasRemovable(rec, p) {
			continue
		}
		if _, err := m.CleanupTask(ctx, rec.TaskID, nil); err != nil {
			slog.Warn("cleanup sweep: task cleanup failed",
				"task_id", rec.TaskID, "error", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		slog.Info("cleanup sweep finished", "tasks_cleaned", cleaned)
	}
}

// hasRemovable reports whether the record still holds artifacts in any
// class the plan removes, so already-swept tasks are skipped.
func hasRemovable(rec *task.Record, p plan) bool {
	a := rec.Artifacts
	switch {
	case p.segments && a.HasAudioSegments:
		return true
	case p.intermediates && (a.HasSourceAnalyses || a.HasPersonaResearch || a.HasOutline || a.HasDialogue):
		return true
	case p.transcripts && (a.HasTranscript || a.HasMetadata):
		return true
	case p.finalAudio && a.HasFinalAudio:
		return true
	}
	return false
}
