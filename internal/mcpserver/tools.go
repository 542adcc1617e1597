package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/castforge/internal/cleanup"
	"github.com/MrWong99/castforge/internal/config"
	"github.com/MrWong99/castforge/internal/oauth"
	"github.com/MrWong99/castforge/internal/podcast"
	"github.com/MrWong99/castforge/internal/runner"
	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
	"github.com/MrWong99/castforge/pkg/types"
)

// GenerateArgs is the generate_podcast_async input.
type GenerateArgs struct {
	// Sources are input references: article URLs, PDF paths/URLs, YouTube links.
	Sources []string `json:"sources"`

	// ProminentPersons are people to research and cast as additional speakers.
	ProminentPersons []string `json:"prominent_persons,omitempty"`

	// CustomPrompt is free-text guidance folded into content generation.
	CustomPrompt string `json:"custom_prompt,omitempty"`

	// PodcastLength is the requested episode length, e.g. "10 minutes".
	PodcastLength string `json:"podcast_length"`

	// WebhookURL receives a notification when the task reaches a terminal state.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// GeneratePodcast submits a new generation task and returns its id.
func (s *Server) GeneratePodcast(ctx context.Context, _ *mcp.CallToolRequest, args GenerateArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("generate_podcast_async")()
	if res := requireScope(ctx, oauth.ScopeWrite); res != nil {
		return res, nil, nil
	}

	if len(args.Sources) == 0 {
		return toolError(errInvalidRequest, "at least one source is required"), nil, nil
	}
	if _, err := podcast.ParseLength(args.PodcastLength); err != nil {
		return toolError(errInvalidRequest, fmt.Sprintf("podcast_length: %v", err)), nil, nil
	}

	req := task.Request{
		Sources:          args.Sources,
		ProminentPersons: args.ProminentPersons,
		CustomPrompt:     args.CustomPrompt,
		PodcastLength:    args.PodcastLength,
		WebhookURL:       args.WebhookURL,
	}
	taskID := "task-" + uuid.NewString()

	if err := s.status.Create(ctx, task.NewRecord(taskID, req, time.Now())); err != nil {
		if errors.Is(err, status.ErrAlreadyExists) {
			return toolError(errDuplicate, fmt.Sprintf("task %s already exists", taskID)), nil, nil
		}
		return toolError(errInternal, fmt.Sprintf("create task record: %v", err)), nil, nil
	}

	err := s.runner.Submit(taskID, func(runCtx context.Context) {
		s.generator.Run(runCtx, taskID, req)
	})
	if err != nil {
		// The record never left queued; remove it so the failed submission
		// leaves no trace.
		_ = s.status.Delete(context.WithoutCancel(ctx), taskID)
		switch {
		case errors.Is(err, runner.ErrAtCapacity), errors.Is(err, runner.ErrShutdown):
			return toolError(errAtCapacity,
				"all generation workers are busy; retry once a running task finishes"), nil, nil
		case errors.Is(err, runner.ErrDuplicate):
			return toolError(errDuplicate, err.Error()), nil, nil
		default:
			return toolError(errInternal, fmt.Sprintf("submit task: %v", err)), nil, nil
		}
	}

	return jsonResult(map[string]string{
		"task_id": taskID,
		"status":  string(task.StatusQueued),
	})
}

// TaskIDArgs selects one task by id.
type TaskIDArgs struct {
	// TaskID is the identifier returned by generate_podcast_async.
	TaskID string `json:"task_id"`
}

// GetTaskStatus returns the full task record snapshot.
func (s *Server) GetTaskStatus(ctx context.Context, _ *mcp.CallToolRequest, args TaskIDArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("get_task_status")()
	if res := requireScope(ctx, oauth.ScopeRead); res != nil {
		return res, nil, nil
	}

	rec, res := s.getRecord(ctx, args.TaskID)
	if res != nil {
		return res, nil, nil
	}
	return jsonResult(rec)
}

// CancelTask requests cooperative cancellation of a running task.
func (s *Server) CancelTask(ctx context.Context, _ *mcp.CallToolRequest, args TaskIDArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("cancel_task")()
	if res := requireScope(ctx, oauth.ScopeWrite); res != nil {
		return res, nil, nil
	}
	if err := task.ValidateID(args.TaskID); err != nil {
		return toolError(errInvalidID, err.Error()), nil, nil
	}

	result := s.runner.Cancel(args.TaskID)
	if result == runner.CancelNotFound {
		rec, res := s.getRecord(ctx, args.TaskID)
		if res != nil {
			return res, nil, nil
		}
		if rec.Status.Terminal() {
			return toolError(errNotAvailable,
				fmt.Sprintf("task %s already finished with status %s", args.TaskID, rec.Status)), nil, nil
		}
		// Known but not holding a worker slot: mark it cancelled directly.
		if err := s.status.UpdateStatus(ctx, args.TaskID, task.StatusCancelled, rec.ProgressPct, "cancelled by request"); err != nil {
			return toolError(errInternal, fmt.Sprintf("cancel task: %v", err)), nil, nil
		}
	}

	return jsonResult(map[string]string{
		"task_id":       args.TaskID,
		"cancel_result": result.String(),
	})
}

// CleanupArgs is the cleanup_task_files input.
type CleanupArgs struct {
	TaskID string `json:"task_id"`

	// PolicyOverride replaces the active cleanup policy for this one call.
	PolicyOverride *config.CleanupConfig `json:"policy_override,omitempty"`
}

// CleanupTaskFiles removes a finished task's stored artifacts.
func (s *Server) CleanupTaskFiles(ctx context.Context, _ *mcp.CallToolRequest, args CleanupArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("cleanup_task_files")()
	if res := requireScope(ctx, oauth.ScopeWrite); res != nil {
		return res, nil, nil
	}
	if err := task.ValidateID(args.TaskID); err != nil {
		return toolError(errInvalidID, err.Error()), nil, nil
	}

	result, err := s.cleanup.CleanupTask(ctx, args.TaskID, args.PolicyOverride)
	switch {
	case errors.Is(err, status.ErrNotFound):
		return toolError(errNotFound, fmt.Sprintf("task %s not found", args.TaskID)), nil, nil
	case errors.Is(err, cleanup.ErrNotTerminal):
		return toolError(errNotAvailable,
			fmt.Sprintf("task %s is still running; cancel it or wait for completion", args.TaskID)), nil, nil
	case err != nil:
		return toolError(errInternal, fmt.Sprintf("cleanup: %v", err)), nil, nil
	}

	return jsonResult(map[string]any{
		"task_id":       args.TaskID,
		"files_removed": result.FilesRemoved,
		"errors":        result.Errors,
	})
}

// ConfigureCleanupArgs updates individual cleanup policy fields. Nil fields
// keep their current value.
type ConfigureCleanupArgs struct {
	Policy                  *string `json:"policy,omitempty"`
	DelayHours              *int    `json:"delay_hours,omitempty"`
	DelayDays               *int    `json:"delay_days,omitempty"`
	CleanupIntervalMinutes  *int    `json:"cleanup_interval_minutes,omitempty"`
	EnableBackgroundCleanup *bool   `json:"enable_background_cleanup,omitempty"`
	RemoveFinalAudio        *bool   `json:"remove_final_audio,omitempty"`
	RemoveTranscripts       *bool   `json:"remove_transcripts,omitempty"`
	RemoveLLMIntermediates  *bool   `json:"remove_llm_intermediates,omitempty"`
	RemoveAudioSegments     *bool   `json:"remove_audio_segments,omitempty"`
	RemoveTempDirs          *bool   `json:"remove_temp_dirs,omitempty"`
}

// ConfigureCleanupPolicy applies a partial policy update and returns the new
// effective configuration.
func (s *Server) ConfigureCleanupPolicy(ctx context.Context, _ *mcp.CallToolRequest, args ConfigureCleanupArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("configure_cleanup_policy")()
	if res := requireScope(ctx, oauth.ScopeAdmin); res != nil {
		return res, nil, nil
	}

	cfg := s.cleanup.Config()
	if args.Policy != nil {
		cfg.Policy = config.CleanupPolicy(*args.Policy)
	}
	if args.DelayHours != nil {
		cfg.DelayHours = *args.DelayHours
	}
	if args.DelayDays != nil {
		cfg.DelayDays = *args.DelayDays
	}
	if args.CleanupIntervalMinutes != nil {
		cfg.CleanupIntervalMinutes = *args.CleanupIntervalMinutes
	}
	if args.EnableBackgroundCleanup != nil {
		cfg.EnableBackgroundCleanup = *args.EnableBackgroundCleanup
	}
	if args.RemoveFinalAudio != nil {
		cfg.RemoveFinalAudio = *args.RemoveFinalAudio
	}
	if args.RemoveTranscripts != nil {
		cfg.RemoveTranscripts = *args.RemoveTranscripts
	}
	if args.RemoveLLMIntermediates != nil {
		cfg.RemoveLLMIntermediates = *args.RemoveLLMIntermediates
	}
	if args.RemoveAudioSegments != nil {
		cfg.RemoveAudioSegments = *args.RemoveAudioSegments
	}
	if args.RemoveTempDirs != nil {
		cfg.RemoveTempDirs = *args.RemoveTempDirs
	}

	if err := s.cleanup.Reconfigure(cfg); err != nil {
		return toolError(errInvalidRequest, fmt.Sprintf("invalid cleanup policy: %v", err)), nil, nil
	}
	return jsonResult(s.cleanup.Config())
}

// HealthArgs is the get_service_health input.
type HealthArgs struct {
	// IncludeDetails adds per-task ids and breaker internals to the report.
	IncludeDetails bool `json:"include_details,omitempty"`
}

// GetServiceHealth composes the runner, TTS and status store snapshots.
func (s *Server) GetServiceHealth(ctx context.Context, _ *mcp.CallToolRequest, args HealthArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("get_service_health")()
	if res := requireScope(ctx, oauth.ScopeRead); res != nil {
		return res, nil, nil
	}

	pool := s.runner.QueueStatus()
	speech := s.speech.Health()

	counts := map[task.Status]int{}
	total := 0
	if records, n, err := s.status.List(ctx, 0, 0); err == nil {
		total = n
		for _, rec := range records {
			counts[rec.Status]++
		}
	}

	report := map[string]any{
		"status":  "ok",
		"version": s.version,
		"workers": map[string]any{
			"max":       pool.MaxWorkers,
			"active":    pool.Active,
			"available": pool.AvailableSlots,
		},
		"tts": map[string]any{
			"max_workers":        speech.MaxWorkers,
			"active_workers":     speech.ActiveWorkers,
			"queued_calls":       speech.QueuedCalls,
			"total_calls":        speech.TotalCalls,
			"success_rate":       speech.SuccessRate,
			"throughput_per_min": speech.ThroughputPerMin,
		},
		"tasks": map[string]any{
			"total":     total,
			"by_status": counts,
		},
		"cleanup": map[string]any{
			"policy":             s.cleanup.Config().Policy,
			"background_enabled": s.cleanup.Config().EnableBackgroundCleanup,
		},
	}
	if args.IncludeDetails {
		report["workers"].(map[string]any)["active_task_ids"] = pool.ActiveTaskIDs
		report["tts"].(map[string]any)["breaker"] = speech.Breaker
		report["tts"].(map[string]any)["avg_latency_ms"] = speech.AvgLatencyMS
	}
	return jsonResult(report)
}

// ListTasksArgs pages through tasks, newest first.
type ListTasksArgs struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListTasks returns task summaries, newest first.
func (s *Server) ListTasks(ctx context.Context, _ *mcp.CallToolRequest, args ListTasksArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("list_tasks")()
	if res := requireScope(ctx, oauth.ScopeRead); res != nil {
		return res, nil, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(args.Offset, 0)

	page, total, err := s.status.List(ctx, limit, offset)
	if err != nil {
		return toolError(errInternal, fmt.Sprintf("list tasks: %v", err)), nil, nil
	}

	summaries := make([]map[string]any, 0, len(page))
	for _, rec := range page {
		entry := map[string]any{
			"task_id":      rec.TaskID,
			"status":       rec.Status,
			"progress_pct": rec.ProgressPct,
			"created_at":   rec.CreatedAt,
		}
		if rec.Episode != nil {
			entry["title"] = rec.Episode.Title
			entry["audio_url"] = rec.Episode.AudioURL
		}
		if rec.Error != nil {
			entry["error"] = rec.Error.Message
		}
		summaries = append(summaries, entry)
	}

	return jsonResult(map[string]any{
		"tasks":  summaries,
		"count":  len(summaries),
		"total":  total,
		"offset": offset,
	})
}

// ListVoicesArgs optionally filters the voice catalog by gender.
type ListVoicesArgs struct {
	// Gender filters to male, female or neutral voices. Empty lists all.
	Gender string `json:"gender,omitempty"`
}

// ListVoices returns the cached TTS voice catalog.
func (s *Server) ListVoices(ctx context.Context, _ *mcp.CallToolRequest, args ListVoicesArgs) (*mcp.CallToolResult, any, error) {
	defer s.observeTool("list_voices")()
	if res := requireScope(ctx, oauth.ScopeRead); res != nil {
		return res, nil, nil
	}

	voices, err := s.speech.Catalog(ctx)
	if err != nil {
		return toolError(errInternal, fmt.Sprintf("list voices: %v", err)), nil, nil
	}

	filter := types.Gender(args.Gender)
	out := make([]map[string]any, 0, len(voices))
	for _, v := range voices {
		if filter != "" && v.Gender != filter {
			continue
		}
		out = append(out, map[string]any{
			"id":       v.ID,
			"gender":   v.Gender,
			"language": v.LanguageCode,
			"provider": v.Provider,
		})
	}
	return jsonResult(map[string]any{
		"voices": out,
		"count":  len(out),
	})
}

// getRecord fetches a record, mapping id and lookup failures to tool errors.
func (s *Server) getRecord(ctx context.Context, taskID string) (*task.Record, *mcp.CallToolResult) {
	if err := task.ValidateID(taskID); err != nil {
		return nil, toolError(errInvalidID, err.Error())
	}
	rec, err := s.status.Get(ctx, taskID)
	if errors.Is(err, status.ErrNotFound) {
		return nil, toolError(errNotFound, fmt.Sprintf("task %s not found", taskID))
	}
	if err != nil {
		return nil, toolError(errInternal, fmt.Sprintf("get task: %v", err))
	}
	return rec, nil
}
