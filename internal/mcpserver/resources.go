package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/oauth"
	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
)

// Resource MIME types.
const (
	mimeJSON = "application/json"
	mimeText = "text/plain"
	mimeMP3  = "audio/mpeg"
)

// addResources registers the read-only resource surface.
func (s *Server) addResources(srv *mcp.Server) {
	srv.AddResource(&mcp.Resource{
		URI:         "cleanup://status",
		Name:        "cleanup-status",
		Description: "Background cleanup scheduler state.",
		MIMEType:    mimeJSON,
	}, s.ReadResource)
	srv.AddResource(&mcp.Resource{
		URI:         "cleanup://config",
		Name:        "cleanup-config",
		Description: "The effective artifact retention configuration.",
		MIMEType:    mimeJSON,
	}, s.ReadResource)

	templates := []*mcp.ResourceTemplate{
		{URITemplate: "jobs://{task_id}/status", Name: "task-status", MIMEType: mimeJSON,
			Description: "Status record of one generation task."},
		{URITemplate: "jobs://{task_id}/logs", Name: "task-logs", MIMEType: mimeJSON,
			Description: "Execution log of one generation task."},
		{URITemplate: "jobs://{task_id}/warnings", Name: "task-warnings", MIMEType: mimeJSON,
			Description: "Warnings accumulated by one generation task."},
		{URITemplate: "podcast://{task_id}/outline", Name: "podcast-outline", MIMEType: mimeJSON,
			Description: "The planned episode outline."},
		{URITemplate: "podcast://{task_id}/transcript", Name: "podcast-transcript", MIMEType: mimeText,
			Description: "The rendered episode transcript."},
		{URITemplate: "podcast://{task_id}/audio", Name: "podcast-audio", MIMEType: mimeMP3,
			Description: "The stitched episode MP3."},
		{URITemplate: "podcast://{task_id}/metadata", Name: "podcast-metadata", MIMEType: mimeJSON,
			Description: "Episode metadata: title, duration, word count, warnings."},
		{URITemplate: "research://{task_id}/{person_id}", Name: "persona-research", MIMEType: mimeJSON,
			Description: "Research profile of one prominent person."},
	}
	for _, t := range templates {
		srv.AddResourceTemplate(t, s.ReadResource)
	}
}

// ReadResource serves every castforge resource URI.
func (s *Server) ReadResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if rc, ok := oauth.FromContext(ctx); ok && !rc.HasScope(oauth.ScopeRead) {
		return nil, fmt.Errorf("%s: resources require the %s scope", errInsufficientScope, oauth.ScopeRead)
	}

	uri := req.Params.URI
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed resource uri %q", errInvalidRequest, uri)
	}

	switch parsed.Scheme {
	case "cleanup":
		return s.readCleanupResource(parsed.Host + parsed.Path)
	case "jobs":
		return s.readTaskResource(ctx, uri, parsed.Host, strings.TrimPrefix(parsed.Path, "/"))
	case "podcast":
		return s.readPodcastResource(ctx, uri, parsed.Host, strings.TrimPrefix(parsed.Path, "/"))
	case "research":
		return s.readResearchResource(ctx, uri, parsed.Host, strings.TrimPrefix(parsed.Path, "/"))
	}
	return nil, mcp.ResourceNotFoundError(uri)
}

func (s *Server) readCleanupResource(which string) (*mcp.ReadResourceResult, error) {
	switch which {
	case "status":
		cfg := s.cleanup.Config()
		return jsonContents("cleanup://status", map[string]any{
			"background_enabled": cfg.EnableBackgroundCleanup,
			"policy":             cfg.Policy,
			"interval_minutes":   cfg.CleanupIntervalMinutes,
		})
	case "config":
		return jsonContents("cleanup://config", s.cleanup.Config())
	}
	return nil, mcp.ResourceNotFoundError("cleanup://" + which)
}

// readTaskResource serves the jobs:// views of a task record.
func (s *Server) readTaskResource(ctx context.Context, uri, taskID, view string) (*mcp.ReadResourceResult, error) {
	rec, err := s.taskRecord(ctx, uri, taskID)
	if err != nil {
		return nil, err
	}
	switch view {
	case "status":
		return jsonContents(uri, rec)
	case "logs":
		return jsonContents(uri, map[string]any{"task_id": rec.TaskID, "logs": rec.Logs})
	case "warnings":
		return jsonContents(uri, map[string]any{"task_id": rec.TaskID, "warnings": rec.Warnings()})
	}
	return nil, mcp.ResourceNotFoundError(uri)
}

// readPodcastResource serves the artifacts of one task. Artifacts that the
// pipeline has not produced yet map to a not_available error rather than
// not-found, so callers can distinguish "wait" from "wrong id".
func (s *Server) readPodcastResource(ctx context.Context, uri, taskID, view string) (*mcp.ReadResourceResult, error) {
	rec, err := s.taskRecord(ctx, uri, taskID)
	if err != nil {
		return nil, err
	}

	switch view {
	case "outline":
		if !rec.Artifacts.HasOutline {
			return nil, notAvailable(taskID, "outline")
		}
		return s.textArtifact(ctx, uri, artifact.OutlineKey(taskID), mimeJSON)
	case "transcript":
		if !rec.Artifacts.HasTranscript {
			return nil, notAvailable(taskID, "transcript")
		}
		return s.textArtifact(ctx, uri, artifact.TranscriptKey(taskID), mimeText)
	case "metadata":
		if !rec.Artifacts.HasMetadata {
			return nil, notAvailable(taskID, "metadata")
		}
		return s.textArtifact(ctx, uri, artifact.MetadataKey(taskID), mimeJSON)
	case "audio":
		if !rec.Artifacts.HasFinalAudio {
			return nil, notAvailable(taskID, "final audio")
		}
		data, err := s.artifacts.GetBytes(ctx, artifact.FinalEpisodeKey(taskID))
		if err != nil {
			return nil, fmt.Errorf("%s: fetch episode audio: %w", errInternal, err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: uri, MIMEType: mimeMP3, Blob: data},
			},
		}, nil
	}
	return nil, mcp.ResourceNotFoundError(uri)
}

func (s *Server) readResearchResource(ctx context.Context, uri, taskID, personID string) (*mcp.ReadResourceResult, error) {
	rec, err := s.taskRecord(ctx, uri, taskID)
	if err != nil {
		return nil, err
	}
	key, ok := rec.Artifacts.ResearchKeys[personID]
	if !ok {
		if !rec.Artifacts.HasPersonaResearch {
			return nil, notAvailable(taskID, "persona research")
		}
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return s.textArtifact(ctx, uri, key, mimeJSON)
}

// taskRecord loads a task for resource serving, mapping failures to the
// resource error taxonomy.
func (s *Server) taskRecord(ctx context.Context, uri, taskID string) (*task.Record, error) {
	if err := task.ValidateID(taskID); err != nil {
		return nil, fmt.Errorf("%s: %w", errInvalidID, err)
	}
	rec, err := s.status.Get(ctx, taskID)
	if errors.Is(err, status.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get task: %w", errInternal, err)
	}
	return rec, nil
}

func (s *Server) textArtifact(ctx context.Context, uri, key, mime string) (*mcp.ReadResourceResult, error) {
	text, err := s.artifacts.GetText(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: fetch %s: %w", errInternal, key, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: mime, Text: text},
		},
	}, nil
}

func jsonContents(uri string, v any) (*mcp.ReadResourceResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: encode resource: %w", errInternal, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: mimeJSON, Text: string(body)},
		},
	}, nil
}

func notAvailable(taskID, what string) error {
	return fmt.Errorf("%s: task %s has no %s yet", errNotAvailable, taskID, what)
}
