// Package mcpserver exposes the Castforge control surface as an MCP server:
// tools to submit, observe, cancel and clean up generation tasks, and
// read-only resources for every artifact a task produces.
//
// The server is transport-agnostic MCP on the official Go SDK, served over
// the streamable HTTP handler at /mcp. Authentication happens in front of
// it (see internal/oauth); the handlers here only enforce per-tool scopes
// from the request context.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/cleanup"
	"github.com/MrWong99/castforge/internal/oauth"
	"github.com/MrWong99/castforge/internal/observe"
	"github.com/MrWong99/castforge/internal/runner"
	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/task"
	"github.com/MrWong99/castforge/internal/tts"
	"github.com/MrWong99/castforge/pkg/types"
)

// Tool error codes, mirrored in the {error, error_description} result body.
const (
	errInvalidRequest    = "invalid_request"
	errInvalidID         = "invalid_id"
	errNotFound          = "not_found"
	errNotAvailable      = "not_available"
	errAtCapacity        = "at_capacity"
	errDuplicate         = "duplicate"
	errInsufficientScope = "insufficient_scope"
	errInternal          = "internal"
)

// Generator runs one generation task end to end. Implemented by the
// pipeline orchestrator.
type Generator interface {
	Run(ctx context.Context, taskID string, req task.Request)
}

// SpeechInfo is the slice of the TTS gateway the control surface reads.
type SpeechInfo interface {
	Catalog(ctx context.Context) ([]types.VoiceProfile, error)
	Health() tts.Health
}

// Server implements the MCP control surface.
type Server struct {
	status    status.Store
	artifacts artifact.Store
	runner    *runner.Runner
	generator Generator
	cleanup   *cleanup.Manager
	speech    SpeechInfo
	metrics   *observe.Metrics
	version   string

	buildOnce sync.Once
	mcpServer *mcp.Server
}

// Options carries the server's collaborators. All fields are required
// except Metrics and Version.
type Options struct {
	Status    status.Store
	Artifacts artifact.Store
	Runner    *runner.Runner
	Generator Generator
	Cleanup   *cleanup.Manager
	Speech    SpeechInfo
	Metrics   *observe.Metrics
	Version   string
}

// New creates a control surface server.
func New(opts Options) *Server {
	s := &Server{
		status:    opts.Status,
		artifacts: opts.Artifacts,
		runner:    opts.Runner,
		generator: opts.Generator,
		cleanup:   opts.Cleanup,
		speech:    opts.Speech,
		metrics:   opts.Metrics,
		version:   opts.Version,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.version == "" {
		s.version = "dev"
	}
	return s
}

// MCP returns the assembled MCP server, building it on first use.
func (s *Server) MCP() *mcp.Server {
	s.buildOnce.Do(func() {
		srv := mcp.NewServer(&mcp.Implementation{Name: "castforge", Version: s.version}, nil)

		mcp.AddTool(srv, &mcp.Tool{
			Name: "generate_podcast_async",
			Description: "Start an asynchronous podcast generation task from source URLs, PDFs or " +
				"YouTube links. Returns a task_id immediately; poll get_task_status until the task " +
				"is completed, then fetch the episode via the podcast:// resources. Generation " +
				"typically takes several minutes.",
		}, s.GeneratePodcast)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "get_task_status",
			Description: "Get the full status record of a generation task: phase, progress, warnings, artifact inventory, and the episode result once completed.",
		}, s.GetTaskStatus)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "cancel_task",
			Description: "Request cooperative cancellation of a running generation task. The task stops at the next phase or item boundary.",
		}, s.CancelTask)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "cleanup_task_files",
			Description: "Delete the stored artifacts of a finished task according to the active cleanup policy, or an explicit policy override.",
		}, s.CleanupTaskFiles)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "configure_cleanup_policy",
			Description: "Update the artifact retention policy at runtime. Only provided fields change; the new effective configuration is returned.",
		}, s.ConfigureCleanupPolicy)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "get_service_health",
			Description: "Report service health: worker pool, TTS gateway, task counts and cleanup scheduler state.",
		}, s.GetServiceHealth)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "list_tasks",
			Description: "List generation tasks, newest first, with paging.",
		}, s.ListTasks)
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "list_voices",
			Description: "List the TTS voices available for casting, optionally filtered by gender.",
		}, s.ListVoices)

		s.addResources(srv)
		s.mcpServer = srv
	})
	return s.mcpServer
}

// Handler returns the streamable HTTP handler serving the MCP surface.
// Mount it at /mcp behind the auth middleware.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.MCP()
	}, nil)
}

// requireScope returns a tool error result when the caller lacks the scope.
// Requests without a request context come from a trusted surface (the auth
// middleware was not mounted, e.g. local stdio) and pass.
func requireScope(ctx context.Context, scope string) *mcp.CallToolResult {
	rc, ok := oauth.FromContext(ctx)
	if !ok {
		return nil
	}
	if !rc.HasScope(scope) {
		return toolError(errInsufficientScope,
			fmt.Sprintf("this operation requires the %s scope", scope))
	}
	return nil
}

// observeTool records tool latency; call as defer s.observeTool(name)().
func (s *Server) observeTool(name string) func() {
	start := time.Now()
	return func() {
		s.metrics.ToolDuration.Record(context.Background(), time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", name)))
	}
}

// toolError is the Result-style error mapping: the call succeeds at the
// protocol level and carries {error, error_description} with IsError set.
func toolError(code, description string) *mcp.CallToolResult {
	body, _ := json.Marshal(map[string]string{
		"error":             code,
		"error_description": description,
	})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}
}

// jsonResult marshals v into a text content result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(errInternal, fmt.Sprintf("encode result: %v", err)), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}, nil, nil
}
