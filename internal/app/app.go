// Package app wires all Castforge subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem, Run serves HTTP and background workers until the context is
// cancelled, and Shutdown tears everything down in reverse order.
//
// For testing, inject fakes via functional options (WithStatusStore,
// WithContentGateway, etc.). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/artifact/fs"
	"github.com/MrWong99/castforge/internal/artifact/s3"
	"github.com/MrWong99/castforge/internal/audio"
	"github.com/MrWong99/castforge/internal/cleanup"
	"github.com/MrWong99/castforge/internal/config"
	"github.com/MrWong99/castforge/internal/health"
	"github.com/MrWong99/castforge/internal/ingest"
	llmgw "github.com/MrWong99/castforge/internal/llm"
	"github.com/MrWong99/castforge/internal/mcpserver"
	"github.com/MrWong99/castforge/internal/oauth"
	"github.com/MrWong99/castforge/internal/observe"
	"github.com/MrWong99/castforge/internal/pipeline"
	"github.com/MrWong99/castforge/internal/resilience"
	"github.com/MrWong99/castforge/internal/runner"
	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/status/inmem"
	"github.com/MrWong99/castforge/internal/status/postgres"
	ttsgw "github.com/MrWong99/castforge/internal/tts"
	"github.com/MrWong99/castforge/internal/webhook"
	"github.com/MrWong99/castforge/pkg/provider/llm"
	"github.com/MrWong99/castforge/pkg/provider/tts"
)

// SpeechGateway is the full TTS surface the app wires: synthesis and voice
// casting for the pipeline, catalog and health for the control surface.
// *tts.Gateway implements it.
type SpeechGateway interface {
	pipeline.SpeechGateway
	mcpserver.SpeechInfo
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	// Collaborators — injected via options or created in New.
	status    status.Store
	artifacts artifact.Store
	content   pipeline.ContentGateway
	speech    SpeechGateway
	ingestor  pipeline.Ingestor
	stitcher  pipeline.Stitcher
	notifier  pipeline.Notifier
	registry  *config.Registry
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	runner       *runner.Runner
	orchestrator *pipeline.Orchestrator
	cleanup      *cleanup.Manager
	watcher      *config.Watcher
	auth         *oauth.Server
	control      *mcpserver.Server
	server       *http.Server

	// readiness checks registered on /readyz.
	checkers []health.Checker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStatusStore injects a status store instead of connecting from config.
func WithStatusStore(s status.Store) Option {
	return func(a *App) { a.status = s }
}

// WithArtifactStore injects an artifact store instead of creating one.
func WithArtifactStore(s artifact.Store) Option {
	return func(a *App) { a.artifacts = s }
}

// WithContentGateway injects the LLM content surface.
func WithContentGateway(g pipeline.ContentGateway) Option {
	return func(a *App) { a.content = g }
}

// WithSpeechGateway injects the TTS surface.
func WithSpeechGateway(g SpeechGateway) Option {
	return func(a *App) { a.speech = g }
}

// WithIngestor injects the source ingestor.
func WithIngestor(i pipeline.Ingestor) Option {
	return func(a *App) { a.ingestor = i }
}

// WithStitcher injects the audio stitcher.
func WithStitcher(s pipeline.Stitcher) Option {
	return func(a *App) { a.stitcher = s }
}

// WithNotifier injects the webhook notifier.
func WithNotifier(n pipeline.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithRegistry replaces the built-in provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithVersion sets the version reported by the MCP server and telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithMetrics injects a metrics handle instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: store connections, provider construction, gateway assembly
// and HTTP mux registration all happen before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		version: "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		registerBuiltinProviders(a.registry)
	}

	if err := a.initStatus(ctx); err != nil {
		return nil, fmt.Errorf("app: init status store: %w", err)
	}
	if err := a.initArtifacts(ctx); err != nil {
		return nil, fmt.Errorf("app: init artifact store: %w", err)
	}
	if err := a.initGateways(); err != nil {
		return nil, fmt.Errorf("app: init gateways: %w", err)
	}
	if err := a.initCleanup(); err != nil {
		return nil, fmt.Errorf("app: init cleanup: %w", err)
	}

	if a.ingestor == nil {
		a.ingestor = ingest.New()
	}
	if a.stitcher == nil {
		a.stitcher = audio.New(
			audio.WithFFmpegPath(cfg.FFmpegPath),
			audio.WithFFprobePath(cfg.FFprobePath),
		)
	}
	if a.notifier == nil {
		a.notifier = webhook.New(webhook.WithMetrics(a.metrics))
	}

	a.runner = runner.New(ctx, cfg.MaxConcurrentGenerations)
	a.orchestrator = pipeline.New(pipeline.Options{
		Status:     a.status,
		Artifacts:  a.artifacts,
		Ingestor:   a.ingestor,
		Content:    a.content,
		Speech:     a.speech,
		Stitcher:   a.stitcher,
		Notifier:   a.notifier,
		Metrics:    a.metrics,
		OutputRoot: cfg.OutputRoot,
	})

	a.auth = oauth.New(oauth.Options{
		Issuer:                 cfg.PublicBaseURL,
		APIKeys:                cfg.APIKeys,
		TrustLoopbackRedirects: cfg.TrustLoopbackRedirects,
		LocalBypass:            cfg.Local(),
	})
	a.control = mcpserver.New(mcpserver.Options{
		Status:    a.status,
		Artifacts: a.artifacts,
		Runner:    a.runner,
		Generator: a.orchestrator,
		Cleanup:   a.cleanup,
		Speech:    a.speech,
		Metrics:   a.metrics,
		Version:   a.version,
	})

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStatus connects the PostgreSQL status store, or falls back to the
// in-memory store in the local profile.
func (a *App) initStatus(ctx context.Context) error {
	if a.status != nil {
		return nil
	}

	if a.cfg.DatabaseURL == "" {
		slog.Warn("no DATABASE_URL configured; task state is in-memory and lost on restart")
		a.status = inmem.New()
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := postgres.New(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.status = status.NewCached(store)
	a.checkers = append(a.checkers, health.Checker{
		Name:  "database",
		Check: pool.Ping,
	})
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("status store connected", "backend", "postgres")
	return nil
}

// initArtifacts selects S3 when a bucket is configured, else the local
// filesystem under OUTPUT_ROOT. Either backend is wrapped in the text read
// cache, so GetText behaves the same regardless of where artifacts live.
func (a *App) initArtifacts(ctx context.Context) error {
	if a.artifacts != nil {
		return nil
	}

	if a.cfg.AudioBucket != "" {
		store, err := s3.Connect(ctx, s3.Options{Bucket: a.cfg.AudioBucket})
		if err != nil {
			return err
		}
		a.artifacts = artifact.NewCachedText(store)
		slog.Info("artifact store connected", "backend", "s3", "bucket", a.cfg.AudioBucket)
		return nil
	}

	dir := filepath.Join(a.cfg.OutputRoot, "artifacts")
	store, err := fs.New(dir)
	if err != nil {
		return err
	}
	a.artifacts = artifact.NewCachedText(store)
	slog.Info("artifact store ready", "backend", "fs", "dir", dir)
	return nil
}

// initGateways builds the LLM and TTS gateways from the provider registry
// unless both were injected. When a fallback provider is configured, the
// gateway talks to a failover chain instead of a single backend.
func (a *App) initGateways() error {
	if a.content == nil {
		p, err := buildLLMProvider(a.registry, a.cfg.Providers.LLM, a.cfg.Providers.LLMFallback)
		if err != nil {
			return err
		}
		a.content = llmgw.New(p, llmgw.WithMetrics(a.metrics))
		slog.Info("llm provider created",
			"name", a.cfg.Providers.LLM.Name, "model", a.cfg.Providers.LLM.Model)
	}

	if a.speech == nil {
		p, err := buildTTSProvider(a.registry, a.cfg.Providers.TTS, a.cfg.Providers.TTSFallback)
		if err != nil {
			return err
		}
		gw := ttsgw.New(p, a.artifacts, ttsgw.WithMetrics(a.metrics))
		a.speech = gw
		a.checkers = append(a.checkers, ttsChecker(gw))
		slog.Info("tts provider created", "name", a.cfg.Providers.TTS.Name)
	}
	return nil
}

// buildLLMProvider creates the configured LLM backend and, when a fallback
// is configured, wraps both in a failover chain. The chain presents itself
// as one provider; each backend keeps its own circuit breaker.
func buildLLMProvider(reg *config.Registry, primary, fallback config.ProviderEntry) (llm.Provider, error) {
	p, err := reg.CreateLLM(primary)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", primary.Name, err)
	}
	if fallback.Name == "" {
		return p, nil
	}
	if fallback.Name == primary.Name {
		slog.Warn("llm fallback provider equals the primary, ignoring", "name", fallback.Name)
		return p, nil
	}

	fb, err := reg.CreateLLM(fallback)
	if err != nil {
		return nil, fmt.Errorf("create llm fallback provider %q: %w", fallback.Name, err)
	}
	chain := resilience.NewLLMFallback(p, primary.Name, resilience.FallbackConfig{})
	chain.AddFallback(fallback.Name, fb)
	slog.Info("llm failover chain assembled",
		"primary", primary.Name, "fallback", fallback.Name)
	return chain, nil
}

// buildTTSProvider is the TTS counterpart of [buildLLMProvider].
func buildTTSProvider(reg *config.Registry, primary, fallback config.ProviderEntry) (tts.Provider, error) {
	p, err := reg.CreateTTS(primary)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", primary.Name, err)
	}
	if fallback.Name == "" {
		return p, nil
	}
	if fallback.Name == primary.Name {
		slog.Warn("tts fallback provider equals the primary, ignoring", "name", fallback.Name)
		return p, nil
	}

	fb, err := reg.CreateTTS(fallback)
	if err != nil {
		return nil, fmt.Errorf("create tts fallback provider %q: %w", fallback.Name, err)
	}
	chain := resilience.NewTTSFallback(p, primary.Name, resilience.FallbackConfig{})
	chain.AddFallback(fallback.Name, fb)
	slog.Info("tts failover chain assembled",
		"primary", primary.Name, "fallback", fallback.Name)
	return chain, nil
}

// ttsChecker reports the TTS gateway as not ready while its circuit breaker
// is open.
func ttsChecker(gw *ttsgw.Gateway) health.Checker {
	return health.Checker{
		Name: "tts",
		Check: func(context.Context) error {
			if h := gw.Health(); h.Breaker.State == "open" {
				return fmt.Errorf("tts circuit breaker open")
			}
			return nil
		},
	}
}

// initCleanup loads the retention policy (file or defaults), creates the
// manager, and starts the policy file watcher when a file is configured.
func (a *App) initCleanup() error {
	var (
		policy *config.CleanupConfig
		err    error
	)
	if a.cfg.CleanupPolicyFile != "" {
		policy, err = config.LoadCleanupFile(a.cfg.CleanupPolicyFile)
		if err != nil {
			return fmt.Errorf("load cleanup policy %q: %w", a.cfg.CleanupPolicyFile, err)
		}
	}

	mgrOpts := []cleanup.Option{cleanup.WithOutputRoot(a.cfg.OutputRoot)}
	if a.cfg.CleanupPolicyFile != "" {
		mgrOpts = append(mgrOpts, cleanup.WithPolicyFile(a.cfg.CleanupPolicyFile))
	}
	a.cleanup = cleanup.New(a.artifacts, a.status, policy, mgrOpts...)

	if a.cfg.CleanupPolicyFile != "" {
		w, err := config.NewWatcher(a.cfg.CleanupPolicyFile, func(_, cur *config.CleanupConfig) {
			if err := a.cleanup.Reconfigure(cur); err != nil {
				slog.Warn("cleanup policy reload rejected", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("watch cleanup policy: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}
	return nil
}

// buildHandler assembles the HTTP surface: MCP behind auth, the OAuth
// endpoints, health probes and Prometheus metrics, all wrapped in the
// request metrics middleware and CORS.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.auth.Routes(mux)
	mux.Handle("/mcp", a.auth.RequireAuth(a.control.Handler()))

	var handler http.Handler = mux
	handler = corsMiddleware(a.cfg.AllowedOrigins, handler)
	handler = observe.Middleware(a.metrics)(handler)
	return handler
}

// Handler returns the fully assembled HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP and runs the cleanup scheduler until ctx is cancelled or
// the listener fails. Call Shutdown afterwards for a graceful stop.
func (a *App) Run(ctx context.Context) error {
	go a.cleanup.RunScheduler(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// Shutdown stops the HTTP server, waits for running generation tasks, and
// tears down all subsystems in reverse-init order. Idempotent. Respects the
// context deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "error", err)
		}
		if err := a.runner.Shutdown(ctx); err != nil {
			slog.Warn("runner shutdown error", "error", err)
		}

		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// corsMiddleware answers preflight requests and stamps CORS headers for
// allowed origins. An empty allowlist disables cross-origin access.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(origins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
				h.Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
