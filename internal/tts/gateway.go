// Package tts is the synthesis gateway between the pipeline and the TTS
// provider. It bounds provider concurrency with a weighted semaphore,
// guards the backend with retry behind a circuit breaker, persists each
// synthesized turn through the artifact store, and keeps the call
// statistics the service health report exposes.
package tts

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/castforge/internal/artifact"
	"github.com/MrWong99/castforge/internal/observe"
	"github.com/MrWong99/castforge/internal/resilience"
	"github.com/MrWong99/castforge/pkg/provider/tts"
	"github.com/MrWong99/castforge/pkg/types"
)

// synthesisTimeout bounds one provider call. A turn that takes longer than
// this is failed and counted against the episode's turn budget.
const synthesisTimeout = 60 * time.Second

// throughputWindow is how far back the per-minute throughput figure looks.
const throughputWindow = time.Minute

// Gateway synthesizes dialogue turns with bounded concurrency. Safe for
// concurrent use.
type Gateway struct {
	provider tts.Provider
	store    artifact.Store
	metrics  *observe.Metrics

	sem        *semaphore.Weighted
	maxWorkers int
	timeout    time.Duration
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker

	voiceMu sync.Mutex
	voices  map[types.Gender][]types.VoiceProfile

	statMu     sync.Mutex
	active     int
	queued     int
	totalCalls int64
	failed     int64
	latencySum time.Duration
	recent     []time.Time
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMaxWorkers overrides the synthesis concurrency limit.
func WithMaxWorkers(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxWorkers = n
		}
	}
}

// WithTimeout overrides the per-call synthesis timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetry overrides the provider retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *Gateway) {
		g.retry = cfg
	}
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a [Gateway] on top of the given provider and artifact store.
// The default worker limit is min(4, GOMAXPROCS).
func New(provider tts.Provider, store artifact.Store, opts ...Option) *Gateway {
	g := &Gateway{
		provider:   provider,
		store:      store,
		maxWorkers: min(4, runtime.GOMAXPROCS(0)),
		timeout:    synthesisTimeout,
		retry: resilience.RetryConfig{
			Attempts: 3,
			Base:     time.Second,
		},
		voices: make(map[types.Gender][]types.VoiceProfile),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.sem = semaphore.NewWeighted(int64(g.maxWorkers))
	g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "tts synthesize",
	})
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Synthesize converts one dialogue turn into audio and persists it under
// key. The write is durable when Synthesize returns nil; the caller may
// flip its artifact flag afterwards. Blocks while all workers are busy.
func (g *Gateway) Synthesize(ctx context.Context, text string, voice types.VoiceProfile, key string) error {
	g.enqueue()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.dequeue(false)
		return fmt.Errorf("tts: acquire worker: %w", err)
	}
	g.dequeue(true)
	g.metrics.TTSWorkersBusy.Add(ctx, 1)
	defer func() {
		g.sem.Release(1)
		g.metrics.TTSWorkersBusy.Add(ctx, -1)
		g.release()
	}()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	audio, err := g.synthesizeGuarded(callCtx, text, voice)
	elapsed := time.Since(start)

	g.metrics.TTSDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("provider", voice.Provider)))
	callStatus := "ok"
	if err != nil {
		callStatus = "error"
	}
	g.metrics.RecordProviderRequest(ctx, "tts", "synthesize", callStatus)
	g.recordCall(elapsed, err == nil)

	if err != nil {
		g.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return fmt.Errorf("tts: synthesize voice %q: %w", voice.ID, err)
	}

	if _, err := g.store.PutBytes(ctx, key, audio, artifact.ContentTypeMP3); err != nil {
		return fmt.Errorf("tts: persist %q: %w", key, err)
	}
	return nil
}

// synthesizeGuarded runs the provider call with retry around the breaker.
func (g *Gateway) synthesizeGuarded(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	cfg := g.retry
	cfg.Name = "tts synthesize"

	return resilience.RetryWithResult(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		var audio []byte
		err := g.breaker.Execute(func() error {
			var err error
			audio, err = g.provider.Synthesize(ctx, text, voice)
			if err != nil {
				return err
			}
			if len(audio) == 0 {
				return errors.New("provider returned empty audio")
			}
			return nil
		})
		return audio, err
	})
}

// Health is a point-in-time view of the gateway for the service health
// report.
type Health struct {
	MaxWorkers    int     `json:"max_workers"`
	ActiveWorkers int     `json:"active_workers"`
	QueuedCalls   int     `json:"queued_calls"`
	TotalCalls    int64   `json:"total_calls"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`

	// ThroughputPerMin counts calls finished in the last minute.
	ThroughputPerMin int `json:"throughput_per_min"`

	Breaker resilience.Snapshot `json:"breaker"`
}

// Health returns the current gateway statistics.
func (g *Gateway) Health() Health {
	g.statMu.Lock()
	defer g.statMu.Unlock()

	g.pruneRecent(time.Now())

	h := Health{
		MaxWorkers:       g.maxWorkers,
		ActiveWorkers:    g.active,
		QueuedCalls:      g.queued,
		TotalCalls:       g.totalCalls,
		SuccessRate:      1,
		ThroughputPerMin: len(g.recent),
		Breaker:          g.breaker.Snapshot(),
	}
	if g.totalCalls > 0 {
		h.SuccessRate = float64(g.totalCalls-g.failed) / float64(g.totalCalls)
		h.AvgLatencyMS = float64(g.latencySum.Milliseconds()) / float64(g.totalCalls)
	}
	return h
}

func (g *Gateway) enqueue() {
	g.statMu.Lock()
	g.queued++
	g.statMu.Unlock()
}

// dequeue moves a call out of the queue; acquired says whether it got a
// worker slot or was abandoned while waiting.
func (g *Gateway) dequeue(acquired bool) {
	g.statMu.Lock()
	g.queued--
	if acquired {
		g.active++
	}
	g.statMu.Unlock()
}

func (g *Gateway) release() {
	g.statMu.Lock()
	g.active--
	g.statMu.Unlock()
}

func (g *Gateway) recordCall(elapsed time.Duration, ok bool) {
	now := time.Now()

	g.statMu.Lock()
	defer g.statMu.Unlock()

	g.totalCalls++
	if !ok {
		g.failed++
	}
	g.latencySum += elapsed
	g.recent = append(g.recent, now)
	g.pruneRecent(now)
}

// pruneRecent drops call timestamps older than the throughput window. Must
// be called with statMu held.
func (g *Gateway) pruneRecent(now time.Time) {
	cutoff := now.Add(-throughputWindow)
	i := 0
	for i < len(g.recent) && g.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		g.recent = append(g.recent[:0], g.recent[i:]...)
	}
}
