// Package audio assembles the per-turn MP3 segments into one episode file
// by shelling out to ffmpeg. Segments are interleaved with a short silence
// gap and re-encoded to a uniform format, so heterogeneous provider output
// (different bitrates, different sample rates) concatenates cleanly.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Output encoding of the stitched episode.
const (
	sampleRate = 44100
	channels   = 1
	bitrate    = "128k"
)

// defaultSilence is the pause inserted between consecutive turns.
const defaultSilence = 500 * time.Millisecond

// stitchTimeout bounds one ffmpeg run. Even hour-long episodes re-encode in
// well under this.
const stitchTimeout = 10 * time.Minute

// ErrNoSegments is returned by Stitch when no input segments are given.
var ErrNoSegments = errors.New("audio: no segments to stitch")

// ErrFFmpegNotFound is returned when the configured ffmpeg binary cannot be
// executed.
var ErrFFmpegNotFound = errors.New("audio: ffmpeg binary not found")

// StitchResult describes one completed stitch.
type StitchResult struct {
	// OutPath is the absolute path of the stitched episode file.
	OutPath string `json:"out_path"`

	// Segments is the number of input segments joined.
	Segments int `json:"segments"`

	// DurationSeconds is the probed episode duration. Zero when probing
	// failed; probing is best-effort.
	DurationSeconds float64 `json:"duration_seconds"`
}

// Stitcher joins turn segments into one episode MP3.
type Stitcher struct {
	ffmpeg  string
	ffprobe string
	silence time.Duration
}

// Option configures a [Stitcher].
type Option func(*Stitcher)

// WithFFmpegPath overrides the ffmpeg binary path.
func WithFFmpegPath(path string) Option {
	return func(s *Stitcher) {
		if path != "" {
			s.ffmpeg = path
		}
	}
}

// WithFFprobePath overrides the ffprobe binary path.
func WithFFprobePath(path string) Option {
	return func(s *Stitcher) {
		if path != "" {
			s.ffprobe = path
		}
	}
}

// WithSilence overrides the inter-turn silence duration.
func WithSilence(d time.Duration) Option {
	return func(s *Stitcher) {
		if d > 0 {
			s.silence = d
		}
	}
}

// New creates a [Stitcher] that runs "ffmpeg" and "ffprobe" from PATH
// unless overridden.
func New(opts ...Option) *Stitcher {
	s := &Stitcher{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		silence: defaultSilence,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stitch joins segmentPaths in order into outPath, inserting silence
// between consecutive segments and re-encoding to 44.1 kHz mono 128k MP3.
// The caller decides which segments to include; Stitch fails only when
// none remain.
func (s *Stitcher) Stitch(ctx context.Context, segmentPaths []string, outPath string) (StitchResult, error) {
	if len(segmentPaths) == 0 {
		return StitchResult{}, ErrNoSegments
	}

	ctx, cancel := context.WithTimeout(ctx, stitchTimeout)
	defer cancel()

	workDir, err := os.MkdirTemp("", "castforge-stitch-*")
	if err != nil {
		return StitchResult{}, fmt.Errorf("audio: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	silencePath := filepath.Join(workDir, "silence.mp3")
	if err := s.makeSilence(ctx, silencePath); err != nil {
		return StitchResult{}, err
	}

	listPath := filepath.Join(workDir, "concat.txt")
	if err := writeConcatList(listPath, segmentPaths, silencePath); err != nil {
		return StitchResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return StitchResult{}, fmt.Errorf("audio: create output dir: %w", err)
	}

	start := time.Now()
	err = s.runFFmpeg(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-b:a", bitrate,
		"-acodec", "libmp3lame",
		outPath,
	)
	if err != nil {
		return StitchResult{}, fmt.Errorf("audio: stitch %d segments: %w", len(segmentPaths), err)
	}

	result := StitchResult{OutPath: outPath, Segments: len(segmentPaths)}
	if dur, err := s.Probe(ctx, outPath); err != nil {
		slog.Warn("episode duration probe failed", "path", outPath, "error", err)
	} else {
		result.DurationSeconds = dur
	}

	slog.Info("episode stitched",
		"segments", len(segmentPaths),
		"duration_seconds", result.DurationSeconds,
		"elapsed", time.Since(start))
	return result, nil
}

// Probe returns the duration of an audio file in seconds via ffprobe.
func (s *Stitcher) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return 0, fmt.Errorf("audio: probe %q: ffprobe binary not found", path)
		}
		return 0, fmt.Errorf("audio: probe %q: %w, stderr: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("audio: probe %q: parse duration: %w", path, err)
	}
	return dur, nil
}

// makeSilence renders the inter-turn silence clip with the output encoding,
// so concat never mixes formats.
func (s *Stitcher) makeSilence(ctx context.Context, path string) error {
	err := s.runFFmpeg(ctx,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", sampleRate),
		"-t", fmt.Sprintf("%.3f", s.silence.Seconds()),
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-b:a", bitrate,
		"-acodec", "libmp3lame",
		path,
	)
	if err != nil {
		return fmt.Errorf("audio: render silence: %w", err)
	}
	return nil
}

// writeConcatList writes the ffmpeg concat demuxer list: segments in order,
// a silence entry between each pair.
func writeConcatList(listPath string, segments []string, silencePath string) error {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			fmt.Fprintf(&b, "file '%s'\n", concatEscape(silencePath))
		}
		abs, err := filepath.Abs(seg)
		if err != nil {
			return fmt.Errorf("audio: resolve segment %q: %w", seg, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", concatEscape(abs))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("audio: write concat list: %w", err)
	}
	return nil
}

// concatEscape escapes single quotes for the concat demuxer's quoted form.
func concatEscape(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

func (s *Stitcher) runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("running ffmpeg", "args", args)

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out: %w", ctx.Err())
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return ErrFFmpegNotFound
		}
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, lastStderrLine(&stderr))
	}
	return nil
}

// lastStderrLine trims ffmpeg's banner noise down to the line that names
// the actual failure.
func lastStderrLine(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
