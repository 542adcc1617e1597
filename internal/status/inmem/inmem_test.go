package inmem_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/castforge/internal/status"
	"github.com/MrWong99/castforge/internal/status/inmem"
	"github.com/MrWong99/castforge/internal/task"
)

func newTestRecord(taskID string, created time.Time) *task.Record {
	return task.NewRecord(taskID, task.Request{
		Sources:          []string{"https://example.com/article"},
		ProminentPersons: []string{"grace-hopper"},
		PodcastLength:    "10 minutes",
	}, created)
}

func mustCreate(t *testing.T, s status.Store, rec *task.Record) {
	t.Helper()
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create(%q): %v", rec.TaskID, err)
	}
}

func TestCreateGetRoundtrip(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	orig := newTestRecord("roundtrip-task-1", time.Now())
	mustCreate(t, s, orig)

	got, err := s.Get(ctx, "roundtrip-task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusQueued {
		t.Errorf("status = %s, want %s", got.Status, task.StatusQueued)
	}
	if got.Request.Sources[0] != "https://example.com/article" {
		t.Errorf("request sources = %v", got.Request.Sources)
	}

	// Mutating either the input or the returned snapshot must not leak
	// into the store.
	orig.Request.Sources[0] = "mutated-input"
	got.Request.Sources[0] = "mutated-output"
	again, err := s.Get(ctx, "roundtrip-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Request.Sources[0] != "https://example.com/article" {
		t.Error("store state aliases caller-held records")
	}
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	mustCreate(t, s, newTestRecord("duplicate-task-1", time.Now()))

	err := s.Create(context.Background(), newTestRecord("duplicate-task-1", time.Now()))
	if !errors.Is(err, status.ErrAlreadyExists) {
		t.Fatalf("second Create error = %v, want ErrAlreadyExists", err)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.Get(context.Background(), "no-such-task-1")
	if !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	created := time.Now()
	mustCreate(t, s, newTestRecord("lifecycle-task-1", created))

	steps := []struct {
		to   task.Status
		pct  int
		desc string
	}{
		{task.StatusPreprocessing, 5, "fetching 1 source"},
		{task.StatusAnalyzing, 15, "analyzing sources"},
		{task.StatusGeneratingOutline, 45, "building outline"},
		{task.StatusGeneratingDialogue, 60, "writing dialogue"},
		{task.StatusGeneratingAudio, 75, "synthesizing 0/24 turns"},
		{task.StatusGeneratingAudio, 84, "synthesizing 14/24 turns"},
		{task.StatusStitchingAudio, 90, "stitching episode"},
		{task.StatusPostprocessing, 95, "writing transcript"},
		{task.StatusCompleted, 100, "done"},
	}
	for _, step := range steps {
		if err := s.UpdateStatus(ctx, "lifecycle-task-1", step.to, step.pct, step.desc); err != nil {
			t.Fatalf("UpdateStatus(%s, %d): %v", step.to, step.pct, err)
		}
	}

	rec, err := s.Get(ctx, "lifecycle-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != task.StatusCompleted || rec.ProgressPct != 100 {
		t.Errorf("final state = %s/%d, want completed/100", rec.Status, rec.ProgressPct)
	}
	if rec.StatusDescription != "done" {
		t.Errorf("description = %q, want %q", rec.StatusDescription, "done")
	}
	if rec.LastUpdatedAt.Before(created.UTC()) {
		t.Error("LastUpdatedAt did not advance")
	}
}

func TestUpdateStatusRejectsIllegalWrites(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("illegal-task-1", time.Now()))

	if err := s.UpdateStatus(ctx, "illegal-task-1", task.StatusAnalyzing, 15, ""); err != nil {
		t.Fatal(err)
	}
	// Backward.
	if err := s.UpdateStatus(ctx, "illegal-task-1", task.StatusPreprocessing, 15, ""); err == nil {
		t.Error("backward transition accepted")
	}
	// Progress decrease within the phase.
	if err := s.UpdateStatus(ctx, "illegal-task-1", task.StatusAnalyzing, 10, ""); err == nil {
		t.Error("progress decrease accepted")
	}
	// Post-terminal.
	if err := s.UpdateStatus(ctx, "illegal-task-1", task.StatusCancelled, 0, "cancelled by request"); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateStatus(ctx, "illegal-task-1", task.StatusStitchingAudio, 90, "")
	if !errors.Is(err, status.ErrTerminal) {
		t.Errorf("post-terminal update error = %v, want ErrTerminal", err)
	}

	// The failed writes must have left state intact.
	rec, err := s.Get(ctx, "illegal-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != task.StatusCancelled || rec.ProgressPct != 15 {
		t.Errorf("state = %s/%d, want cancelled/15", rec.Status, rec.ProgressPct)
	}
	if err := s.UpdateStatus(ctx, "no-such-task-1", task.StatusAnalyzing, 15, ""); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("update of missing task error = %v, want ErrNotFound", err)
	}
}

func TestAppendLogAfterTerminal(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("log-task-1", time.Now()))

	if err := s.UpdateStatus(ctx, "log-task-1", task.StatusCancelled, 0, "cancelled by request"); err != nil {
		t.Fatal(err)
	}
	// Webhook delivery outcomes land in the log after the terminal state.
	if err := s.AppendLog(ctx, "log-task-1", task.LevelInfo, "webhook delivered on attempt 1"); err != nil {
		t.Fatalf("AppendLog after terminal: %v", err)
	}

	rec, err := s.Get(ctx, "log-task-1")
	if err != nil {
		t.Fatal(err)
	}
	last := rec.Logs[len(rec.Logs)-1]
	if last.Message != "webhook delivered on attempt 1" || last.Level != task.LevelInfo {
		t.Errorf("last log entry = %+v", last)
	}
	if last.Timestamp.IsZero() {
		t.Error("log entry has no timestamp")
	}
}

func TestUpdateArtifacts(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("artifact-task-1", time.Now()))

	err := s.UpdateArtifacts(ctx, "artifact-task-1", func(a *task.Artifacts) {
		a.HasOutline = true
		a.OutlineKey = "text/artifact-task-1/podcast_outline.json"
	})
	if err != nil {
		t.Fatalf("UpdateArtifacts: %v", err)
	}

	// Cleanup clears flags after the task is terminal; that must remain
	// possible.
	if err := s.UpdateStatus(ctx, "artifact-task-1", task.StatusCancelled, 0, ""); err != nil {
		t.Fatal(err)
	}
	err = s.UpdateArtifacts(ctx, "artifact-task-1", func(a *task.Artifacts) {
		a.HasOutline = false
		a.OutlineKey = ""
	})
	if err != nil {
		t.Fatalf("UpdateArtifacts after terminal: %v", err)
	}

	rec, err := s.Get(ctx, "artifact-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Artifacts.HasOutline || rec.Artifacts.OutlineKey != "" {
		t.Errorf("artifacts = %+v, want cleared", rec.Artifacts)
	}
}

func TestSetError(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("error-task-1", time.Now()))

	if err := s.UpdateStatus(ctx, "error-task-1", task.StatusStitchingAudio, 90, ""); err != nil {
		t.Fatal(err)
	}
	err := s.SetError(ctx, "error-task-1", task.Error{Message: "ffmpeg exited with code 1", Detail: "concat demuxer: no such file"})
	if err != nil {
		t.Fatalf("SetError: %v", err)
	}

	rec, err := s.Get(ctx, "error-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ProgressPct != 90 {
		t.Errorf("progress = %d, want frozen at 90", rec.ProgressPct)
	}
	if rec.Error == nil || rec.Error.Stage != string(task.StatusStitchingAudio) {
		t.Errorf("error = %+v, want stage %s", rec.Error, task.StatusStitchingAudio)
	}

	// A failure racing a cancel must not overwrite the terminal state.
	if err := s.SetError(ctx, "error-task-1", task.Error{Message: "late failure"}); !errors.Is(err, status.ErrTerminal) {
		t.Errorf("second SetError error = %v, want ErrTerminal", err)
	}
}

func TestSetEpisodeThenComplete(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("episode-task-1", time.Now()))

	if err := s.UpdateStatus(ctx, "episode-task-1", task.StatusPostprocessing, 95, ""); err != nil {
		t.Fatal(err)
	}
	ep := task.Episode{
		AudioURL:        "episodes/final/episode-task-1.mp3",
		DurationSeconds: 612.4,
		Title:           "The Transistor At Eighty",
		TurnCount:       24,
	}
	if err := s.SetEpisode(ctx, "episode-task-1", ep); err != nil {
		t.Fatalf("SetEpisode: %v", err)
	}
	if err := s.UpdateStatus(ctx, "episode-task-1", task.StatusCompleted, 100, "done"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get(ctx, "episode-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Episode == nil || rec.Episode.AudioURL != ep.AudioURL || rec.Episode.TurnCount != 24 {
		t.Errorf("episode = %+v", rec.Episode)
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"list-task-old", "list-task-mid", "list-task-new"} {
		mustCreate(t, s, newTestRecord(id, base.Add(time.Duration(i)*time.Minute)))
	}

	recs, total, err := s.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 || total != 3 {
		t.Fatalf("List returned %d records (total %d), want 3", len(recs), total)
	}
	wantOrder := []string{"list-task-new", "list-task-mid", "list-task-old"}
	for i, want := range wantOrder {
		if recs[i].TaskID != want {
			t.Errorf("List[%d] = %q, want %q", i, recs[i].TaskID, want)
		}
	}
}

func TestListPaging(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("page-task-%03d", i)
		mustCreate(t, s, newTestRecord(id, base.Add(time.Duration(i)*time.Minute)))
	}

	recs, total, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(recs) != 2 || recs[0].TaskID != "page-task-004" || recs[1].TaskID != "page-task-003" {
		t.Errorf("first page = %v", taskIDs(recs))
	}

	recs, total, err = s.List(ctx, 2, 4)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 || len(recs) != 1 || recs[0].TaskID != "page-task-000" {
		t.Errorf("last page = %v (total %d)", taskIDs(recs), total)
	}

	// Past the end is an empty page, not an error.
	recs, total, err = s.List(ctx, 2, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 || len(recs) != 0 {
		t.Errorf("overshoot page = %v (total %d), want empty", taskIDs(recs), total)
	}
}

func taskIDs(recs []*task.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.TaskID)
	}
	return ids
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("delete-task-1", time.Now()))

	if err := s.Delete(ctx, "delete-task-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "delete-task-1"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "delete-task-1"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentWrites(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	ctx := context.Background()
	mustCreate(t, s, newTestRecord("concurrent-task-1", time.Now()))

	const (
		writers = 8
		perG    = 25
	)
	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				msg := fmt.Sprintf("writer %d entry %d", g, i)
				if err := s.AppendLog(ctx, "concurrent-task-1", task.LevelInfo, msg); err != nil {
					t.Errorf("AppendLog: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	rec, err := s.Get(ctx, "concurrent-task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Logs) != writers*perG {
		t.Errorf("log entries = %d, want %d", len(rec.Logs), writers*perG)
	}
}
