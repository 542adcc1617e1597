package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/castforge/internal/config"
)

func TestDiffCleanup(t *testing.T) {
	t.Parallel()

	old := config.DefaultCleanupConfig()
	new := old.Clone()

	if got := config.DiffCleanup(old, new); len(got) != 0 {
		t.Errorf("DiffCleanup on identical configs = %v, want empty", got)
	}

	new.Policy = config.CleanupOnComplete
	new.RemoveFinalAudio = true

	got := config.DiffCleanup(old, new)
	if len(got) != 2 {
		t.Fatalf("DiffCleanup returned %d changes (%v), want 2", len(got), got)
	}
	joined := strings.Join(got, "; ")
	if !strings.Contains(joined, "policy: manual -> auto_on_complete") {
		t.Errorf("diff %q missing policy change", joined)
	}
	if !strings.Contains(joined, "remove_final_audio: false -> true") {
		t.Errorf("diff %q missing remove_final_audio change", joined)
	}
}
