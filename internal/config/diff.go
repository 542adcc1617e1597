package config

import "fmt"

// DiffCleanup compares two cleanup configs and returns a human-readable
// change list, one "field: old -> new" entry per differing field. Used in
// log lines when the policy is reconfigured at runtime or reloaded from
// disk. An empty result means the configs are identical.
func DiffCleanup(old, new *CleanupConfig) []string {
	var changes []string

	add := func(field string, oldVal, newVal any) {
		changes = append(changes, fmt.Sprintf("%s: %v -> %v", field, oldVal, newVal))
	}

	if old.Policy != new.Policy {
		add("policy", old.Policy, new.Policy)
	}
	if old.DelayHours != new.DelayHours {
		add("delay_hours", old.DelayHours, new.DelayHours)
	}
	if old.DelayDays != new.DelayDays {
		add("delay_days", old.DelayDays, new.DelayDays)
	}
	if old.CleanupIntervalMinutes != new.CleanupIntervalMinutes {
		add("cleanup_interval_minutes", old.CleanupIntervalMinutes, new.CleanupIntervalMinutes)
	}
	if old.EnableBackgroundCleanup != new.EnableBackgroundCleanup {
		add("enable_background_cleanup", old.EnableBackgroundCleanup, new.EnableBackgroundCleanup)
	}
	if old.RemoveFinalAudio != new.RemoveFinalAudio {
		add("remove_final_audio", old.RemoveFinalAudio, new.RemoveFinalAudio)
	}
	if old.RemoveTranscripts != new.RemoveTranscripts {
		add("remove_transcripts", old.RemoveTranscripts, new.RemoveTranscripts)
	}
	if old.RemoveLLMIntermediates != new.RemoveLLMIntermediates {
		add("remove_llm_intermediates", old.RemoveLLMIntermediates, new.RemoveLLMIntermediates)
	}
	if old.RemoveAudioSegments != new.RemoveAudioSegments {
		add("remove_audio_segments", old.RemoveAudioSegments, new.RemoveAudioSegments)
	}
	if old.RemoveTempDirs != new.RemoveTempDirs {
		add("remove_temp_dirs", old.RemoveTempDirs, new.RemoveTempDirs)
	}

	return changes
}
