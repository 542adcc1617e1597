package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CleanupPolicy selects when task artifacts become eligible for deletion.
type CleanupPolicy string

const (
	// CleanupManual disables automatic cleanup; artifacts are removed only
	// through the cleanup tool.
	CleanupManual CleanupPolicy = "manual"

	// CleanupOnComplete removes eligible artifacts as soon as a task
	// reaches a terminal state.
	CleanupOnComplete CleanupPolicy = "auto_on_complete"

	// CleanupAfterHours removes eligible artifacts DelayHours after the
	// terminal transition.
	CleanupAfterHours CleanupPolicy = "auto_after_hours"

	// CleanupAfterDays removes eligible artifacts DelayDays after the
	// terminal transition.
	CleanupAfterDays CleanupPolicy = "auto_after_days"

	// CleanupRetainAudioOnly removes everything except the final episode
	// audio, regardless of the per-class flags.
	CleanupRetainAudioOnly CleanupPolicy = "retain_audio_only"

	// CleanupRetainAll never removes anything automatically.
	CleanupRetainAll CleanupPolicy = "retain_all"
)

// IsValid reports whether p is a recognised cleanup policy.
func (p CleanupPolicy) IsValid() bool {
	switch p {
	case CleanupManual, CleanupOnComplete, CleanupAfterHours, CleanupAfterDays,
		CleanupRetainAudioOnly, CleanupRetainAll:
		return true
	}
	return false
}

// CleanupConfig holds the retention rules applied to finished tasks. It is
// loaded from a JSON or YAML file and can be rewritten at runtime through
// the admin tool; the [Watcher] picks up external edits.
type CleanupConfig struct {
	// Policy selects when artifacts become eligible for deletion.
	Policy CleanupPolicy `yaml:"policy" json:"policy"`

	// DelayHours applies under the auto_after_hours policy.
	DelayHours int `yaml:"delay_hours" json:"delay_hours"`

	// DelayDays applies under the auto_after_days policy.
	DelayDays int `yaml:"delay_days" json:"delay_days"`

	// CleanupIntervalMinutes is the background scan interval.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes" json:"cleanup_interval_minutes"`

	// EnableBackgroundCleanup gates the background scheduler entirely.
	EnableBackgroundCleanup bool `yaml:"enable_background_cleanup" json:"enable_background_cleanup"`

	// Per-artifact-class deletion flags. A class is only removed when its
	// flag is set (the retain_* policies override these).
	RemoveFinalAudio       bool `yaml:"remove_final_audio" json:"remove_final_audio"`
	RemoveTranscripts      bool `yaml:"remove_transcripts" json:"remove_transcripts"`
	RemoveLLMIntermediates bool `yaml:"remove_llm_intermediates" json:"remove_llm_intermediates"`
	RemoveAudioSegments    bool `yaml:"remove_audio_segments" json:"remove_audio_segments"`
	RemoveTempDirs         bool `yaml:"remove_temp_dirs" json:"remove_temp_dirs"`
}

// DefaultCleanupConfig returns the built-in retention rules: manual cleanup
// that removes intermediates and scratch files but keeps the episode audio
// and transcript.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		Policy:                  CleanupManual,
		DelayHours:              24,
		DelayDays:               7,
		CleanupIntervalMinutes:  30,
		EnableBackgroundCleanup: false,
		RemoveFinalAudio:        false,
		RemoveTranscripts:       false,
		RemoveLLMIntermediates:  true,
		RemoveAudioSegments:     true,
		RemoveTempDirs:          true,
	}
}

// Clone returns a copy of the config.
func (c *CleanupConfig) Clone() *CleanupConfig {
	out := *c
	return &out
}

// Delay returns the waiting period implied by the policy, or zero for
// policies without one.
func (c *CleanupConfig) Delay() time.Duration {
	switch c.Policy {
	case CleanupAfterHours:
		return time.Duration(c.DelayHours) * time.Hour
	case CleanupAfterDays:
		return time.Duration(c.DelayDays) * 24 * time.Hour
	}
	return 0
}

// Validate checks that c contains a coherent set of values.
func (c *CleanupConfig) Validate() error {
	var errs []error
	if !c.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("policy %q is invalid; valid values: manual, auto_on_complete, auto_after_hours, auto_after_days, retain_audio_only, retain_all", c.Policy))
	}
	if c.Policy == CleanupAfterHours && c.DelayHours < 1 {
		errs = append(errs, fmt.Errorf("delay_hours %d must be at least 1 under auto_after_hours", c.DelayHours))
	}
	if c.Policy == CleanupAfterDays && c.DelayDays < 1 {
		errs = append(errs, fmt.Errorf("delay_days %d must be at least 1 under auto_after_days", c.DelayDays))
	}
	if c.EnableBackgroundCleanup && c.CleanupIntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("cleanup_interval_minutes %d must be at least 1 when background cleanup is enabled", c.CleanupIntervalMinutes))
	}
	return errors.Join(errs...)
}

// LoadCleanupFile reads the cleanup policy file at path and returns a
// validated [CleanupConfig]. Both JSON and YAML files are accepted.
func LoadCleanupFile(path string) (*CleanupConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open cleanup policy %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadCleanupFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse cleanup policy %q: %w", path, err)
	}
	return cfg, nil
}

// LoadCleanupFromReader decodes a cleanup policy from r and validates the
// result. YAML is a superset of JSON, so one strict decoder covers both
// formats. Useful in tests where configs are constructed from string
// literals.
func LoadCleanupFromReader(r io.Reader) (*CleanupConfig, error) {
	cfg := DefaultCleanupConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode cleanup policy: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveCleanupFile writes cfg to path, matching the file's format by
// extension (.json writes JSON, everything else YAML). The write is atomic:
// a temp file in the same directory is renamed over the target.
func SaveCleanupFile(path string, cfg *CleanupConfig) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("config: encode cleanup policy: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cleanup-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("config: write cleanup policy %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write cleanup policy %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write cleanup policy %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write cleanup policy %q: %w", path, err)
	}
	return nil
}
