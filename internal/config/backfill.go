package config

import "time"

// BackfillConfig configures the embedding backfill worker.
type BackfillConfig struct {
	// DefaultLimit is the per-run row count budget.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// DefaultMaxSeconds is the per-run wall-clock budget.
	DefaultMaxSeconds int `yaml:"default_max_seconds" json:"default_max_seconds"`

	// InterRowDelayMs is the sleep between rows for rate hygiene.
	InterRowDelayMs int `yaml:"inter_row_delay_ms" json:"inter_row_delay_ms"`

	// StuckProcessingMinutes is the age after which rows left in
	// processing (dead worker) are reset to pending by the sweeper.
	StuckProcessingMinutes int `yaml:"stuck_processing_minutes" json:"stuck_processing_minutes"`
}

// DefaultBackfillConfig returns sensible defaults.
func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		DefaultLimit:           20,
		DefaultMaxSeconds:      20,
		InterRowDelayMs:        250,
		StuckProcessingMinutes: 10,
	}
}

// InterRowDelay returns the sleep between backfill rows.
func (c BackfillConfig) InterRowDelay() time.Duration {
	if c.InterRowDelayMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.InterRowDelayMs) * time.Millisecond
}

// StuckProcessingAge returns the sweeper reclamation age.
func (c BackfillConfig) StuckProcessingAge() time.Duration {
	if c.StuckProcessingMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.StuckProcessingMinutes) * time.Minute
}
