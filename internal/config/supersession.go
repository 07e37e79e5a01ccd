package config

import "time"

// SupersessionConfig configures the supersession transaction.
type SupersessionConfig struct {
	// MaxRetries bounds retry attempts on lock/serialization conflicts.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryDelayMs is the backoff between retries.
	RetryDelayMs int `yaml:"retry_delay_ms" json:"retry_delay_ms"`

	// MinConfidence is the fingerprint confidence floor below which a
	// write is a plain insert. Misclassification must never delete a
	// real fact, so this gate is deliberately conservative.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
}

// DefaultSupersessionConfig returns sensible defaults.
func DefaultSupersessionConfig() SupersessionConfig {
	return SupersessionConfig{
		MaxRetries:    3,
		RetryDelayMs:  100,
		MinConfidence: 0.85,
	}
}

// RetryDelay returns the backoff between supersession retries.
func (c SupersessionConfig) RetryDelay() time.Duration {
	if c.RetryDelayMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}
