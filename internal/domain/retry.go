package domain

import (
	"math"
	"time"
)

// RetryStatus tracks where a retryable unit of work (worker task, dead-letter
// entry) sits in its retry lifecycle.
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryRetrying  RetryStatus = "retrying"
	RetryExhausted RetryStatus = "exhausted"
	RetryDead      RetryStatus = "dead_letter"
)

// RetryConfig bounds a retry budget. Two independent budgets exist in this
// system and are never collapsed into one counter: worker-level task
// retries (transient failures during a single job_application task) and
// dispatcher-level Application attempts (how many times an Application as
// a whole is retried after exhausting its task-level budget).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the worker-level retry budget: MAX_RETRIES=3,
// backoff min(2^retries, 30) seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// DefaultApplicationAttemptConfig returns the dispatcher-level Application
// attempts budget: default cap of 3.
func DefaultApplicationAttemptConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  0,
		MaxDelay:   0,
	}
}

// RetryInfo tracks the retry state of one in-flight unit of work.
type RetryInfo struct {
	Attempt     int
	Status      RetryStatus
	LastError   string
	NextRetryAt time.Time
}

// ShouldRetry reports whether another attempt is permitted under cfg.
func (r RetryInfo) ShouldRetry(cfg RetryConfig) bool {
	return r.Attempt < cfg.MaxRetries
}

// CalculateNextRetryDelay computes exponential backoff capped at
// cfg.MaxDelay: min(2^attempt * BaseDelay, MaxDelay), which reduces to
// min(2^retries, 30) seconds when BaseDelay is 1s and MaxDelay is 30s.
func (r RetryInfo) CalculateNextRetryDelay(cfg RetryConfig) time.Duration {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	factor := math.Pow(2, float64(r.Attempt))
	delay := time.Duration(factor) * cfg.BaseDelay
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// UpdateRetryAttempt records a failed attempt and advances Attempt/NextRetryAt.
func (r *RetryInfo) UpdateRetryAttempt(cfg RetryConfig, errMsg string) {
	r.Attempt++
	r.LastError = errMsg
	r.Status = RetryRetrying
	r.NextRetryAt = time.Now().Add(r.CalculateNextRetryDelay(cfg))
}

// MarkExhausted transitions the retry info to its terminal, non-retryable state.
func (r *RetryInfo) MarkExhausted() {
	r.Status = RetryExhausted
}

// MarkDead transitions the retry info to the dead-letter state: an unknown
// application_id or a malformed payload that can never succeed on retry.
func (r *RetryInfo) MarkDead() {
	r.Status = RetryDead
}

// DeadLetterEntry records a task or message that could not be processed
// and was dropped: an unknown application_id or a malformed payload.
type DeadLetterEntry struct {
	TaskID    string
	QueueName QueueName
	Payload   []byte
	Reason    string
	CreatedAt time.Time
}
