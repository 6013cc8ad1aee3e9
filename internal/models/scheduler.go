package models

import (
	"maps"
	"time"
)

// ScheduledJob is a background job definition plus its run bookkeeping.
type ScheduledJob struct {
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Handler        string         `json:"handler"`
	Schedule       string         `json:"schedule"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	RunOnStartup   bool           `json:"run_on_startup"`
	Config         map[string]any `json:"config,omitempty"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastStatus     string         `json:"last_status,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	LastDurationMS int64          `json:"last_duration_ms"`
	Runs           int64          `json:"runs"`
	Skips          int64          `json:"skips"`
}

// Clone returns a deep copy so callers cannot mutate scheduler state.
func (j *ScheduledJob) Clone() *ScheduledJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Config = maps.Clone(j.Config)
	out.LastRunAt = clonePtr(j.LastRunAt)
	out.NextRunAt = clonePtr(j.NextRunAt)
	out.ErrorMessage = clonePtr(j.ErrorMessage)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
