package reconciliation

import (
	"errors"
	"time"
)

// StatusKey is where the last pass summary is stored for the status endpoint.
const StatusKey = "payment_reconcile_status"

// RunStatus is the persisted summary of the most recent pass or skip.
type RunStatus struct {
	RunID      string         `json:"run_id,omitempty"`
	Status     string         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Seen       int            `json:"seen"`
	Processed  int            `json:"processed"`
	Outcomes   map[string]int `json:"outcomes,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// NewRunStatus summarises the result of Engine.Run.
func NewRunStatus(res Result, err error) RunStatus {
	st := RunStatus{
		RunID:      res.RunID,
		Status:     runStatus(err),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Seen:       res.Seen,
		Processed:  res.Processed,
	}
	if len(res.Outcomes) > 0 {
		st.Outcomes = make(map[string]int, len(res.Outcomes))
		for k, v := range res.Outcomes {
			st.Outcomes[string(k)] = v
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrMailbox):
		// Connection details stay in the logs.
		st.Error = ErrMailbox.Error()
	default:
		st.Error = err.Error()
	}
	return st
}

// SkippedStatus records a pass that never reached the mailbox.
func SkippedStatus(reason string, at time.Time) RunStatus {
	return RunStatus{Status: "skipped", Reason: reason, StartedAt: at, FinishedAt: at}
}
