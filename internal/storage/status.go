package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type RunState string

const (
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

const statusFile = "status.json"

type RunStatus struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	Partial   bool      `json:"partial,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Storage) WriteStatus(ctx context.Context, st RunStatus) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	return s.PutJSON(ctx, RunKey(st.RunID, statusFile), st)
}

func (s *Storage) ReadStatus(ctx context.Context, runID string) (RunStatus, error) {
	data, err := s.Get(ctx, RunKey(runID, statusFile))
	if err != nil {
		return RunStatus{}, err
	}
	var st RunStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return RunStatus{}, fmt.Errorf("decode run status: %w", err)
	}
	return st, nil
}
