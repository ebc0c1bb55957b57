package events

import (
	"context"
	"time"
)

// TypeRunProgress is the event type for QA run progress updates.
const TypeRunProgress = "qa.run.progress"

// Event is one progress update for a QA run. Events are published after the
// corresponding state has been persisted, so consumers never observe progress
// the store would contradict.
type Event struct {
	Type           string         `json:"type"`
	Timestamp      time.Time      `json:"ts"`
	OrganizationID string         `json:"org_id"`
	ActorID        string         `json:"actor_id,omitempty"`
	RunID          int64          `json:"qa_run_id"`
	Status         string         `json:"status"`
	Stage          string         `json:"stage"`
	Percent        int            `json:"percent"`
	Message        string         `json:"message,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// Publisher delivers events to subscribers. Implementations must tolerate
// publish failures without affecting run processing.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close()
}
