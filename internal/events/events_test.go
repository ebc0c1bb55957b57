package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"stitchsentry/internal/events"
	"stitchsentry/internal/logging"
)

func TestEventJSONShape(t *testing.T) {
	event := events.Event{
		Type:           events.TypeRunProgress,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		OrganizationID: "org-1",
		ActorID:        "user-1",
		RunID:          42,
		Status:         "running",
		Stage:          "parse",
		Percent:        30,
		Message:        "Parsed design metrics",
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "ts", "org_id", "actor_id", "qa_run_id", "status", "stage", "percent", "message"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, encoded)
		}
	}
	if decoded["type"] != "qa.run.progress" {
		t.Fatalf("type = %v", decoded["type"])
	}
	if _, ok := decoded["meta"]; ok {
		t.Fatal("empty meta should be omitted")
	}
}

func TestNewPublisherFallsBackToLog(t *testing.T) {
	pub := events.NewPublisher("", "stitchsentry", logging.NewNop())
	if _, ok := pub.(*events.LogPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", pub)
	}
	// Publishing must not panic or block.
	pub.Publish(context.Background(), events.Event{Type: events.TypeRunProgress, RunID: 1})
	pub.Close()
}
