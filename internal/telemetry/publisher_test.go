package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/config"
)

// fakeStats returns fixed values so state payloads are predictable.
type fakeStats struct{}

func (fakeStats) Uptime() time.Duration { return 90 * time.Second }
func (fakeStats) Version() string       { return "1.2.3" }
func (fakeStats) Model() string         { return "gpt-4o" }
func (fakeStats) TaskState() string     { return "running" }
func (fakeStats) Turns() int            { return 7 }
func (fakeStats) TokenTotals() (int64, int64, int64) {
	return 1200, 340, 1540
}
func (fakeStats) PagesCreated() int { return 3 }

func testPublisher(instance string) *Publisher {
	cfg := config.TelemetryConfig{
		Broker:             "mqtt://localhost:1883",
		Instance:           instance,
		PublishIntervalSec: 60,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, fakeStats{}, logger)
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := testPublisher("checkout-bot")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "solaris/checkout-bot"},
		{"availabilityTopic", p.availabilityTopic(), "solaris/checkout-bot/availability"},
		{"stateTopic turns", p.stateTopic("turns"), "solaris/checkout-bot/state/turns"},
		{"eventTopic", p.eventTopic(), "solaris/checkout-bot/event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_StateValues(t *testing.T) {
	p := testPublisher("checkout-bot")

	states := p.stateValues()

	want := map[string]string{
		"uptime":            "1m30s",
		"version":           "1.2.3",
		"model":             "gpt-4o",
		"task_state":        "running",
		"turns":             "7",
		"prompt_tokens":     "1200",
		"completion_tokens": "340",
		"total_tokens":      "1540",
		"pages_created":     "3",
	}

	if len(states) != len(want) {
		t.Fatalf("stateValues has %d entries, want %d: %v", len(states), len(want), states)
	}
	for entity, value := range want {
		if states[entity] != value {
			t.Errorf("state %s = %q, want %q", entity, states[entity], value)
		}
	}
}

func TestTaskEvent_JSONShape(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(TaskEvent{
		Event: EventTaskCompleted,
		Task:  "order paper towels",
		At:    at,
	})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded["event"] != "completed" {
		t.Errorf("event = %v, want completed", decoded["event"])
	}
	if decoded["task"] != "order paper towels" {
		t.Errorf("task = %v", decoded["task"])
	}
	if _, ok := decoded["detail"]; ok {
		t.Error("empty detail should be omitted")
	}
	if decoded["at"] != "2024-06-01T12:00:00Z" {
		t.Errorf("at = %v", decoded["at"])
	}
}

func TestPublishEvent_NotStarted(t *testing.T) {
	p := testPublisher("checkout-bot")

	// Must not panic or block when Start was never called.
	p.PublishEvent(t.Context(), EventTaskStarted, "task", "")
}
