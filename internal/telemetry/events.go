package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// Task lifecycle event names.
const (
	EventTaskStarted   = "started"
	EventTaskCompleted = "completed"
	EventTaskFailed    = "failed"
)

// TaskEvent is the JSON payload published on the event topic when a
// task changes lifecycle state.
type TaskEvent struct {
	Event  string    `json:"event"`
	Task   string    `json:"task,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// PublishEvent announces a task lifecycle change. Best-effort: when
// the publisher is not started or the broker is unreachable, the event
// is logged and dropped.
func (p *Publisher) PublishEvent(ctx context.Context, event, task, detail string) {
	if p.cm == nil {
		p.logger.Debug("mqtt event skipped, publisher not started", "event", event)
		return
	}

	payload, err := json.Marshal(TaskEvent{
		Event:  event,
		Task:   task,
		Detail: detail,
		At:     time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("mqtt marshal event payload", "event", event, "error", err)
		return
	}

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.eventTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt event publish failed", "event", event, "error", err)
		return
	}
	p.logger.Debug("mqtt event published", "event", event)
}
