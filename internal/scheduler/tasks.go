package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"leadengine/internal/leads/domain"

	"github.com/hibiken/asynq"
)

const TaskFollowUpDue = "leads.followup.due"

const TaskRetryUnanswered = "leads.unanswered.retry"

// EventPayload is the task body for synthetic lead events.
type EventPayload struct {
	LeadID      string           `json:"leadId"`
	EventID     string           `json:"eventId"`
	Kind        domain.EventKind `json:"kind"`
	RefEventID  string           `json:"refEventId,omitempty"`
	ScheduledAt time.Time        `json:"scheduledAt,omitzero"`
}

// Event converts the payload into the engine event it stands for. The event
// keeps the sweep time when the payload carries one, at otherwise.
func (p EventPayload) Event(at time.Time) domain.Event {
	if !p.ScheduledAt.IsZero() {
		at = p.ScheduledAt
	}
	return domain.Event{
		ID:         p.EventID,
		LeadID:     p.LeadID,
		Kind:       p.Kind,
		RefEventID: p.RefEventID,
		At:         at,
	}
}

func taskType(kind domain.EventKind) (string, error) {
	switch kind {
	case domain.EventFollowUpDue:
		return TaskFollowUpDue, nil
	case domain.EventRetryUnanswered:
		return TaskRetryUnanswered, nil
	}
	return "", fmt.Errorf("no task type for event kind %q", kind)
}

func NewEventTask(payload EventPayload) (*asynq.Task, error) {
	name, err := taskType(payload.Kind)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, data), nil
}

func ParseEventPayload(task *asynq.Task) (EventPayload, error) {
	var payload EventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EventPayload{}, err
	}
	if payload.LeadID == "" || payload.EventID == "" {
		return EventPayload{}, fmt.Errorf("task %s: missing lead or event id", task.Type())
	}
	return payload, nil
}
