package core

import "time"

// Event types emitted by the integrity engine.
const (
	EventViolationRecorded = "violation_recorded"
	EventStudentBlocked    = "student_blocked"
	EventAttemptSubmitted  = "attempt_auto_submitted"
	EventSessionSuperseded = "session_superseded"
)

// Event is an outbound notification. Delivery is fire-and-forget,
// at-least-once: duplicates are tolerable, losses only hurt alerting
// timeliness, never correctness.
type Event struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"` // UTC
	Payload    map[string]interface{} `json:"payload"`
}

func NewEvent(typ string, payload map[string]interface{}) Event {
	return Event{Type: typ, OccurredAt: time.Now().UTC(), Payload: payload}
}

// Notifier is any service that can deliver events to proctors/admins.
// Notify must never block the caller's request path.
type Notifier interface {
	Notify(events ...Event)
}
