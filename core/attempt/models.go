package attempt

import (
	"time"

	"github.com/mitihani/backend/core/violation"
)

// Status is the attempt lifecycle:
// not_started -> in_progress -> (paused) -> completed | blocked.
// completed and blocked are terminal.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// transitions is the closed set of legal status moves.
var transitions = map[Status][]Status{
	StatusNotStarted: {StatusInProgress},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusBlocked},
	StatusPaused:     {StatusInProgress, StatusCompleted, StatusBlocked},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Attempt is one (student, exam, exam session) pass. ViolationCount and
// Counters only ever grow and are maintained atomically by the violation
// ledger; exactly one Attempt may be in_progress per (student, session).
type Attempt struct {
	ID             string                       `json:"id"`
	StudentID      string                       `json:"student_id"`
	ExamID         string                       `json:"exam_id"`
	ExamSessionID  string                       `json:"exam_session_id"`
	Status         Status                       `json:"status"`
	ViolationCount int                          `json:"violation_count"`
	Counters       map[violation.Bucket]int     `json:"counters,omitempty"`
	Flagged        bool                         `json:"flagged"`
	AutoSubmitted  bool                         `json:"auto_submitted"`
	StartedIP      string                       `json:"started_ip"`
	Score          *float64                     `json:"score,omitempty"`
	StartedAt      time.Time                    `json:"started_at"` // UTC
	EndedAt        time.Time                    `json:"ended_at"`   // UTC; zero while live
	CreatedAt      time.Time                    `json:"created_at"` // UTC
	UpdatedAt      time.Time                    `json:"updated_at"` // UTC
}

// Answer is one submitted answer. TimeSpent is the client-reported seconds
// on the question; kept for the risk estimator's timing history.
type Answer struct {
	ID         string    `json:"id"`
	AttemptID  string    `json:"attempt_id"`
	QuestionID string    `json:"question_id"`
	Body       string    `json:"body"`
	TimeSpent  *float64  `json:"time_spent,omitempty"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}
