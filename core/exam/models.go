package exam

import "time"

// CriticalAction is the configurable policy for critical violation types
// (time manipulation, confirmed takeover abuse, automation tooling):
// either they bypass counting and block immediately, or they count like
// any other violation with a heavier weight.
type CriticalAction string

const (
	CriticalBlocks CriticalAction = "block"
	CriticalCounts CriticalAction = "count"

	// CriticalWeight is how many ordinary violations a critical one is
	// worth when CriticalCounts is in effect.
	CriticalWeight = 3
)

// Exam carries the per-exam integrity policy alongside ordinary metadata.
type Exam struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	DurationMinutes  int            `json:"duration_minutes"`
	MaxViolations    int            `json:"max_violations"`
	WarningThreshold int            `json:"warning_threshold"`
	AutoSubmitOnMax  bool           `json:"auto_submit_on_max"`
	OnCritical       CriticalAction `json:"on_critical"`
	CreatedAt        time.Time      `json:"created_at"` // UTC
	UpdatedAt        time.Time      `json:"updated_at"` // UTC
}

// Session is one sitting of an Exam. AttendanceSecret seeds the rotating
// presence code and never leaves the server; SecretVersion guards rotation.
type Session struct {
	ID               string    `json:"id"`
	ExamID           string    `json:"exam_id"`
	StartsAt         time.Time `json:"starts_at"` // UTC
	EndsAt           time.Time `json:"ends_at"`   // UTC
	AttendanceSecret string    `json:"-"`
	SecretVersion    int       `json:"-"`
	CreatedAt        time.Time `json:"created_at"` // UTC
}

func (s Session) IsOpen(now time.Time) bool {
	return !now.Before(s.StartsAt) && now.Before(s.EndsAt)
}
