package risk

import "time"

// Level buckets a 0-100 risk score. Boundary convention: a score equal to
// a threshold takes the higher band (30 is medium, 50 is high, 85 is
// critical); 70 sits inside the high band.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Level thresholds.
const (
	mediumThreshold   = 30.0
	highThreshold     = 50.0
	criticalThreshold = 85.0
)

func LevelOf(score float64) Level {
	switch {
	case score >= criticalThreshold:
		return LevelCritical
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Factors is the component breakdown behind a risk score; each component
// is itself on a 0-100 scale before weighting.
type Factors struct {
	Academic   float64 `json:"academic"`
	Behavioral float64 `json:"behavioral"`
	Engagement float64 `json:"engagement"`
	Contextual float64 `json:"contextual"`
}

// Profile is a time-bounded, explainable snapshot predicting a student's
// exam outcome. Past ExpiresAt it is not authoritative and must be
// regenerated before use.
type Profile struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	ExamID         string    `json:"exam_id,omitempty"`
	Score          float64   `json:"risk_score"`
	Level          Level     `json:"risk_level"`
	Factors        Factors   `json:"factors"`
	PredictedScore float64   `json:"predicted_score"`
	ActualScore    *float64  `json:"actual_score,omitempty"`
	Accurate       *bool     `json:"accurate,omitempty"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	ExpiresAt      time.Time `json:"expires_at"` // UTC
}

func (p Profile) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// History is the per-(student, exam) raw material the estimator scores.
// Grades are chronological, oldest first, on a 0-100 scale.
type History struct {
	Grades          []float64
	AttemptCount    int
	FlaggedCount    int
	ViolationTotal  int
	AnswerTimes     []float64 // seconds per answered question, all past attempts
	AttendanceRate  *float64  // 0-1; nil when unavailable
}
