package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/mitihani/backend/core/risk"
)

type riskProfileRow struct {
	ID             string       `db:"id"`
	StudentID      string       `db:"student_id"`
	ExamID         string       `db:"exam_id"`
	Score          float64      `db:"score"`
	Level          string       `db:"level"`
	Academic       float64      `db:"academic"`
	Behavioral     float64      `db:"behavioral"`
	Engagement     float64      `db:"engagement"`
	Contextual     float64      `db:"contextual"`
	PredictedScore float64      `db:"predicted_score"`
	ActualScore    null.Float64 `db:"actual_score"`
	Accurate       null.Bool    `db:"accurate"`
	CreatedAt      time.Time    `db:"created_at"`
	ExpiresAt      time.Time    `db:"expires_at"`
}

func (r riskProfileRow) unrow() risk.Profile {
	return risk.Profile{
		ID:        r.ID,
		StudentID: r.StudentID,
		ExamID:    r.ExamID,
		Score:     r.Score,
		Level:     risk.Level(r.Level),
		Factors: risk.Factors{
			Academic:   r.Academic,
			Behavioral: r.Behavioral,
			Engagement: r.Engagement,
			Contextual: r.Contextual,
		},
		PredictedScore: r.PredictedScore,
		ActualScore:    r.ActualScore.Ptr(),
		Accurate:       r.Accurate.Ptr(),
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

type riskRepository struct {
	db *sqlx.DB
}

var (
	_ risk.Repository = (*riskRepository)(nil) // interface compliance check
	_ risk.Source     = (*riskRepository)(nil)
)

func NewRiskRepository(db *sqlx.DB) *riskRepository {
	return &riskRepository{db: db}
}

// SaveProfile upserts on (student, exam): recomputation replaces the stale
// snapshot in place.
func (repo riskRepository) SaveProfile(ctx context.Context, p risk.Profile) (risk.Profile, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO risk_profile
			(id, student_id, exam_id, score, level, academic, behavioral, engagement, contextual,
			 predicted_score, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (student_id, exam_id) DO UPDATE SET
			id = EXCLUDED.id, score = EXCLUDED.score, level = EXCLUDED.level,
			academic = EXCLUDED.academic, behavioral = EXCLUDED.behavioral,
			engagement = EXCLUDED.engagement, contextual = EXCLUDED.contextual,
			predicted_score = EXCLUDED.predicted_score, actual_score = NULL, accurate = NULL,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		p.ID, p.StudentID, p.ExamID, p.Score, p.Level,
		p.Factors.Academic, p.Factors.Behavioral, p.Factors.Engagement, p.Factors.Contextual,
		p.PredictedScore, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return risk.Profile{}, errors.Wrap(err, "saving risk profile")
	}
	return p, nil
}

func (repo riskRepository) GetProfile(ctx context.Context, studentID, examID string) (risk.Profile, error) {
	var r riskProfileRow
	err := repo.db.GetContext(ctx, &r, `
		SELECT * FROM risk_profile WHERE student_id = $1 AND exam_id = $2`, studentID, examID)
	if err != nil {
		if err == sql.ErrNoRows {
			return risk.Profile{}, risk.ErrNotFound
		}
		return risk.Profile{}, errors.Wrap(err, "getting risk profile")
	}
	return r.unrow(), nil
}

func (repo riskRepository) SetValidation(ctx context.Context, id string, actual float64, accurate bool) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE risk_profile SET actual_score = $2, accurate = $3 WHERE id = $1`, id, actual, accurate)
	return errors.Wrap(err, "storing prediction validation")
}

// StudentHistory aggregates the estimator's raw material from past
// attempts, their violations and their answer timings.
func (repo riskRepository) StudentHistory(ctx context.Context, studentID, examID string) (risk.History, error) {
	var hist risk.History

	var agg struct {
		Attempts   int `db:"attempts"`
		Flagged    int `db:"flagged"`
		Violations int `db:"violations"`
	}
	err := repo.db.GetContext(ctx, &agg, `
		SELECT count(*)                              AS attempts,
		       count(*) FILTER (WHERE flagged)       AS flagged,
		       COALESCE(sum(violation_count), 0)     AS violations
		FROM attempt
		WHERE student_id = $1 AND ($2 = '' OR exam_id::text = $2) AND status IN ('completed', 'blocked')`,
		studentID, examID)
	if err != nil {
		return risk.History{}, errors.Wrap(err, "aggregating attempt history")
	}
	hist.AttemptCount = agg.Attempts
	hist.FlaggedCount = agg.Flagged
	hist.ViolationTotal = agg.Violations

	err = repo.db.SelectContext(ctx, &hist.Grades, `
		SELECT score FROM attempt
		WHERE student_id = $1 AND ($2 = '' OR exam_id::text = $2) AND score IS NOT NULL
		ORDER BY started_at`,
		studentID, examID)
	if err != nil {
		return risk.History{}, errors.Wrap(err, "querying grade history")
	}

	err = repo.db.SelectContext(ctx, &hist.AnswerTimes, `
		SELECT a.time_spent
		FROM answer a JOIN attempt att ON att.id = a.attempt_id
		WHERE att.student_id = $1 AND ($2 = '' OR att.exam_id::text = $2) AND a.time_spent IS NOT NULL
		ORDER BY a.created_at`,
		studentID, examID)
	if err != nil {
		return risk.History{}, errors.Wrap(err, "querying answer timing history")
	}

	return hist, nil
}
