package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/mitihani/backend/core/exam"
)

type examRow struct {
	ID               string    `db:"id"`
	Title            string    `db:"title"`
	DurationMinutes  int       `db:"duration_minutes"`
	MaxViolations    int       `db:"max_violations"`
	WarningThreshold int       `db:"warning_threshold"`
	AutoSubmitOnMax  bool      `db:"auto_submit_on_max"`
	OnCritical       string    `db:"on_critical"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r examRow) unrow() exam.Exam {
	return exam.Exam{
		ID:               r.ID,
		Title:            r.Title,
		DurationMinutes:  r.DurationMinutes,
		MaxViolations:    r.MaxViolations,
		WarningThreshold: r.WarningThreshold,
		AutoSubmitOnMax:  r.AutoSubmitOnMax,
		OnCritical:       exam.CriticalAction(r.OnCritical),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type sessionRow struct {
	ID               string    `db:"id"`
	ExamID           string    `db:"exam_id"`
	StartsAt         time.Time `db:"starts_at"`
	EndsAt           time.Time `db:"ends_at"`
	AttendanceSecret string    `db:"attendance_secret"`
	SecretVersion    int       `db:"secret_version"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r sessionRow) unrow() exam.Session {
	return exam.Session{
		ID:               r.ID,
		ExamID:           r.ExamID,
		StartsAt:         r.StartsAt,
		EndsAt:           r.EndsAt,
		AttendanceSecret: r.AttendanceSecret,
		SecretVersion:    r.SecretVersion,
		CreatedAt:        r.CreatedAt,
	}
}

type examRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *sqlx.DB) *examRepository {
	return &examRepository{db: db}
}

func (repo examRepository) GetExamByID(ctx context.Context, id string) (exam.Exam, error) {
	var r examRow
	if err := repo.db.GetContext(ctx, &r, `SELECT * FROM exam WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return exam.Exam{}, exam.ErrNotFound
		}
		return exam.Exam{}, errors.Wrap(err, "getting exam by id")
	}
	return r.unrow(), nil
}

func (repo examRepository) GetSessionByID(ctx context.Context, id string) (exam.Session, error) {
	var r sessionRow
	if err := repo.db.GetContext(ctx, &r, `SELECT * FROM exam_session WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return exam.Session{}, exam.ErrSessionNotFound
		}
		return exam.Session{}, errors.Wrap(err, "getting exam session by id")
	}
	return r.unrow(), nil
}

func (repo examRepository) UpdateSessionSecret(ctx context.Context, sessionID, secret string, version int) (exam.Session, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE exam_session SET attendance_secret = $2, secret_version = secret_version + 1
		WHERE id = $1 AND secret_version = $3`,
		sessionID, secret, version)
	if err != nil {
		return exam.Session{}, errors.Wrap(err, "rotating attendance secret")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return exam.Session{}, errors.Wrap(err, "rotating attendance secret")
	}
	if n == 0 {
		return exam.Session{}, exam.ErrVersionConflict
	}
	return repo.GetSessionByID(ctx, sessionID)
}
