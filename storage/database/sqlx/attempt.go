package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/violation"
)

const uniqueViolationCode = "23505"

type attemptRow struct {
	ID             string       `db:"id"`
	StudentID      string       `db:"student_id"`
	ExamID         string       `db:"exam_id"`
	ExamSessionID  string       `db:"exam_session_id"`
	Status         string       `db:"status"`
	ViolationCount int          `db:"violation_count"`
	Flagged        bool         `db:"flagged"`
	AutoSubmitted  bool         `db:"auto_submitted"`
	StartedIP      null.String  `db:"started_ip"`
	Score          null.Float64 `db:"score"`
	StartedAt      time.Time    `db:"started_at"`
	EndedAt        null.Time    `db:"ended_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (r attemptRow) unrow() attempt.Attempt {
	return attempt.Attempt{
		ID:             r.ID,
		StudentID:      r.StudentID,
		ExamID:         r.ExamID,
		ExamSessionID:  r.ExamSessionID,
		Status:         attempt.Status(r.Status),
		ViolationCount: r.ViolationCount,
		Flagged:        r.Flagged,
		AutoSubmitted:  r.AutoSubmitted,
		StartedIP:      r.StartedIP.String,
		Score:          r.Score.Ptr(),
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt.Time,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type attemptRepository struct {
	db *sqlx.DB
}

var _ attempt.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *sqlx.DB) *attemptRepository {
	return &attemptRepository{db: db}
}

func (repo attemptRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return attempt.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo attemptRepository) CreateAttempt(ctx context.Context, att attempt.Attempt) (attempt.Attempt, error) {
	att.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO attempt (id, student_id, exam_id, exam_session_id, status, started_ip, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		att.ID, att.StudentID, att.ExamID, att.ExamSessionID, att.Status, att.StartedIP,
		att.StartedAt, att.CreatedAt, att.UpdatedAt)
	if err != nil {
		// the partial unique index guards the one-live-attempt invariant
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolationCode {
			return attempt.Attempt{}, attempt.ErrActiveExists
		}
		return attempt.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return repo.GetAttemptByID(ctx, att.ID)
}

func (repo attemptRepository) GetAttemptByID(ctx context.Context, id string) (attempt.Attempt, error) {
	var r attemptRow
	if err := repo.db.GetContext(ctx, &r, `SELECT * FROM attempt WHERE id = $1`, id); err != nil {
		return attempt.Attempt{}, repo.trapNoRowsErr(err, "getting attempt by id")
	}
	att := r.unrow()

	counters, err := repo.counters(ctx, id)
	if err != nil {
		return attempt.Attempt{}, err
	}
	att.Counters = counters
	return att, nil
}

func (repo attemptRepository) counters(ctx context.Context, attemptID string) (map[violation.Bucket]int, error) {
	rows := []struct {
		Bucket string `db:"bucket"`
		Count  int    `db:"count"`
	}{}
	err := repo.db.SelectContext(ctx, &rows, `SELECT bucket, count FROM attempt_counter WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "getting attempt counters")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	counters := make(map[violation.Bucket]int, len(rows))
	for _, r := range rows {
		counters[violation.Bucket(r.Bucket)] = r.Count
	}
	return counters, nil
}

func (repo attemptRepository) GetActiveAttempt(ctx context.Context, studentID, examSessionID string) (attempt.Attempt, error) {
	var r attemptRow
	err := repo.db.GetContext(ctx, &r, `
		SELECT * FROM attempt
		WHERE student_id = $1 AND exam_session_id = $2 AND status IN ('in_progress', 'paused')`,
		studentID, examSessionID)
	if err != nil {
		return attempt.Attempt{}, repo.trapNoRowsErr(err, "getting active attempt")
	}
	return r.unrow(), nil
}

func (repo attemptRepository) QueryAttemptsByStudent(ctx context.Context, studentID, examID string) ([]attempt.Attempt, error) {
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM attempt
		WHERE student_id = $1 AND ($2 = '' OR exam_id::text = $2)
		ORDER BY started_at`,
		studentID, examID)
	if err != nil {
		return nil, errors.Wrap(err, "querying attempts by student")
	}
	atts := make([]attempt.Attempt, 0, len(rows))
	for _, r := range rows {
		atts = append(atts, r.unrow())
	}
	return atts, nil
}

// TransitionStatus is a CAS on the status column; zero rows affected means
// a concurrent writer got there first.
func (repo attemptRepository) TransitionStatus(ctx context.Context, id string, from, to attempt.Status, autoSubmitted bool) (attempt.Attempt, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE attempt SET
			status         = $3,
			auto_submitted = auto_submitted OR $4,
			ended_at       = CASE WHEN $3 IN ('completed', 'blocked') THEN now() ELSE ended_at END,
			updated_at     = now()
		WHERE id = $1 AND status = $2`,
		id, from, to, autoSubmitted)
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "transitioning attempt status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "transitioning attempt status")
	}
	if n == 0 {
		return attempt.Attempt{}, attempt.ErrStatusConflict
	}
	return repo.GetAttemptByID(ctx, id)
}

func (repo attemptRepository) SetFlagged(ctx context.Context, id string) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE attempt SET flagged = true, updated_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "flagging attempt")
}

func (repo attemptRepository) SetScore(ctx context.Context, id string, score float64) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE attempt SET score = $2, updated_at = now() WHERE id = $1`, id, score)
	return errors.Wrap(err, "setting attempt score")
}

// CreateAnswer only lands while the attempt is live; the status predicate
// races cleanly with terminal transitions because both touch the same row.
func (repo attemptRepository) CreateAnswer(ctx context.Context, ans attempt.Answer) (attempt.Answer, error) {
	ans.ID = uuid.New().String()
	res, err := repo.db.ExecContext(ctx, `
		INSERT INTO answer (id, attempt_id, question_id, body, time_spent, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM attempt WHERE id = $2 AND status IN ('in_progress', 'paused'))`,
		ans.ID, ans.AttemptID, ans.QuestionID, ans.Body, null.Float64FromPtr(ans.TimeSpent), ans.CreatedAt)
	if err != nil {
		return attempt.Answer{}, errors.Wrap(err, "inserting answer")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return attempt.Answer{}, errors.Wrap(err, "inserting answer")
	}
	if n == 0 {
		return attempt.Answer{}, attempt.ErrTerminal
	}
	return ans, nil
}
