package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/violation"
)

type violationRow struct {
	ID          string      `db:"id"`
	AttemptID   string      `db:"attempt_id"`
	Type        string      `db:"type"`
	Description null.String `db:"description"`
	Meta        null.JSON   `db:"meta"`
	SourceIP    null.String `db:"source_ip"`
	OccurredAt  time.Time   `db:"occurred_at"`
}

func (r violationRow) unrow() (violation.Violation, error) {
	v := violation.Violation{
		ID:          r.ID,
		AttemptID:   r.AttemptID,
		Type:        violation.Type(r.Type),
		Description: r.Description.String,
		SourceIP:    r.SourceIP.String,
		OccurredAt:  r.OccurredAt,
	}
	if r.Meta.Valid {
		if err := json.Unmarshal(r.Meta.JSON, &v.Meta); err != nil {
			return violation.Violation{}, errors.Wrap(err, "decoding violation meta")
		}
	}
	return v, nil
}

type violationRepository struct {
	db *sqlx.DB
}

var _ violation.Repository = (*violationRepository)(nil) // interface compliance check

func NewViolationRepository(db *sqlx.DB) *violationRepository {
	return &violationRepository{db: db}
}

// AppendViolation writes the row and both counter increments in one
// transaction. The attempt-row UPDATE runs first and takes the row lock, so
// the status predicate races cleanly with terminal transitions: a request
// that loses the race increments nothing and appends nothing.
func (repo violationRepository) AppendViolation(ctx context.Context, v violation.Violation, bucket violation.Bucket) (int, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning ledger tx")
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	err = tx.GetContext(ctx, &total, `
		UPDATE attempt SET violation_count = violation_count + 1, updated_at = now()
		WHERE id = $1 AND status IN ('in_progress', 'paused')
		RETURNING violation_count`,
		v.AttemptID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, violation.ErrAttemptClosed
		}
		return 0, errors.Wrap(err, "incrementing violation count")
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO attempt_counter (attempt_id, bucket, count) VALUES ($1, $2, 1)
		ON CONFLICT (attempt_id, bucket) DO UPDATE SET count = attempt_counter.count + 1`,
		v.AttemptID, bucket); err != nil {
		return 0, errors.Wrap(err, "incrementing bucket counter")
	}

	var meta null.JSON
	if v.Meta != nil {
		raw, merr := json.Marshal(v.Meta)
		if merr != nil {
			return 0, errors.Wrap(merr, "encoding violation meta")
		}
		meta = null.JSONFrom(raw)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO violation (id, attempt_id, type, description, meta, source_ip, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)`,
		v.ID, v.AttemptID, v.Type, v.Description, meta, v.SourceIP, v.OccurredAt); err != nil {
		return 0, errors.Wrap(err, "inserting violation")
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing ledger tx")
	}
	return total, nil
}

// orderableViolationColumns whitelists ORDER BY targets; anything else is
// silently dropped rather than interpolated into SQL.
var orderableViolationColumns = map[string]bool{
	"occurred_at": true,
	"type":        true,
	"source_ip":   true,
}

func (repo violationRepository) QueryViolationsByAttempt(ctx context.Context, attemptID string, orderings ...core.DBOrdering) ([]violation.Violation, error) {
	orderBy := "occurred_at, id"
	if clauses := make([]string, 0, len(orderings)); len(orderings) > 0 {
		for _, ord := range orderings {
			if orderableViolationColumns[ord.Field] {
				clauses = append(clauses, ord.String())
			}
		}
		if len(clauses) > 0 {
			orderBy = strings.Join(clauses, ", ")
		}
	}

	var rows []violationRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM violation WHERE attempt_id = $1 ORDER BY `+orderBy, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "querying violations by attempt")
	}
	vs := make([]violation.Violation, 0, len(rows))
	for _, r := range rows {
		v, err := r.unrow()
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func (repo violationRepository) CountViolationsByAttempt(ctx context.Context, attemptID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `SELECT count(*) FROM violation WHERE attempt_id = $1`, attemptID)
	return n, errors.Wrap(err, "counting violations by attempt")
}
