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

	"github.com/mitihani/backend/core/session"
)

type handleRow struct {
	ID         string      `db:"id"`
	AttemptID  string      `db:"attempt_id"`
	SessionID  string      `db:"session_id"`
	ClientIP   null.String `db:"client_ip"`
	Superseded bool        `db:"superseded"`
	Version    int         `db:"version"`
	CreatedAt  time.Time   `db:"created_at"`
	LastSeen   time.Time   `db:"last_seen"`
}

func (r handleRow) unrow() session.Handle {
	return session.Handle{
		AttemptID:  r.AttemptID,
		SessionID:  r.SessionID,
		ClientIP:   r.ClientIP.String,
		Superseded: r.Superseded,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		LastSeen:   r.LastSeen,
	}
}

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (repo sessionRepository) GetCurrentHandle(ctx context.Context, attemptID string) (session.Handle, error) {
	var r handleRow
	err := repo.db.GetContext(ctx, &r, `
		SELECT * FROM session_handle WHERE attempt_id = $1 AND NOT superseded`, attemptID)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Handle{}, session.ErrNotFound
		}
		return session.Handle{}, errors.Wrap(err, "getting current session handle")
	}
	return r.unrow(), nil
}

func (repo sessionRepository) CreateHandle(ctx context.Context, h session.Handle) (session.Handle, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO session_handle (id, attempt_id, session_id, client_ip, created_at, last_seen)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		uuid.New().String(), h.AttemptID, h.SessionID, h.ClientIP, h.CreatedAt, h.LastSeen)
	if err != nil {
		// the partial unique index allows only one current handle
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolationCode {
			return session.Handle{}, session.ErrHandleExists
		}
		return session.Handle{}, errors.Wrap(err, "inserting session handle")
	}
	return h, nil
}

// SupersedeHandle marks the current handle superseded and installs the new
// one in a single transaction. The version predicate is the CAS: if another
// writer already replaced the handle, zero rows are touched and the caller
// lost the race.
func (repo sessionRepository) SupersedeHandle(ctx context.Context, newHandle session.Handle, oldVersion int) (session.Handle, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return session.Handle{}, errors.Wrap(err, "beginning takeover tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE session_handle SET superseded = true
		WHERE attempt_id = $1 AND NOT superseded AND version = $2`,
		newHandle.AttemptID, oldVersion)
	if err != nil {
		return session.Handle{}, errors.Wrap(err, "superseding session handle")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return session.Handle{}, errors.Wrap(err, "superseding session handle")
	}
	if n == 0 {
		return session.Handle{}, session.ErrVersionConflict
	}

	newHandle.Version = oldVersion + 1
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO session_handle (id, attempt_id, session_id, client_ip, version, created_at, last_seen)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		uuid.New().String(), newHandle.AttemptID, newHandle.SessionID, newHandle.ClientIP,
		newHandle.Version, newHandle.CreatedAt, newHandle.LastSeen); err != nil {
		return session.Handle{}, errors.Wrap(err, "installing new session handle")
	}

	if err = tx.Commit(); err != nil {
		return session.Handle{}, errors.Wrap(err, "committing takeover tx")
	}
	return newHandle, nil
}

func (repo sessionRepository) TouchHandle(ctx context.Context, attemptID, sessionID string, at time.Time) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE session_handle SET last_seen = $3
		WHERE attempt_id = $1 AND session_id = $2 AND NOT superseded`,
		attemptID, sessionID, at)
	return errors.Wrap(err, "touching session handle")
}

func (repo sessionRepository) WasSuperseded(ctx context.Context, attemptID, sessionID string) (bool, error) {
	var dead bool
	err := repo.db.GetContext(ctx, &dead, `
		SELECT EXISTS (
			SELECT 1 FROM session_handle
			WHERE attempt_id = $1 AND session_id = $2 AND superseded
		)`, attemptID, sessionID)
	return dead, errors.Wrap(err, "checking superseded sessions")
}

func (repo sessionRepository) CountSuperseded(ctx context.Context, attemptID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `
		SELECT count(*) FROM session_handle WHERE attempt_id = $1 AND superseded`, attemptID)
	return n, errors.Wrap(err, "counting superseded handles")
}
