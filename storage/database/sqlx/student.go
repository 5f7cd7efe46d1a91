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

	"github.com/mitihani/backend/core/student"
)

type studentRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Username      string         `db:"username"`
	Email         null.String    `db:"email"`
	IsActive      null.Bool      `db:"is_active"`
	Roles         pq.StringArray `db:"roles"`
	Blocked       bool           `db:"blocked"`
	BlockedReason null.String    `db:"blocked_reason"`
	BlockedAt     null.Time      `db:"blocked_at"`
	PasswordHash  null.Bytes     `db:"password_hash"`
	Version       int            `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	LastLogin     null.Time      `db:"last_login"`
}

func (r studentRow) unrow() student.Student {
	return student.Student{
		ID:            r.ID,
		Name:          r.Name,
		Username:      r.Username,
		Email:         r.Email.String,
		IsActive:      r.IsActive.Ptr(),
		Roles:         r.Roles,
		Blocked:       r.Blocked,
		BlockedReason: r.BlockedReason.String,
		BlockedAt:     r.BlockedAt.Time,
		PasswordHash:  r.PasswordHash.Bytes,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LastLogin:     r.LastLogin.Time,
	}
}

type studentRepository struct {
	db *sqlx.DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *sqlx.DB) *studentRepository {
	return &studentRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to student.ErrNotFound
func (repo studentRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return student.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo studentRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excluded ...student.Student) error {
	exclIDs := pq.StringArray{}
	for _, s := range excluded {
		exclIDs = append(exclIDs, s.ID)
	}

	var taken struct {
		Username bool `db:"username_taken"`
		Email    bool `db:"email_taken"`
	}
	err := repo.db.GetContext(ctx, &taken, `
		SELECT bool_or(username = $1)            AS username_taken,
		       bool_or($2 <> '' AND email = $2)  AS email_taken
		FROM student WHERE NOT (id = ANY ($3))`,
		username, email, exclIDs)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "checking student uniqueness")
	}
	if taken.Username {
		return student.ErrUsernameExists
	}
	if taken.Email {
		return student.ErrEmailExists
	}
	return nil
}

func (repo studentRepository) CreateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	std.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO student (id, name, username, email, is_active, roles, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		std.ID, std.Name, std.Username, std.Email, std.IsActive == nil || *std.IsActive,
		pq.StringArray(std.Roles), std.PasswordHash, std.CreatedAt, std.UpdatedAt)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return repo.GetStudentByID(ctx, std.ID)
}

func (repo studentRepository) GetStudentByID(ctx context.Context, id string) (student.Student, error) {
	var r studentRow
	if err := repo.db.GetContext(ctx, &r, `SELECT * FROM student WHERE id = $1`, id); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "getting student by id")
	}
	return r.unrow(), nil
}

func (repo studentRepository) GetStudentByUsername(ctx context.Context, username string) (student.Student, error) {
	var r studentRow
	if err := repo.db.GetContext(ctx, &r, `SELECT * FROM student WHERE username = $1`, username); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "getting student by username")
	}
	return r.unrow(), nil
}

func (repo studentRepository) GetStudentByUsernameOrEmail(ctx context.Context, username string) (student.Student, error) {
	var r studentRow
	err := repo.db.GetContext(ctx, &r, `SELECT * FROM student WHERE username = $1 OR email = $1`, username)
	if err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "getting student by username or email")
	}
	return r.unrow(), nil
}

func (repo studentRepository) UpdateStudent(ctx context.Context, std student.Student, isActive *bool) (student.Student, error) {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE student SET
			name          = COALESCE(NULLIF($2, ''), name),
			username      = COALESCE(NULLIF($3, ''), username),
			email         = COALESCE(NULLIF($4, ''), email),
			is_active     = COALESCE($5, is_active),
			password_hash = COALESCE($6, password_hash),
			last_login    = COALESCE($7, last_login),
			updated_at    = now()
		WHERE id = $1`,
		std.ID, std.Name, std.Username, std.Email, isActive,
		null.BytesFromPtr(nilIfEmpty(std.PasswordHash)), null.NewTime(std.LastLogin, !std.LastLogin.IsZero()))
	if err != nil {
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	return repo.GetStudentByID(ctx, std.ID)
}

// SetBlocked is the CAS behind account-level blocking: the write only lands
// when the version is untouched, so concurrent writers get a single winner.
func (repo studentRepository) SetBlocked(ctx context.Context, id string, blocked bool, reason string, version int) (student.Student, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE student SET
			blocked        = $2,
			blocked_reason = NULLIF($3, ''),
			blocked_at     = CASE WHEN $2 THEN now() ELSE NULL END,
			version        = version + 1,
			updated_at     = now()
		WHERE id = $1 AND version = $4`,
		id, blocked, reason, version)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "setting blocked flag")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "setting blocked flag")
	}
	if n == 0 {
		return student.Student{}, student.ErrVersionConflict
	}
	return repo.GetStudentByID(ctx, id)
}

func nilIfEmpty(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}
