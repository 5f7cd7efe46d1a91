package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
)

var (
	// errors
	ErrNotFound        = errors.New("student not found")
	ErrUsernameExists  = errors.New("a student with this username already exists")
	ErrEmailExists     = errors.New("a student with this email already exists")
	ErrVersionConflict = errors.New("student was modified concurrently")
	ErrBlocked         = errors.New("account is blocked")
)

// casMaxRetries bounds the blocked-flag CAS loop; the flag is written by
// few and read by many, so contention beyond a couple of rounds means a bug.
const casMaxRetries = 3

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excluded ...Student) error
		CreateStudent(ctx context.Context, std Student) (Student, error)
		GetStudentByID(ctx context.Context, id string) (Student, error)
		GetStudentByUsername(ctx context.Context, username string) (Student, error)
		GetStudentByUsernameOrEmail(ctx context.Context, username string) (Student, error)
		UpdateStudent(ctx context.Context, std Student, isActive *bool) (Student, error)
		// SetBlocked conditionally flips the blocked flag: the write only
		// lands if the stored version still equals version; otherwise
		// ErrVersionConflict is returned and the caller must re-read.
		SetBlocked(ctx context.Context, id string, blocked bool, reason string, version int) (Student, error)
	}

	ServiceInterface interface {
		CheckUniqueness(uname, email string, excl ...Student) error
		Create(ctx context.Context, ns NewStudent) (Student, error)
		GetByID(ctx context.Context, id string) (Student, error)
		GetByUsername(ctx context.Context, uname string) (Student, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (Student, error)
		SetLastLogin(ctx context.Context, std Student) (Student, error)
		Block(ctx context.Context, id, reason string) (Student, error)
		Unblock(ctx context.Context, id string) (Student, error)
	}

	service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository) *service { //nolint:golint // intentionally unexported
	return &service{repo: repo}
}

func (svc *service) CheckUniqueness(uname, email string, excl ...Student) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, excl...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	now := time.Now().UTC()
	active := true
	roles := ns.Roles
	if len(roles) == 0 {
		roles = []string{RoleStudent}
	}
	std := Student{
		Name:      ns.Name,
		Username:  ns.Username,
		Email:     ns.Email,
		IsActive:  &active,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := std.SetPassword(ns.Password); err != nil {
		return Student{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateStudent(ctx, std)
}

func (svc *service) GetByID(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudentByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (Student, error) {
	return svc.repo.GetStudentByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (Student, error) {
	return svc.repo.GetStudentByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) SetLastLogin(ctx context.Context, std Student) (Student, error) {
	std.LastLogin = time.Now().UTC()
	return svc.repo.UpdateStudent(ctx, std, nil)
}

// Block permanently flags the account; every future exam admission for this
// student is rejected until an administrator calls Unblock. The transition
// is a CAS on the student's version so concurrent blockers converge on a
// single winner instead of clobbering each other's reason.
func (svc *service) Block(ctx context.Context, id, reason string) (Student, error) {
	return svc.setBlocked(ctx, id, true, reason)
}

func (svc *service) Unblock(ctx context.Context, id string) (Student, error) {
	return svc.setBlocked(ctx, id, false, "")
}

func (svc *service) setBlocked(ctx context.Context, id string, blocked bool, reason string) (Student, error) {
	var std Student
	var err error
	for i := 0; i < casMaxRetries; i++ {
		std, err = svc.repo.GetStudentByID(ctx, id)
		if err != nil {
			return Student{}, err
		}
		if std.Blocked == blocked {
			// already in the target state; first writer won
			return std, nil
		}
		std, err = svc.repo.SetBlocked(ctx, id, blocked, reason, std.Version)
		if err == ErrVersionConflict {
			continue
		}
		return std, err
	}
	return Student{}, errors.Wrap(ErrVersionConflict, "blocking student")
}
