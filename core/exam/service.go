package exam

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound        = errors.New("exam not found")
	ErrSessionNotFound = errors.New("exam session not found")
	ErrVersionConflict = errors.New("exam session was modified concurrently")
)

type (
	Repository interface {
		GetExamByID(ctx context.Context, id string) (Exam, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		// UpdateSessionSecret writes a new attendance secret iff the stored
		// SecretVersion still equals version; ErrVersionConflict otherwise.
		UpdateSessionSecret(ctx context.Context, sessionID, secret string, version int) (Session, error)
	}

	ServiceInterface interface {
		GetByID(ctx context.Context, id string) (Exam, error)
		GetSession(ctx context.Context, id string) (Session, error)
		RotateAttendanceSecret(ctx context.Context, sessionID string) (Session, error)
	}

	service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository) *service { //nolint:golint
	return &service{repo: repo}
}

func (svc *service) GetByID(ctx context.Context, id string) (Exam, error) {
	return svc.repo.GetExamByID(ctx, id)
}

func (svc *service) GetSession(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSessionByID(ctx, id)
}

// RotateAttendanceSecret replaces the session's code-derivation secret.
// Writers race via CAS; the loser's secret is simply never used.
func (svc *service) RotateAttendanceSecret(ctx context.Context, sessionID string) (Session, error) {
	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	secret, err := NewSecret()
	if err != nil {
		return Session{}, err
	}
	return svc.repo.UpdateSessionSecret(ctx, sessionID, secret, sess.SecretVersion)
}

// NewSecret returns a fresh 32-byte hex-encoded attendance secret.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating attendance secret")
	}
	return hex.EncodeToString(buf), nil
}
