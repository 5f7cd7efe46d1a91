package dummydb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mitihani/backend/core/exam"
)

type examRepository struct {
	db *DB
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *DB) *examRepository {
	return &examRepository{db: db}
}

// SeedExam inserts an exam and one open session for it; test helper.
func (repo *examRepository) SeedExam(ex exam.Exam, sess exam.Session) (exam.Exam, exam.Session) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	ex.CreatedAt, ex.UpdatedAt = now, now
	repo.db.exams[ex.ID] = &ex

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	sess.ExamID = ex.ID
	sess.CreatedAt = now
	repo.db.examSessions[sess.ID] = &sess
	return ex, sess
}

func (repo *examRepository) GetExamByID(_ context.Context, id string) (exam.Exam, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ex, ok := repo.db.exams[id]; ok {
		return *ex, nil
	}
	return exam.Exam{}, exam.ErrNotFound
}

func (repo *examRepository) GetSessionByID(_ context.Context, id string) (exam.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.examSessions[id]; ok {
		return *sess, nil
	}
	return exam.Session{}, exam.ErrSessionNotFound
}

func (repo *examRepository) UpdateSessionSecret(_ context.Context, sessionID, secret string, version int) (exam.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.examSessions[sessionID]
	if !ok {
		return exam.Session{}, exam.ErrSessionNotFound
	}
	if sess.SecretVersion != version {
		return exam.Session{}, exam.ErrVersionConflict
	}
	sess.AttendanceSecret = secret
	sess.SecretVersion++
	return *sess, nil
}
