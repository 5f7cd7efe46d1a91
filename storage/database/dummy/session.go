package dummydb

import (
	"context"
	"time"

	"github.com/mitihani/backend/core/session"
)

type sessionRepository struct {
	db *DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) current(attemptID string) *session.Handle {
	for _, h := range repo.db.handles[attemptID] {
		if !h.Superseded {
			return h
		}
	}
	return nil
}

func (repo *sessionRepository) GetCurrentHandle(_ context.Context, attemptID string) (session.Handle, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if h := repo.current(attemptID); h != nil {
		return *h, nil
	}
	return session.Handle{}, session.ErrNotFound
}

func (repo *sessionRepository) CreateHandle(_ context.Context, h session.Handle) (session.Handle, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.current(h.AttemptID) != nil {
		return session.Handle{}, session.ErrHandleExists
	}
	repo.db.handles[h.AttemptID] = append(repo.db.handles[h.AttemptID], &h)
	return h, nil
}

func (repo *sessionRepository) SupersedeHandle(_ context.Context, newHandle session.Handle, oldVersion int) (session.Handle, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cur := repo.current(newHandle.AttemptID)
	if cur == nil || cur.Version != oldVersion {
		return session.Handle{}, session.ErrVersionConflict
	}
	cur.Superseded = true
	newHandle.Version = oldVersion + 1
	repo.db.handles[newHandle.AttemptID] = append(repo.db.handles[newHandle.AttemptID], &newHandle)
	return newHandle, nil
}

func (repo *sessionRepository) TouchHandle(_ context.Context, attemptID, sessionID string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if cur := repo.current(attemptID); cur != nil && cur.SessionID == sessionID {
		cur.LastSeen = at
	}
	return nil
}

func (repo *sessionRepository) WasSuperseded(_ context.Context, attemptID, sessionID string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, h := range repo.db.handles[attemptID] {
		if h.SessionID == sessionID && h.Superseded {
			return true, nil
		}
	}
	return false, nil
}

func (repo *sessionRepository) CountSuperseded(_ context.Context, attemptID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, h := range repo.db.handles[attemptID] {
		if h.Superseded {
			n++
		}
	}
	return n, nil
}
