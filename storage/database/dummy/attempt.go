package dummydb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/violation"
)

type attemptRepository struct {
	db *DB
}

var _ attempt.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *DB) *attemptRepository {
	return &attemptRepository{db: db}
}

func (repo *attemptRepository) CreateAttempt(_ context.Context, att attempt.Attempt) (attempt.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// one live attempt per (student, exam session)
	for _, a := range repo.db.attempts {
		if a.StudentID == att.StudentID && a.ExamSessionID == att.ExamSessionID && !a.Status.Terminal() {
			return attempt.Attempt{}, attempt.ErrActiveExists
		}
	}
	att.ID = uuid.New().String()
	repo.db.attempts[att.ID] = &att
	return att, nil
}

func (repo *attemptRepository) GetAttemptByID(_ context.Context, id string) (attempt.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.get(id)
}

func (repo *attemptRepository) get(id string) (attempt.Attempt, error) {
	att, ok := repo.db.attempts[id]
	if !ok {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	out := *att
	if att.Counters != nil {
		out.Counters = make(map[violation.Bucket]int, len(att.Counters))
		for b, n := range att.Counters {
			out.Counters[b] = n
		}
	}
	return out, nil
}

func (repo *attemptRepository) GetActiveAttempt(_ context.Context, studentID, examSessionID string) (attempt.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, att := range repo.db.attempts {
		if att.StudentID == studentID && att.ExamSessionID == examSessionID && !att.Status.Terminal() {
			return repo.get(att.ID)
		}
	}
	return attempt.Attempt{}, attempt.ErrNotFound
}

func (repo *attemptRepository) QueryAttemptsByStudent(_ context.Context, studentID, examID string) ([]attempt.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var atts []attempt.Attempt
	for _, att := range repo.db.attempts {
		if att.StudentID == studentID && (examID == "" || att.ExamID == examID) {
			atts = append(atts, *att)
		}
	}
	return atts, nil
}

func (repo *attemptRepository) TransitionStatus(_ context.Context, id string, from, to attempt.Status, autoSubmitted bool) (attempt.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[id]
	if !ok {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	if att.Status != from {
		return attempt.Attempt{}, attempt.ErrStatusConflict
	}
	att.Status = to
	att.AutoSubmitted = att.AutoSubmitted || autoSubmitted
	if to.Terminal() {
		att.EndedAt = time.Now().UTC()
	}
	att.UpdatedAt = time.Now().UTC()
	return *att, nil
}

func (repo *attemptRepository) SetFlagged(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[id]
	if !ok {
		return attempt.ErrNotFound
	}
	att.Flagged = true
	return nil
}

func (repo *attemptRepository) SetScore(_ context.Context, id string, score float64) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[id]
	if !ok {
		return attempt.ErrNotFound
	}
	att.Score = &score
	return nil
}

func (repo *attemptRepository) CreateAnswer(_ context.Context, ans attempt.Answer) (attempt.Answer, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[ans.AttemptID]
	if !ok {
		return attempt.Answer{}, attempt.ErrNotFound
	}
	if att.Status.Terminal() {
		return attempt.Answer{}, attempt.ErrTerminal
	}
	ans.ID = uuid.New().String()
	repo.db.answers[ans.AttemptID] = append(repo.db.answers[ans.AttemptID], ans)
	return ans, nil
}
