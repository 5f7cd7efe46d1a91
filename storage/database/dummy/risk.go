package dummydb

import (
	"context"

	"github.com/mitihani/backend/core/risk"
)

type riskRepository struct {
	db *DB
}

var (
	_ risk.Repository = (*riskRepository)(nil) // interface compliance check
	_ risk.Source     = (*riskRepository)(nil)
)

func NewRiskRepository(db *DB) *riskRepository {
	return &riskRepository{db: db}
}

// SeedHistory primes the aggregated history a test wants the estimator to
// see, bypassing the attempt/answer tables.
func (repo *riskRepository) SeedHistory(studentID, examID string, hist risk.History) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.histories[profileKey(studentID, examID)] = hist
}

func (repo *riskRepository) SaveProfile(_ context.Context, p risk.Profile) (risk.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.profiles[profileKey(p.StudentID, p.ExamID)] = &p
	return p, nil
}

func (repo *riskRepository) GetProfile(_ context.Context, studentID, examID string) (risk.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.profiles[profileKey(studentID, examID)]; ok {
		return *p, nil
	}
	return risk.Profile{}, risk.ErrNotFound
}

func (repo *riskRepository) SetValidation(_ context.Context, id string, actual float64, accurate bool) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, p := range repo.db.profiles {
		if p.ID == id {
			p.ActualScore = &actual
			p.Accurate = &accurate
			return nil
		}
	}
	return risk.ErrNotFound
}

// StudentHistory prefers seeded history, falling back to aggregating the
// in-memory attempt and answer tables like the SQL layer does.
func (repo *riskRepository) StudentHistory(_ context.Context, studentID, examID string) (risk.History, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if hist, ok := repo.db.histories[profileKey(studentID, examID)]; ok {
		return hist, nil
	}

	var hist risk.History
	for _, att := range repo.db.attempts {
		if att.StudentID != studentID || (examID != "" && att.ExamID != examID) {
			continue
		}
		if att.Status.Terminal() {
			hist.AttemptCount++
			hist.ViolationTotal += att.ViolationCount
			if att.Flagged {
				hist.FlaggedCount++
			}
		}
		if att.Score != nil {
			hist.Grades = append(hist.Grades, *att.Score)
		}
		for _, ans := range repo.db.answers[att.ID] {
			if ans.TimeSpent != nil {
				hist.AnswerTimes = append(hist.AnswerTimes, *ans.TimeSpent)
			}
		}
	}
	return hist, nil
}
