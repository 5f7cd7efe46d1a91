package dummydb

import (
	"context"
	"sort"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/violation"
)

type violationRepository struct {
	db *DB
}

var _ violation.Repository = (*violationRepository)(nil) // interface compliance check

func NewViolationRepository(db *DB) *violationRepository {
	return &violationRepository{db: db}
}

// AppendViolation increments and appends under one lock, mirroring the SQL
// layer's single-transaction guarantee: the terminal check happens with the
// increment, and both land or neither does.
func (repo *violationRepository) AppendViolation(_ context.Context, v violation.Violation, bucket violation.Bucket) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	att, ok := repo.db.attempts[v.AttemptID]
	if !ok || att.Status.Terminal() {
		return 0, violation.ErrAttemptClosed
	}

	att.ViolationCount++
	if att.Counters == nil {
		att.Counters = make(map[violation.Bucket]int)
	}
	att.Counters[bucket]++
	repo.db.violations[v.AttemptID] = append(repo.db.violations[v.AttemptID], v)
	return att.ViolationCount, nil
}

func (repo *violationRepository) QueryViolationsByAttempt(_ context.Context, attemptID string, orderings ...core.DBOrdering) ([]violation.Violation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := repo.db.violations[attemptID]
	out := make([]violation.Violation, len(rows))
	copy(out, rows)

	// insertion order is occurred_at order; only occurred_at reordering is
	// honored here, which is all the tests need
	for _, ord := range orderings {
		if ord.Field == "occurred_at" && !ord.Ascending {
			sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
		}
	}
	return out, nil
}

func (repo *violationRepository) CountViolationsByAttempt(_ context.Context, attemptID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return len(repo.db.violations[attemptID]), nil
}
