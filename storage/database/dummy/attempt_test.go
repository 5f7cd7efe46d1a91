package dummydb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/violation"
)

// returned attempts are snapshots: mutating one must not leak back into
// the stored copy
func Test_attemptRepository_returnsCounterCopies(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	repo := NewAttemptRepository(db)

	att, err := repo.CreateAttempt(ctx, attempt.Attempt{
		StudentID:     "std-1",
		ExamID:        "exam-1",
		ExamSessionID: "sess-1",
		Status:        attempt.StatusInProgress,
	})
	assert.NoError(t, err)

	_, err = NewViolationRepository(db).AppendViolation(ctx,
		violation.Violation{ID: "v-1", AttemptID: att.ID, Type: violation.TypeTabSwitch},
		violation.BucketTabSwitch)
	assert.NoError(t, err)

	active, err := repo.GetActiveAttempt(ctx, "std-1", "sess-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, active.Counters[violation.BucketTabSwitch])

	active.Counters[violation.BucketTabSwitch] = 99

	byID, err := repo.GetAttemptByID(ctx, att.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, byID.Counters[violation.BucketTabSwitch])

	byID.Counters[violation.BucketTabSwitch] = 99
	again, err := repo.GetActiveAttempt(ctx, "std-1", "sess-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, again.Counters[violation.BucketTabSwitch])
}
