package violation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
)

var (
	// errors
	ErrAttemptClosed = errors.New("attempt no longer accepts violations")
)

type (
	// Repository persists violations. AppendViolation must append the row
	// and increment the attempt's total and bucket counters as ONE durable
	// unit, returning the post-increment total; if the attempt is already
	// terminal it must return ErrAttemptClosed without writing anything.
	// The terminal check happens under the same lock as the increment, so
	// a request racing a block/complete transition loses.
	Repository interface {
		AppendViolation(ctx context.Context, v Violation, bucket Bucket) (total int, err error)
		QueryViolationsByAttempt(ctx context.Context, attemptID string, orderings ...core.DBOrdering) ([]Violation, error)
		CountViolationsByAttempt(ctx context.Context, attemptID string) (int, error)
	}

	// Ledger is the only writer of Violation rows. Record returns the
	// post-increment total so policy can decide without a second read.
	Ledger struct {
		repo     Repository
		notifier core.Notifier
		logger   core.Logger
	}
)

func NewLedger(repo Repository, notifier core.Notifier, logger core.Logger) *Ledger {
	return &Ledger{repo: repo, notifier: notifier, logger: logger}
}

// Record appends the violation and returns the attempt's new total count.
// A storage failure fails the whole request: an unrecorded violation must
// never let a student continue undetected.
func (l *Ledger) Record(ctx context.Context, v Violation) (int, error) {
	bucket, err := BucketOf(v.Type)
	if err != nil {
		return 0, errors.Wrapf(err, "recording %q", v.Type)
	}

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.OccurredAt.IsZero() {
		v.OccurredAt = time.Now().UTC()
	}

	total, err := l.repo.AppendViolation(ctx, v, bucket)
	if err != nil {
		if err == ErrAttemptClosed {
			return 0, err
		}
		return 0, errors.Wrap(err, "appending violation")
	}

	l.notifier.Notify(core.NewEvent(core.EventViolationRecorded, map[string]interface{}{
		"attempt_id": v.AttemptID,
		"type":       string(v.Type),
		"total":      total,
		"source_ip":  v.SourceIP,
	}))
	return total, nil
}

// RecordAll records violations one by one and returns the highest total
// seen. The first storage failure aborts; already-recorded rows stay (the
// ledger is append-only, there is nothing to roll back).
func (l *Ledger) RecordAll(ctx context.Context, vs []Violation) (int, error) {
	var total int
	for _, v := range vs {
		t, err := l.Record(ctx, v)
		if err != nil {
			return total, err
		}
		if t > total {
			total = t
		}
	}
	return total, nil
}

// ByAttempt returns the attempt's full audit trail, oldest first unless
// overridden by orderings.
func (l *Ledger) ByAttempt(ctx context.Context, attemptID string, orderings ...core.DBOrdering) ([]Violation, error) {
	return l.repo.QueryViolationsByAttempt(ctx, attemptID, orderings...)
}
