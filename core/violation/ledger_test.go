package violation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mitihani/backend/core"
)

// memRepo mirrors the SQL contract: append and increment under one lock,
// terminal check included.
type memRepo struct {
	mu       sync.Mutex
	terminal bool
	total    int
	counters map[Bucket]int
	rows     []Violation
}

var _ Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{counters: make(map[Bucket]int)}
}

func (r *memRepo) AppendViolation(_ context.Context, v Violation, bucket Bucket) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return 0, ErrAttemptClosed
	}
	r.total++
	r.counters[bucket]++
	r.rows = append(r.rows, v)
	return r.total, nil
}

func (r *memRepo) QueryViolationsByAttempt(_ context.Context, _ string, _ ...core.DBOrdering) ([]Violation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Violation, len(r.rows))
	copy(out, r.rows)
	return out, nil
}

func (r *memRepo) CountViolationsByAttempt(_ context.Context, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows), nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []core.Event
}

func (n *captureNotifier) Notify(events ...core.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestLedger_Record(t *testing.T) {
	repo := newMemRepo()
	notifier := &captureNotifier{}
	ledger := NewLedger(repo, notifier, nopLogger{})
	ctx := context.Background()

	total, err := ledger.Record(ctx, Violation{AttemptID: "att", Type: TypeTabSwitch})
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, notifier.count())

	// id and timestamp are filled in
	rows, _ := ledger.ByAttempt(ctx, "att")
	assert.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].ID)
	assert.False(t, rows[0].OccurredAt.IsZero())
}

func TestLedger_Record_unknownType(t *testing.T) {
	repo := newMemRepo()
	ledger := NewLedger(repo, &captureNotifier{}, nopLogger{})

	_, err := ledger.Record(context.Background(), Violation{AttemptID: "att", Type: "made_up"})
	assert.Error(t, err)
	assert.Equal(t, 0, repo.total)
}

func TestLedger_Record_closedAttempt(t *testing.T) {
	repo := newMemRepo()
	repo.terminal = true
	notifier := &captureNotifier{}
	ledger := NewLedger(repo, notifier, nopLogger{})

	_, err := ledger.Record(context.Background(), Violation{AttemptID: "att", Type: TypeTabSwitch})
	assert.Equal(t, ErrAttemptClosed, err)
	assert.Equal(t, 0, notifier.count())
}

// the count a concurrent recorder sees must never drift from the rows:
// after N racing writers the total equals the row count exactly
func TestLedger_Record_noDriftUnderConcurrency(t *testing.T) {
	repo := newMemRepo()
	ledger := NewLedger(repo, &captureNotifier{}, nopLogger{})
	ctx := context.Background()

	const writers = 16
	const perWriter = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				total, err := ledger.Record(ctx, Violation{AttemptID: "att", Type: TypeTabSwitch})
				assert.NoError(t, err)
				mu.Lock()
				// every observed total is unique: increments are atomic
				assert.False(t, seen[total])
				seen[total] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, repo.total)
	assert.Len(t, repo.rows, writers*perWriter)
	assert.Equal(t, writers*perWriter, repo.counters[BucketTabSwitch])
}
