package proctor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/proctor"
	"github.com/mitihani/backend/core/session"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
	dummydb "github.com/mitihani/backend/storage/database/dummy"
	testutil "github.com/mitihani/backend/tests"
)

type nopNotifier struct{}

func (nopNotifier) Notify(...core.Event) {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type pipelineTest struct {
	pipeline   *proctor.Proctor
	stdSvc     student.ServiceInterface
	attemptSvc attempt.ServiceInterface
	db         *dummydb.DB
}

func setup(t *testing.T) *pipelineTest {
	t.Helper()

	db := dummydb.NewDB()
	stdSvc := student.NewService(dummydb.NewStudentRepository(db))
	attemptSvc := attempt.NewService(dummydb.NewAttemptRepository(db))
	examSvc := exam.NewService(dummydb.NewExamRepository(db))

	guard := session.NewGuard(dummydb.NewSessionRepository(db), 0)
	clock := session.NewClockGuard(0)
	ledger := violation.NewLedger(dummydb.NewViolationRepository(db), nopNotifier{}, nopLogger{})
	enforcer := attempt.NewEnforcer(attemptSvc, stdSvc, nopNotifier{}, nopLogger{})

	return &pipelineTest{
		pipeline:   proctor.New(guard, clock, ledger, enforcer, stdSvc, attemptSvc, examSvc, nopNotifier{}),
		stdSvc:     stdSvc,
		attemptSvc: attemptSvc,
		db:         db,
	}
}

func (pt *pipelineTest) seed(t *testing.T, maxViolations, warnThreshold int, autoSubmit bool, onCritical exam.CriticalAction) (student.Student, attempt.Attempt) {
	t.Helper()
	std := testutil.CreateStudent(t, dummydb.NewStudentRepository(pt.db), "Issa Kone", "issa", "issa@test.cd", "", nil, true)
	_, sess := dummydb.NewExamRepository(pt.db).SeedExam(testutil.NewExam("hist", maxViolations, warnThreshold, autoSubmit, onCritical))
	att := testutil.StartAttempt(t, dummydb.NewAttemptRepository(pt.db), std.ID, sess, "10.0.0.1")
	return std, att
}

func request(att attempt.Attempt, events ...violation.Type) proctor.Request {
	return proctor.Request{
		StudentID:    att.StudentID,
		AttemptID:    att.ID,
		SessionID:    "sess-a",
		ClientIP:     "10.0.0.1",
		ClientEvents: events,
	}
}

func TestProctor_Process_cleanRequest(t *testing.T) {
	pt := setup(t)
	_, att := pt.seed(t, 5, 3, true, exam.CriticalBlocks)

	out, err := pt.pipeline.Process(context.Background(), request(att))
	assert.NoError(t, err)
	assert.True(t, out.Allowed())
	assert.Equal(t, attempt.DecisionAllow, out.Decision)
	assert.Empty(t, out.Recorded)
	assert.Equal(t, 0, out.Total)
}

func TestProctor_Process_warnsAtThreshold(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	_, att := pt.seed(t, 5, 2, true, exam.CriticalBlocks)

	out, err := pt.pipeline.Process(ctx, request(att, violation.TypeTabSwitch))
	assert.NoError(t, err)
	assert.Equal(t, attempt.DecisionAllow, out.Decision)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, []violation.Type{violation.TypeTabSwitch}, out.Recorded)

	out, err = pt.pipeline.Process(ctx, request(att, violation.TypeBlur))
	assert.NoError(t, err)
	assert.True(t, out.Allowed())
	assert.Equal(t, attempt.DecisionWarn, out.Decision)
	assert.Equal(t, 2, out.Total)
	assert.True(t, out.Attempt.Flagged)
}

func TestProctor_Process_autoSubmitAtMax(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	_, att := pt.seed(t, 2, 1, true, exam.CriticalBlocks)

	// two events land in one request and cross the limit
	out, err := pt.pipeline.Process(ctx, request(att, violation.TypeTabSwitch, violation.TypeCopyPaste))
	assert.NoError(t, err)
	assert.False(t, out.Allowed())
	assert.Equal(t, attempt.DecisionAutoSubmit, out.Decision)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, attempt.StatusCompleted, out.Attempt.Status)
	assert.True(t, out.Attempt.AutoSubmitted)

	// the closed attempt admits nothing afterwards
	out, err = pt.pipeline.Process(ctx, request(att))
	assert.NoError(t, err)
	assert.True(t, out.Rejected)
	assert.Equal(t, session.RejectAttemptClosed, out.Reason)
}

func TestProctor_Process_blockAtMax(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	std, att := pt.seed(t, 1, 1, false, exam.CriticalBlocks)

	out, err := pt.pipeline.Process(ctx, request(att, violation.TypeTabSwitch))
	assert.NoError(t, err)
	assert.Equal(t, attempt.DecisionBlock, out.Decision)
	assert.Equal(t, attempt.StatusBlocked, out.Attempt.Status)

	// the block escalates to the account
	got, err := pt.stdSvc.GetByID(ctx, std.ID)
	assert.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.NotEmpty(t, got.BlockedReason)
}

func TestProctor_Process_criticalBlocksImmediately(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	_, att := pt.seed(t, 10, 5, true, exam.CriticalBlocks)

	out, err := pt.pipeline.Process(ctx, request(att, violation.TypeTimeManipulation))
	assert.NoError(t, err)
	assert.False(t, out.Allowed())
	assert.Equal(t, attempt.DecisionBlock, out.Decision)
	assert.Equal(t, 1, out.Total)
}

func TestProctor_Process_criticalCountsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	_, att := pt.seed(t, 10, 5, true, exam.CriticalCounts)

	// weight 3 against a warning threshold of 5: still below
	out, err := pt.pipeline.Process(ctx, request(att, violation.TypeTimeManipulation))
	assert.NoError(t, err)
	assert.True(t, out.Allowed())
	assert.Equal(t, attempt.DecisionAllow, out.Decision)
	assert.Equal(t, 1, out.Total)
}

func TestProctor_Process_blockedAccountRejected(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	std, att := pt.seed(t, 5, 3, true, exam.CriticalBlocks)

	_, err := pt.stdSvc.Block(ctx, std.ID, "caught elsewhere")
	assert.NoError(t, err)

	out, err := pt.pipeline.Process(ctx, request(att))
	assert.NoError(t, err)
	assert.True(t, out.Rejected)
	assert.Equal(t, session.RejectAccountBlocked, out.Reason)
	assert.Empty(t, out.Recorded)
}

func TestProctor_Process_supersededSessionRejected(t *testing.T) {
	ctx := context.Background()
	pt := setup(t)
	_, att := pt.seed(t, 20, 10, true, exam.CriticalCounts)

	req := request(att)
	_, err := pt.pipeline.Process(ctx, req)
	assert.NoError(t, err)

	// a second device takes the handle
	takeover := req
	takeover.SessionID = "sess-b"
	out, err := pt.pipeline.Process(ctx, takeover)
	assert.NoError(t, err)
	assert.True(t, out.Allowed())
	assert.Empty(t, out.Recorded)

	// the first device is permanently out
	out, err = pt.pipeline.Process(ctx, req)
	assert.NoError(t, err)
	assert.True(t, out.Rejected)
	assert.Equal(t, session.RejectSuperseded, out.Reason)
}

func TestProctor_Process_unknownAttempt(t *testing.T) {
	pt := setup(t)

	_, err := pt.pipeline.Process(context.Background(), proctor.Request{AttemptID: "nope", SessionID: "sess-a"})
	assert.Equal(t, attempt.ErrNotFound, err)
}
