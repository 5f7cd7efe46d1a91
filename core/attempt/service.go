package attempt

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound       = errors.New("attempt not found")
	ErrActiveExists   = errors.New("an attempt is already in progress for this session")
	ErrStatusConflict = errors.New("attempt status changed concurrently")
	ErrTerminal       = errors.New("attempt is closed")
)

type (
	Repository interface {
		// CreateAttempt inserts the attempt; ErrActiveExists if another
		// attempt is already in_progress for (student, exam session).
		CreateAttempt(ctx context.Context, att Attempt) (Attempt, error)
		GetAttemptByID(ctx context.Context, id string) (Attempt, error)
		// GetActiveAttempt returns the single in_progress attempt for
		// (student, exam session), or ErrNotFound.
		GetActiveAttempt(ctx context.Context, studentID, examSessionID string) (Attempt, error)
		QueryAttemptsByStudent(ctx context.Context, studentID string, examID string) ([]Attempt, error)
		// TransitionStatus moves the attempt from `from` to `to` as a CAS:
		// the write only lands if the stored status still equals `from`,
		// otherwise ErrStatusConflict. Racing writers get one winner.
		TransitionStatus(ctx context.Context, id string, from, to Status, autoSubmitted bool) (Attempt, error)
		SetFlagged(ctx context.Context, id string) error
		SetScore(ctx context.Context, id string, score float64) error
		// CreateAnswer persists an answer; ErrTerminal if the attempt no
		// longer accepts writes.
		CreateAnswer(ctx context.Context, ans Answer) (Answer, error)
	}

	ServiceInterface interface {
		Start(ctx context.Context, studentID, examID, examSessionID, clientIP string) (Attempt, error)
		GetByID(ctx context.Context, id string) (Attempt, error)
		GetActive(ctx context.Context, studentID, examSessionID string) (Attempt, error)
		HistoryByStudent(ctx context.Context, studentID, examID string) ([]Attempt, error)
		Pause(ctx context.Context, id string) (Attempt, error)
		Resume(ctx context.Context, id string) (Attempt, error)
		Complete(ctx context.Context, id string, score *float64) (Attempt, error)
		AutoSubmit(ctx context.Context, id string) (Attempt, error)
		Block(ctx context.Context, id string) (Attempt, error)
		Flag(ctx context.Context, id string) error
		SubmitAnswer(ctx context.Context, ans Answer) (Answer, error)
	}

	service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository) *service { //nolint:golint
	return &service{repo: repo}
}

// Start opens an attempt for the session, recording the client IP the rest
// of the attempt's requests are checked against. Starting twice resumes the
// existing in_progress attempt instead of creating a second one.
func (svc *service) Start(ctx context.Context, studentID, examID, examSessionID, clientIP string) (Attempt, error) {
	if att, err := svc.repo.GetActiveAttempt(ctx, studentID, examSessionID); err == nil {
		return att, nil
	} else if err != ErrNotFound {
		return Attempt{}, err
	}

	now := time.Now().UTC()
	att := Attempt{
		StudentID:     studentID,
		ExamID:        examID,
		ExamSessionID: examSessionID,
		Status:        StatusInProgress,
		StartedIP:     clientIP,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	att, err := svc.repo.CreateAttempt(ctx, att)
	if err == ErrActiveExists {
		// lost a concurrent-start race; the winner's attempt is ours too
		return svc.repo.GetActiveAttempt(ctx, studentID, examSessionID)
	}
	return att, err
}

func (svc *service) GetByID(ctx context.Context, id string) (Attempt, error) {
	return svc.repo.GetAttemptByID(ctx, id)
}

func (svc *service) GetActive(ctx context.Context, studentID, examSessionID string) (Attempt, error) {
	return svc.repo.GetActiveAttempt(ctx, studentID, examSessionID)
}

func (svc *service) HistoryByStudent(ctx context.Context, studentID, examID string) ([]Attempt, error) {
	return svc.repo.QueryAttemptsByStudent(ctx, studentID, examID)
}

func (svc *service) Pause(ctx context.Context, id string) (Attempt, error) {
	return svc.transition(ctx, id, StatusInProgress, StatusPaused, false)
}

func (svc *service) Resume(ctx context.Context, id string) (Attempt, error) {
	return svc.transition(ctx, id, StatusPaused, StatusInProgress, false)
}

// Complete closes the attempt normally. Racing a block transition, exactly
// one writer wins; the loser observes ErrStatusConflict or ErrTerminal.
func (svc *service) Complete(ctx context.Context, id string, score *float64) (Attempt, error) {
	att, err := svc.transitionLive(ctx, id, StatusCompleted, false)
	if err != nil {
		return att, err
	}
	if score != nil {
		if err := svc.repo.SetScore(ctx, id, *score); err != nil {
			return att, errors.Wrap(err, "recording score")
		}
		att.Score = score
	}
	return att, nil
}

// AutoSubmit closes the attempt with the auto-submitted marker after the
// violation limit was reached.
func (svc *service) AutoSubmit(ctx context.Context, id string) (Attempt, error) {
	return svc.transitionLive(ctx, id, StatusCompleted, true)
}

func (svc *service) Block(ctx context.Context, id string) (Attempt, error) {
	return svc.transitionLive(ctx, id, StatusBlocked, false)
}

func (svc *service) Flag(ctx context.Context, id string) error {
	return svc.repo.SetFlagged(ctx, id)
}

func (svc *service) SubmitAnswer(ctx context.Context, ans Answer) (Answer, error) {
	if ans.CreatedAt.IsZero() {
		ans.CreatedAt = time.Now().UTC()
	}
	return svc.repo.CreateAnswer(ctx, ans)
}

func (svc *service) transition(ctx context.Context, id string, from, to Status, auto bool) (Attempt, error) {
	if !from.CanTransitionTo(to) {
		return Attempt{}, errors.Wrapf(ErrStatusConflict, "%s -> %s", from, to)
	}
	return svc.repo.TransitionStatus(ctx, id, from, to, auto)
}

// transitionLive moves a live (in_progress or paused) attempt to a terminal
// state. Terminal states are permanent: a conflict against an already
// terminal attempt surfaces as ErrTerminal.
func (svc *service) transitionLive(ctx context.Context, id string, to Status, auto bool) (Attempt, error) {
	att, err := svc.repo.TransitionStatus(ctx, id, StatusInProgress, to, auto)
	if err == ErrStatusConflict {
		att, err = svc.repo.TransitionStatus(ctx, id, StatusPaused, to, auto)
	}
	if err == ErrStatusConflict {
		if cur, gerr := svc.repo.GetAttemptByID(ctx, id); gerr == nil && cur.Status.Terminal() {
			return cur, ErrTerminal
		}
	}
	return att, err
}
