package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
)

var (
	// errors
	ErrNotFound        = errors.New("session handle not found")
	ErrHandleExists    = errors.New("a session handle already exists for this attempt")
	ErrVersionConflict = errors.New("session handle changed concurrently")
)

// RejectReason classifies an admission rejection. These are expected,
// user-facing outcomes, not errors.
type RejectReason string

const (
	RejectAccountBlocked  RejectReason = "account_blocked"
	RejectAttemptClosed   RejectReason = "attempt_closed"
	RejectSuperseded      RejectReason = "session_superseded"
)

// Admission is the guard's verdict plus any advisory signals the caller
// should put on the ledger (multi-tab, repeat takeover).
type Admission struct {
	Allowed bool
	Reason  RejectReason
	Signals []violation.Type
}

type (
	// Repository persists session handles. SupersedeHandle is the CAS that
	// resolves takeover races: it marks the current handle superseded and
	// installs the new one iff the stored version still equals oldVersion.
	// The writer whose CAS fails is the loser, regardless of arrival order.
	Repository interface {
		GetCurrentHandle(ctx context.Context, attemptID string) (Handle, error)
		CreateHandle(ctx context.Context, h Handle) (Handle, error)
		SupersedeHandle(ctx context.Context, newHandle Handle, oldVersion int) (Handle, error)
		TouchHandle(ctx context.Context, attemptID, sessionID string, at time.Time) error
		// WasSuperseded reports whether this session ID ever held and lost
		// the handle for the attempt.
		WasSuperseded(ctx context.Context, attemptID, sessionID string) (bool, error)
		CountSuperseded(ctx context.Context, attemptID string) (int, error)
	}

	// Guard enforces single-session-per-attempt. Blocked accounts and
	// terminal attempts are rejected before any handle logic runs.
	Guard struct {
		repo Repository

		// activeTTL bounds the advisory multi-tab window; the set itself
		// is in-memory and non-authoritative.
		activeTTL time.Duration
		mu        sync.Mutex
		active    map[string]map[string]time.Time // attemptID -> sessionID -> lastSeen

		nowFunc func() time.Time // mockable
	}
)

func NewGuard(repo Repository, activeTTL time.Duration) *Guard {
	return &Guard{
		repo:      repo,
		activeTTL: activeTTL,
		active:    make(map[string]map[string]time.Time),
		nowFunc:   time.Now,
	}
}

// Admit decides whether this (attempt, session) pair may proceed.
//
// No handle: create one, allow. Matching handle: touch, allow. Mismatched
// handle: if the caller's session was itself superseded earlier it is dead
// (reject session_superseded); otherwise this is a takeover: the prior
// handle is evicted via CAS and the NEW session continues, while the old
// one gets rejected on its next request.
func (g *Guard) Admit(ctx context.Context, att attempt.Attempt, std student.Student, sessionID, clientIP string) (Admission, error) {
	if std.Blocked {
		return Admission{Reason: RejectAccountBlocked}, nil
	}
	if att.Status.Terminal() {
		return Admission{Reason: RejectAttemptClosed}, nil
	}

	adm := Admission{Allowed: true}
	activeSignals := g.trackActive(att.ID, sessionID)

	now := g.nowFunc().UTC()
	handle, err := g.repo.GetCurrentHandle(ctx, att.ID)
	switch err {
	case nil:
	case ErrNotFound:
		h := Handle{AttemptID: att.ID, SessionID: sessionID, ClientIP: clientIP, CreatedAt: now, LastSeen: now}
		if _, cerr := g.repo.CreateHandle(ctx, h); cerr == nil {
			return adm, nil
		} else if cerr != ErrHandleExists {
			return Admission{}, errors.Wrap(cerr, "creating session handle")
		}
		// lost the create race; fall through against the winner's handle
		if handle, err = g.repo.GetCurrentHandle(ctx, att.ID); err != nil {
			return Admission{}, errors.Wrap(err, "re-reading session handle")
		}
	default:
		return Admission{}, errors.Wrap(err, "reading session handle")
	}

	if handle.SessionID == sessionID {
		if err := g.repo.TouchHandle(ctx, att.ID, sessionID, now); err != nil {
			return Admission{}, errors.Wrap(err, "touching session handle")
		}
		// the holder is flagged when an evicted session keeps pinging;
		// takeovers themselves are accounted below, not here
		adm.Signals = append(adm.Signals, activeSignals...)
		return adm, nil
	}

	// mismatch: a superseded session never comes back
	dead, err := g.repo.WasSuperseded(ctx, att.ID, sessionID)
	if err != nil {
		return Admission{}, errors.Wrap(err, "checking superseded sessions")
	}
	if dead {
		return Admission{Reason: RejectSuperseded}, nil
	}

	// takeover: evict the prior holder
	newHandle := Handle{AttemptID: att.ID, SessionID: sessionID, ClientIP: clientIP, CreatedAt: now, LastSeen: now}
	if _, err = g.repo.SupersedeHandle(ctx, newHandle, handle.Version); err != nil {
		if err == ErrVersionConflict {
			// a concurrent writer won the handle; this session is the loser
			return Admission{Reason: RejectSuperseded}, nil
		}
		return Admission{}, errors.Wrap(err, "superseding session handle")
	}

	// a single takeover is a normal rejoin (crashed tab, new device);
	// repeat takeovers on one attempt look like credential sharing
	n, err := g.repo.CountSuperseded(ctx, att.ID)
	if err != nil {
		return Admission{}, errors.Wrap(err, "counting superseded handles")
	}
	if n > 1 {
		adm.Signals = append(adm.Signals, violation.TypeSessionTakeover)
	}
	return adm, nil
}

// trackActive maintains the short-TTL active-session set and returns the
// multiple_sessions signal when more than one live session shares the
// attempt. Strictly advisory, layered on top of the takeover mechanism.
func (g *Guard) trackActive(attemptID, sessionID string) []violation.Type {
	now := g.nowFunc()

	g.mu.Lock()
	defer g.mu.Unlock()

	sessions, ok := g.active[attemptID]
	if !ok {
		sessions = make(map[string]time.Time)
		g.active[attemptID] = sessions
	}
	sessions[sessionID] = now

	for sid, seen := range sessions {
		if now.Sub(seen) > g.activeTTL {
			delete(sessions, sid)
		}
	}

	if len(sessions) > 1 {
		return []violation.Type{violation.TypeMultipleSessions}
	}
	return nil
}

// Forget drops the attempt's ephemeral tracking state, e.g. after a
// terminal transition.
func (g *Guard) Forget(attemptID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, attemptID)
}
