package session

import (
	"sync"
	"time"

	"github.com/mitihani/backend/core/violation"
)

// ClockGuard watches request timing per attempt. Its state is advisory and
// ephemeral: losing it on restart costs at most one false negative and
// never breaks the hard invariants, which live in durable storage.
type ClockGuard struct {
	minGap time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time // attemptID -> last request wall clock

	nowFunc func() time.Time // mockable
}

func NewClockGuard(minGap time.Duration) *ClockGuard {
	return &ClockGuard{
		minGap:   minGap,
		lastSeen: make(map[string]time.Time),
		nowFunc:  time.Now,
	}
}

// Check records this request's arrival and returns any timing signals:
//
//   - rapid_requests when two consecutive requests land closer together
//     than the minimum gap (bot suspicion, advisory);
//   - time_manipulation when the server-observed delta is negative, or the
//     client reports negative elapsed time. Critical: eligible for
//     immediate policy evaluation, not just accumulation.
func (cg *ClockGuard) Check(attemptID string, clientElapsed *float64) []violation.Type {
	now := cg.nowFunc()

	cg.mu.Lock()
	last, seen := cg.lastSeen[attemptID]
	if !seen || now.After(last) {
		cg.lastSeen[attemptID] = now
	}
	cg.mu.Unlock()

	var signals []violation.Type

	if clientElapsed != nil && *clientElapsed < 0 {
		signals = append(signals, violation.TypeTimeManipulation)
	}

	if seen {
		delta := now.Sub(last)
		switch {
		case delta < 0:
			signals = append(signals, violation.TypeTimeManipulation)
		case delta < cg.minGap:
			signals = append(signals, violation.TypeRapidRequests)
		}
	}
	return signals
}

// Forget drops the attempt's timing state.
func (cg *ClockGuard) Forget(attemptID string) {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	delete(cg.lastSeen, attemptID)
}
