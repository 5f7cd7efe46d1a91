package session

import "time"

// Handle is the ephemeral proof that one browser/tab is the authoritative
// holder of an attempt. Only one handle is current per attempt; superseding
// handles evict the prior one. Evicted handles are kept (marked superseded,
// never deleted) as the audit trail of takeover events, and a superseded
// session ID is dead for good.
type Handle struct {
	AttemptID  string    `json:"attempt_id"`
	SessionID  string    `json:"session_id"`
	ClientIP   string    `json:"client_ip"`
	Superseded bool      `json:"superseded"`
	Version    int       `json:"-"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	LastSeen   time.Time `json:"last_seen"`  // UTC
}
