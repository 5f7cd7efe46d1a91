package violation

import (
	"time"

	"github.com/pkg/errors"
)

// Type enumerates every valid violation signal. The set is closed: anything
// not in this list is rejected at the ledger boundary.
type Type string

const (
	// client-reported exam events
	TypeTabSwitch      Type = "tab_switch"
	TypeFullscreenExit Type = "fullscreen_exit"
	TypeCopyPaste      Type = "copy_paste"
	TypeRightClick     Type = "right_click"
	TypeBlur           Type = "blur"
	TypeExtendedBlur   Type = "extended_blur"
	TypeProlongedBlur  Type = "prolonged_blur"
	TypeExcessiveBlur  Type = "excessive_blur"

	// server-side detections
	TypeSuspiciousUserAgent Type = "suspicious_user_agent"
	TypeRapidSubmission     Type = "rapid_submission"
	TypeUniformTiming       Type = "uniform_timing"
	TypeIPChange            Type = "ip_change"
	TypeHiddenCharacters    Type = "hidden_characters"
	TypeMultipleSessions    Type = "multiple_sessions"
	TypeRapidRequests       Type = "rapid_requests"
	TypeTimeManipulation    Type = "time_manipulation"
	TypeSessionTakeover     Type = "session_takeover"
)

// Bucket is the per-attempt counter a violation type increments.
type Bucket string

const (
	BucketTabSwitch      Bucket = "tab_switch"
	BucketFullscreenExit Bucket = "fullscreen_exit"
	BucketCopyPaste      Bucket = "copy_paste"
	BucketRightClick     Bucket = "right_click"
	BucketBlur           Bucket = "blur"
	BucketAutomation     Bucket = "automation"
	BucketTiming         Bucket = "timing"
	BucketSession        Bucket = "session"
	BucketNetwork        Bucket = "network"
	BucketContent        Bucket = "content"
)

// buckets is the static type->counter table. All blur variants fold into the
// blur counter; detection signals group by what they indicate.
var buckets = map[Type]Bucket{
	TypeTabSwitch:      BucketTabSwitch,
	TypeFullscreenExit: BucketFullscreenExit,
	TypeCopyPaste:      BucketCopyPaste,
	TypeRightClick:     BucketRightClick,
	TypeBlur:           BucketBlur,
	TypeExtendedBlur:   BucketBlur,
	TypeProlongedBlur:  BucketBlur,
	TypeExcessiveBlur:  BucketBlur,

	TypeSuspiciousUserAgent: BucketAutomation,
	TypeUniformTiming:       BucketAutomation,
	TypeRapidSubmission:     BucketTiming,
	TypeRapidRequests:       BucketTiming,
	TypeTimeManipulation:    BucketTiming,
	TypeIPChange:            BucketNetwork,
	TypeMultipleSessions:    BucketSession,
	TypeSessionTakeover:     BucketSession,
	TypeHiddenCharacters:    BucketContent,
}

// criticalTypes escalate straight to policy evaluation; depending on exam
// config they block immediately or count with a heavier weight.
var criticalTypes = map[Type]bool{
	TypeTimeManipulation:    true,
	TypeSessionTakeover:     true,
	TypeSuspiciousUserAgent: true,
}

var ErrUnknownType = errors.New("unknown violation type")

// BucketOf maps a type to its counter; ErrUnknownType for anything outside
// the closed enum.
func BucketOf(typ Type) (Bucket, error) {
	b, ok := buckets[typ]
	if !ok {
		return "", ErrUnknownType
	}
	return b, nil
}

func (t Type) Valid() bool {
	_, ok := buckets[t]
	return ok
}

func (t Type) Critical() bool {
	return criticalTypes[t]
}

// AllTypes returns the full closed enum, for exhaustive tests and admin UIs.
func AllTypes() []Type {
	all := make([]Type, 0, len(buckets))
	for t := range buckets {
		all = append(all, t)
	}
	return all
}

// Violation is one immutable suspicious-signal record tied to an attempt.
// Rows are append-only: the live path never mutates or deletes them.
type Violation struct {
	ID          string                 `json:"id"`
	AttemptID   string                 `json:"attempt_id"`
	Type        Type                   `json:"type"`
	Description string                 `json:"description"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	SourceIP    string                 `json:"source_ip"`
	OccurredAt  time.Time              `json:"occurred_at"` // UTC
}
