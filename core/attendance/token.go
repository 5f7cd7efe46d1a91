package attendance

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/mitihani/backend/core/exam"
)

// DefaultStep is the code rotation interval. Validation tolerates the
// current and the immediately preceding interval, so a submitted code is
// good for at most 2*DefaultStep of clock/transmission skew.
const DefaultStep = 30 * time.Second

var nowFunc = time.Now // mockable

// Window derives rotating presence codes for one exam session. The secret
// never leaves the server; only derived codes are shown (e.g. as a QR
// payload) and rotate automatically.
type Window struct {
	Secret    string
	SessionID string
	Step      time.Duration
}

// NewWindow builds a Window from an exam session. Steps under one second
// fall back to the default: interval math works in whole seconds.
func NewWindow(sess exam.Session, step time.Duration) Window {
	if step < time.Second {
		step = DefaultStep
	}
	return Window{Secret: sess.AttendanceSecret, SessionID: sess.ID, Step: step}
}

// CurrentCode returns the code for the current interval: a 64-char hex
// SHA-256 over secret, floor(unix/step) and sessionID concatenated.
func (w Window) CurrentCode() string {
	return w.codeAt(w.interval(nowFunc()))
}

// Validate accepts codes generated at the current or immediately preceding
// interval and rejects everything else. Comparison is constant-time to
// avoid timing side-channels.
func (w Window) Validate(submitted string) bool {
	if submitted == "" {
		return false
	}
	cur := w.interval(nowFunc())

	ok := 0
	for _, iv := range [2]int64{cur, cur - 1} {
		code := w.codeAt(iv)
		ok |= subtle.ConstantTimeCompare([]byte(code), []byte(submitted))
	}
	return ok == 1
}

func (w Window) step() time.Duration {
	if w.Step < time.Second {
		return DefaultStep
	}
	return w.Step
}

func (w Window) interval(t time.Time) int64 {
	return t.Unix() / int64(w.step()/time.Second)
}

func (w Window) codeAt(interval int64) string {
	h := sha256.New()
	h.Write([]byte(w.Secret))
	h.Write([]byte(strconv.FormatInt(interval, 10)))
	h.Write([]byte(w.SessionID))
	return hex.EncodeToString(h.Sum(nil))
}
