package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mitihani/backend/core/exam"
)

func fixedNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = orig })
}

func testWindow() Window {
	return NewWindow(exam.Session{
		ID:               "sess-1",
		AttendanceSecret: "0123456789abcdef0123456789abcdef",
	}, 30*time.Second)
}

func TestWindow_CurrentCode(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := testWindow()

	fixedNow(t, base)
	code := w.CurrentCode()
	assert.Len(t, code, 64)

	// stable within one interval
	fixedNow(t, base.Add(29*time.Second))
	assert.Equal(t, code, w.CurrentCode())

	// rotates at the interval boundary
	fixedNow(t, base.Add(30*time.Second))
	assert.NotEqual(t, code, w.CurrentCode())
}

func TestWindow_Validate(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := testWindow()

	fixedNow(t, base)
	code := w.CurrentCode()

	t.Run("current interval accepted", func(t *testing.T) {
		fixedNow(t, base.Add(10*time.Second))
		assert.True(t, w.Validate(code))
	})

	t.Run("previous interval still accepted", func(t *testing.T) {
		fixedNow(t, base.Add(35*time.Second))
		assert.True(t, w.Validate(code))
	})

	t.Run("two intervals back rejected", func(t *testing.T) {
		fixedNow(t, base.Add(65*time.Second))
		assert.False(t, w.Validate(code))
	})

	t.Run("future code rejected", func(t *testing.T) {
		fixedNow(t, base.Add(40*time.Second))
		future := w.CurrentCode()
		fixedNow(t, base)
		assert.False(t, w.Validate(future))
	})

	t.Run("empty code rejected", func(t *testing.T) {
		fixedNow(t, base)
		assert.False(t, w.Validate(""))
	})

	t.Run("garbage rejected", func(t *testing.T) {
		fixedNow(t, base)
		assert.False(t, w.Validate("not-a-code"))
	})

	t.Run("other session's code rejected", func(t *testing.T) {
		fixedNow(t, base)
		other := NewWindow(exam.Session{ID: "sess-2", AttendanceSecret: w.Secret}, w.Step)
		assert.False(t, w.Validate(other.CurrentCode()))
	})

	t.Run("rotated secret invalidates old codes", func(t *testing.T) {
		fixedNow(t, base)
		rotated := NewWindow(exam.Session{ID: w.SessionID, AttendanceSecret: "ffff0000ffff0000ffff0000ffff0000"}, w.Step)
		assert.False(t, rotated.Validate(code))
	})
}

func TestWindow_Validate_intervalTable(t *testing.T) {
	w := NewWindow(exam.Session{ID: "sess-1", AttendanceSecret: "abc"}, 7*time.Second)
	at := func(interval int64) time.Time { return time.Unix(interval*7, 0) }

	fixedNow(t, at(1000))
	code := w.CurrentCode()

	tests := []struct {
		name     string
		interval int64
		want     bool
	}{
		{name: "same interval", interval: 1000, want: true},
		{name: "next interval", interval: 1001, want: true},
		{name: "two later", interval: 1002, want: false},
		{name: "one earlier", interval: 999, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixedNow(t, at(tt.interval))
			assert.Equal(t, tt.want, w.Validate(code))
		})
	}
}

func TestNewWindow_defaultStep(t *testing.T) {
	for _, step := range []time.Duration{0, -time.Second, 500 * time.Millisecond} {
		w := NewWindow(exam.Session{ID: "sess-1", AttendanceSecret: "secret"}, step)
		assert.Equal(t, DefaultStep, w.Step, step)
	}
}

// a hand-built Window bypassing the constructor must not divide by a
// zero-second step
func TestWindow_subSecondStep(t *testing.T) {
	fixedNow(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	w := Window{Secret: "abc", SessionID: "sess-1", Step: 500 * time.Millisecond}
	assert.True(t, w.Validate(w.CurrentCode()))
}
