package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/student"
)

// Diff returns a unified diff between want and got, for readable failures.
func Diff(want, got string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	return diff
}

func CreateStudent(
	t *testing.T,
	repo student.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
) student.Student {
	t.Helper()

	now := time.Now().UTC()
	if len(roles) == 0 {
		roles = []string{student.RoleStudent}
	}
	std := student.Student{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  &isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd != "" {
		if err := std.SetPassword(pwd); err != nil {
			t.Fatalf("CreateStudent() failed: %v", err)
		}
	}
	std, err := repo.CreateStudent(context.Background(), std)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return std
}

// NewExam returns an exam with the given integrity policy, open for the
// next hour via the returned session.
func NewExam(title string, maxViolations, warnThreshold int, autoSubmit bool, onCritical exam.CriticalAction) (exam.Exam, exam.Session) {
	now := time.Now().UTC()
	ex := exam.Exam{
		ID:               "exam-" + title,
		Title:            title,
		DurationMinutes:  60,
		MaxViolations:    maxViolations,
		WarningThreshold: warnThreshold,
		AutoSubmitOnMax:  autoSubmit,
		OnCritical:       onCritical,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	sess := exam.Session{
		ID:               ex.ID + "-sess",
		ExamID:           ex.ID,
		StartsAt:         now.Add(-time.Minute),
		EndsAt:           now.Add(time.Hour),
		AttendanceSecret: "0123456789abcdef0123456789abcdef",
		SecretVersion:    1,
		CreatedAt:        now,
	}
	return ex, sess
}

func StartAttempt(t *testing.T, repo attempt.Repository, studentID string, sess exam.Session, clientIP string) attempt.Attempt {
	t.Helper()

	att, err := attempt.NewService(repo).Start(context.Background(), studentID, sess.ExamID, sess.ID, clientIP)
	if err != nil {
		t.Fatalf("StartAttempt() failed: %v", err)
	}
	return att
}
