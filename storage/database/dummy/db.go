// Package dummydb provides in-memory repositories with the same atomicity
// semantics as the SQL layer (linearizable counters, CAS updates). Used in
// tests and local development without a database.
package dummydb

import (
	"sync"

	"github.com/mitihani/backend/core/attempt"
	"github.com/mitihani/backend/core/exam"
	"github.com/mitihani/backend/core/risk"
	"github.com/mitihani/backend/core/session"
	"github.com/mitihani/backend/core/student"
	"github.com/mitihani/backend/core/violation"
)

type DB struct {
	sync.RWMutex

	students     map[string]*student.Student
	exams        map[string]*exam.Exam
	examSessions map[string]*exam.Session
	attempts     map[string]*attempt.Attempt
	answers      map[string][]attempt.Answer        // attemptID -> answers
	violations   map[string][]violation.Violation   // attemptID -> rows
	handles      map[string][]*session.Handle       // attemptID -> history; last non-superseded is current
	profiles     map[string]*risk.Profile           // studentID|examID
	histories    map[string]risk.History            // studentID|examID, seedable in tests
}

func NewDB() *DB {
	return &DB{
		students:     make(map[string]*student.Student),
		exams:        make(map[string]*exam.Exam),
		examSessions: make(map[string]*exam.Session),
		attempts:     make(map[string]*attempt.Attempt),
		answers:      make(map[string][]attempt.Answer),
		violations:   make(map[string][]violation.Violation),
		handles:      make(map[string][]*session.Handle),
		profiles:     make(map[string]*risk.Profile),
		histories:    make(map[string]risk.History),
	}
}

func profileKey(studentID, examID string) string {
	return studentID + "|" + examID
}
