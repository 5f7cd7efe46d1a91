package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	hist  History
	calls int
}

func (s *fakeSource) StudentHistory(_ context.Context, _, _ string) (History, error) {
	s.calls++
	return s.hist, nil
}

type fakeRepo struct {
	profiles map[string]Profile
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{profiles: make(map[string]Profile)}
}

func (r *fakeRepo) SaveProfile(_ context.Context, p Profile) (Profile, error) {
	r.profiles[p.StudentID+"/"+p.ExamID] = p
	return p, nil
}

func (r *fakeRepo) GetProfile(_ context.Context, studentID, examID string) (Profile, error) {
	p, ok := r.profiles[studentID+"/"+examID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) SetValidation(_ context.Context, id string, actual float64, accurate bool) error {
	for k, p := range r.profiles {
		if p.ID == id {
			p.ActualScore = &actual
			p.Accurate = &accurate
			r.profiles[k] = p
		}
	}
	return nil
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{29.99, LevelLow},
		{30, LevelMedium},
		{49.99, LevelMedium},
		{50, LevelHigh},
		{69.99, LevelHigh},
		{70, LevelHigh},
		{84.99, LevelHigh},
		{85, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelOf(tt.score), "score %.2f", tt.score)
	}
}

func TestAcademicRisk(t *testing.T) {
	t.Run("no history is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, academicRisk(History{}))
	})

	t.Run("perfect grades carry no risk", func(t *testing.T) {
		assert.Equal(t, 0.0, academicRisk(History{Grades: []float64{100, 100, 100}}))
	})

	t.Run("all failing grades", func(t *testing.T) {
		// gap: 0.5*(100-40)=30, fail rate: 0.25*100=25, flat trend: 0
		assert.InDelta(t, 55.0, academicRisk(History{Grades: []float64{40, 40}}), 0.001)
	})

	t.Run("decline adds trend penalty", func(t *testing.T) {
		// avg 70 -> gap 15; no fails; decline 20 -> penalty 0.25*40=10
		got := academicRisk(History{Grades: []float64{80, 60}})
		assert.InDelta(t, 25.0, got, 0.001)
	})

	t.Run("improvement carries no penalty", func(t *testing.T) {
		got := academicRisk(History{Grades: []float64{60, 80}})
		assert.InDelta(t, 15.0, got, 0.001)
	})
}

func TestBehavioralRisk(t *testing.T) {
	t.Run("no attempts", func(t *testing.T) {
		assert.Equal(t, 0.0, behavioralRisk(History{}))
	})

	t.Run("clean record", func(t *testing.T) {
		assert.Equal(t, 0.0, behavioralRisk(History{AttemptCount: 4}))
	})

	t.Run("violations and flags stack", func(t *testing.T) {
		// 2 violations/attempt -> 0.6*clamp(30)=18; half flagged -> 0.4*50=20
		got := behavioralRisk(History{AttemptCount: 2, ViolationTotal: 4, FlaggedCount: 1})
		assert.InDelta(t, 38.0, got, 0.001)
	})

	t.Run("heavy violator saturates", func(t *testing.T) {
		got := behavioralRisk(History{AttemptCount: 1, ViolationTotal: 20, FlaggedCount: 1})
		assert.InDelta(t, 100.0, got, 0.001)
	})
}

func TestEngagementRisk(t *testing.T) {
	t.Run("no answers", func(t *testing.T) {
		assert.Equal(t, 0.0, engagementRisk(History{}))
	})

	t.Run("steady unrushed answers", func(t *testing.T) {
		got := engagementRisk(History{AnswerTimes: []float64{10, 10, 10, 10}})
		assert.InDelta(t, 0.0, got, 0.001)
	})

	t.Run("all rushed", func(t *testing.T) {
		// uniform 1s answers: rush rate 1 -> 50 points, zero variance
		got := engagementRisk(History{AnswerTimes: []float64{1, 1, 1, 1}})
		assert.InDelta(t, 50.0, got, 0.001)
	})

	t.Run("erratic timing raises risk", func(t *testing.T) {
		steady := engagementRisk(History{AnswerTimes: []float64{10, 10, 10, 10}})
		erratic := engagementRisk(History{AnswerTimes: []float64{2, 30, 3, 40}})
		assert.Greater(t, erratic, steady)
	})
}

func TestContextualRisk(t *testing.T) {
	rate := func(v float64) *float64 { return &v }

	assert.Equal(t, 0.0, contextualRisk(History{}))
	assert.InDelta(t, 0.0, contextualRisk(History{AttendanceRate: rate(1)}), 0.001)
	assert.InDelta(t, 20.0, contextualRisk(History{AttendanceRate: rate(0.8)}), 0.001)
	assert.InDelta(t, 100.0, contextualRisk(History{AttendanceRate: rate(0)}), 0.001)
}

func TestPredictScore(t *testing.T) {
	t.Run("no history predicts the passing grade", func(t *testing.T) {
		assert.Equal(t, passingGrade, predictScore(History{}))
	})

	t.Run("single grade predicts itself", func(t *testing.T) {
		assert.InDelta(t, 65.0, predictScore(History{Grades: []float64{65}}), 0.001)
	})

	t.Run("upward trend lifts the prediction", func(t *testing.T) {
		// avg 70, recent-older = +20, adjusted by half -> 80
		assert.InDelta(t, 80.0, predictScore(History{Grades: []float64{60, 80}}), 0.001)
	})

	t.Run("downward trend drags it", func(t *testing.T) {
		assert.InDelta(t, 60.0, predictScore(History{Grades: []float64{80, 60}}), 0.001)
	})
}

func TestService_Score(t *testing.T) {
	src := &fakeSource{hist: History{
		Grades:         []float64{40, 40},
		AttemptCount:   2,
		ViolationTotal: 4,
		FlaggedCount:   1,
	}}
	repo := newFakeRepo()
	svc := NewService(src, repo, time.Hour)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.nowFunc = func() time.Time { return now }

	p, err := svc.Score(context.Background(), "std-1", "exam-1")
	assert.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "std-1", p.StudentID)
	assert.Equal(t, "exam-1", p.ExamID)

	// academic 55 * 0.4 + behavioral 38 * 0.3 = 33.4
	assert.InDelta(t, 33.4, p.Score, 0.001)
	assert.Equal(t, LevelMedium, p.Level)
	assert.InDelta(t, 55.0, p.Factors.Academic, 0.001)
	assert.InDelta(t, 38.0, p.Factors.Behavioral, 0.001)
	assert.Equal(t, now, p.CreatedAt)
	assert.Equal(t, now.Add(time.Hour), p.ExpiresAt)

	// stored
	stored, err := repo.GetProfile(context.Background(), "std-1", "exam-1")
	assert.NoError(t, err)
	assert.Equal(t, p, stored)
}

func TestService_GetOrCompute(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{hist: History{Grades: []float64{70, 70}}}
	repo := newFakeRepo()
	svc := NewService(src, repo, time.Hour)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.nowFunc = func() time.Time { return now }

	// first call computes
	p1, err := svc.GetOrCompute(ctx, "std-1", "exam-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	// fresh profile is served from storage
	p2, err := svc.GetOrCompute(ctx, "std-1", "exam-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, p1.ID, p2.ID)

	// past the TTL it recomputes
	now = now.Add(time.Hour)
	p3, err := svc.GetOrCompute(ctx, "std-1", "exam-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.NotEqual(t, p1.ID, p3.ID)
}

func TestService_ValidatePrediction(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, predicted float64) (*service, *fakeRepo) {
		t.Helper()
		repo := newFakeRepo()
		repo.profiles["std-1/exam-1"] = Profile{ID: "p-1", StudentID: "std-1", ExamID: "exam-1", PredictedScore: predicted}
		return NewService(&fakeSource{}, repo, time.Hour), repo
	}

	t.Run("within tolerance is accurate", func(t *testing.T) {
		svc, repo := seed(t, 70)
		p, err := svc.ValidatePrediction(ctx, "std-1", "exam-1", 75)
		assert.NoError(t, err)
		assert.Equal(t, 75.0, *p.ActualScore)
		assert.True(t, *p.Accurate)
		stored := repo.profiles["std-1/exam-1"]
		assert.True(t, *stored.Accurate)
	})

	t.Run("tolerance boundary counts as accurate", func(t *testing.T) {
		svc, _ := seed(t, 70)
		p, err := svc.ValidatePrediction(ctx, "std-1", "exam-1", 55)
		assert.NoError(t, err)
		assert.True(t, *p.Accurate)
	})

	t.Run("outside tolerance is not", func(t *testing.T) {
		svc, _ := seed(t, 70)
		p, err := svc.ValidatePrediction(ctx, "std-1", "exam-1", 45)
		assert.NoError(t, err)
		assert.False(t, *p.Accurate)
	})

	t.Run("unknown profile", func(t *testing.T) {
		svc := NewService(&fakeSource{}, newFakeRepo(), time.Hour)
		_, err := svc.ValidatePrediction(ctx, "std-1", "exam-1", 60)
		assert.Equal(t, ErrNotFound, err)
	})
}
