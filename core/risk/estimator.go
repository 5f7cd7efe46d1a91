package risk

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound = errors.New("risk profile not found")
)

// Component weights, summing to 1.
const (
	academicWeight   = 0.40
	behavioralWeight = 0.30
	engagementWeight = 0.20
	contextualWeight = 0.10
)

// Scoring constants. All components map history onto a 0-100 risk scale
// before weighting; the final score is the clamped weighted sum.
const (
	defaultProfileTTL = 7 * 24 * time.Hour

	passingGrade = 50.0 // below this a past attempt counts as a fail

	// academic mix
	gradeGapShare   = 0.5  // distance from a perfect average
	failRateShare   = 0.25 // fraction of failed attempts
	trendShare      = 0.25 // recent-vs-older decline
	trendMultiplier = 2.0  // points of risk per point of decline

	// behavioral mix
	violationShare      = 0.6
	flaggedShare        = 0.4
	violationRiskFactor = 15.0 // risk points per violation per attempt

	// engagement mix
	rushShare        = 0.5
	consistencyShare = 0.5
	rushedAnswerSecs = 2.0
	cvRiskFactor     = 50.0 // risk points per unit coefficient of variation

	// prediction accuracy tolerance
	accuracyTolerance = 15.0
)

type (
	// Source aggregates a student's historical grade, violation and timing
	// data. The live pipeline writes it; the estimator only reads.
	Source interface {
		StudentHistory(ctx context.Context, studentID, examID string) (History, error)
	}

	Repository interface {
		SaveProfile(ctx context.Context, p Profile) (Profile, error)
		GetProfile(ctx context.Context, studentID, examID string) (Profile, error)
		SetValidation(ctx context.Context, id string, actual float64, accurate bool) error
	}

	ServiceInterface interface {
		Score(ctx context.Context, studentID, examID string) (Profile, error)
		GetOrCompute(ctx context.Context, studentID, examID string) (Profile, error)
		ValidatePrediction(ctx context.Context, studentID, examID string, actual float64) (Profile, error)
	}

	service struct {
		source Source
		repo   Repository
		ttl    time.Duration

		nowFunc func() time.Time // mockable
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(source Source, repo Repository, ttl time.Duration) *service { //nolint:golint
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &service{source: source, repo: repo, ttl: ttl, nowFunc: time.Now}
}

// Score recomputes and stores a fresh profile from the student's history.
func (svc *service) Score(ctx context.Context, studentID, examID string) (Profile, error) {
	hist, err := svc.source.StudentHistory(ctx, studentID, examID)
	if err != nil {
		return Profile{}, errors.Wrap(err, "loading student history")
	}

	now := svc.nowFunc().UTC()
	factors := Factors{
		Academic:   academicRisk(hist),
		Behavioral: behavioralRisk(hist),
		Engagement: engagementRisk(hist),
		Contextual: contextualRisk(hist),
	}
	score := clamp(academicWeight*factors.Academic +
		behavioralWeight*factors.Behavioral +
		engagementWeight*factors.Engagement +
		contextualWeight*factors.Contextual)

	p := Profile{
		ID:             uuid.New().String(),
		StudentID:      studentID,
		ExamID:         examID,
		Score:          score,
		Level:          LevelOf(score),
		Factors:        factors,
		PredictedScore: predictScore(hist),
		CreatedAt:      now,
		ExpiresAt:      now.Add(svc.ttl),
	}
	return svc.repo.SaveProfile(ctx, p)
}

// GetOrCompute returns the stored profile, recomputing first whenever it is
// missing or stale. An expired profile is never surfaced silently.
func (svc *service) GetOrCompute(ctx context.Context, studentID, examID string) (Profile, error) {
	p, err := svc.repo.GetProfile(ctx, studentID, examID)
	if err == ErrNotFound || (err == nil && p.Expired(svc.nowFunc().UTC())) {
		return svc.Score(ctx, studentID, examID)
	}
	return p, err
}

// ValidatePrediction compares the stored prediction against the real exam
// outcome; accurate iff |predicted - actual| <= 15.
func (svc *service) ValidatePrediction(ctx context.Context, studentID, examID string, actual float64) (Profile, error) {
	p, err := svc.repo.GetProfile(ctx, studentID, examID)
	if err != nil {
		return Profile{}, err
	}
	accurate := math.Abs(p.PredictedScore-actual) <= accuracyTolerance
	if err := svc.repo.SetValidation(ctx, p.ID, actual, accurate); err != nil {
		return Profile{}, errors.Wrap(err, "storing prediction validation")
	}
	p.ActualScore = &actual
	p.Accurate = &accurate
	return p, nil
}

// academicRisk blends distance from a perfect average, fail rate and the
// recent-vs-older grade trend.
func academicRisk(hist History) float64 {
	if len(hist.Grades) == 0 {
		return 50 // no history: neither safe nor alarming
	}

	avg := mean(hist.Grades)

	var fails float64
	for _, g := range hist.Grades {
		if g < passingGrade {
			fails++
		}
	}
	failRate := fails / float64(len(hist.Grades))

	// decline of the recent half versus the older half
	var trendPenalty float64
	if len(hist.Grades) >= 2 {
		mid := len(hist.Grades) / 2
		older, recent := mean(hist.Grades[:mid]), mean(hist.Grades[mid:])
		if decline := older - recent; decline > 0 {
			trendPenalty = clamp(decline * trendMultiplier)
		}
	}

	return clamp(gradeGapShare*(100-avg) + failRateShare*failRate*100 + trendShare*trendPenalty)
}

// behavioralRisk scales with historical violations per attempt and how
// often past attempts were flagged.
func behavioralRisk(hist History) float64 {
	if hist.AttemptCount == 0 {
		return 0
	}
	perAttempt := float64(hist.ViolationTotal) / float64(hist.AttemptCount)
	flaggedRate := float64(hist.FlaggedCount) / float64(hist.AttemptCount)
	return clamp(violationShare*clamp(perAttempt*violationRiskFactor) + flaggedShare*flaggedRate*100)
}

// engagementRisk looks at rushing and timing inconsistency across past
// answers.
func engagementRisk(hist History) float64 {
	if len(hist.AnswerTimes) == 0 {
		return 0
	}

	var rushed float64
	for _, t := range hist.AnswerTimes {
		if t < rushedAnswerSecs {
			rushed++
		}
	}
	rushRate := rushed / float64(len(hist.AnswerTimes))

	var cv float64
	if m := mean(hist.AnswerTimes); m > 0 {
		cv = math.Sqrt(populationVariance(hist.AnswerTimes)) / m
	}

	return clamp(rushShare*rushRate*100 + consistencyShare*clamp(cv*cvRiskFactor))
}

// contextualRisk is reserved for external factors; zero when unavailable.
func contextualRisk(hist History) float64 {
	if hist.AttendanceRate == nil {
		return 0
	}
	return clamp((1 - *hist.AttendanceRate) * 100)
}

// predictScore projects the next grade from the average adjusted by half
// the recent trend.
func predictScore(hist History) float64 {
	if len(hist.Grades) == 0 {
		return passingGrade
	}
	avg := mean(hist.Grades)
	if len(hist.Grades) >= 2 {
		mid := len(hist.Grades) / 2
		older, recent := mean(hist.Grades[:mid]), mean(hist.Grades[mid:])
		avg += (recent - older) / 2
	}
	return clamp(avg)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func populationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return sq / float64(len(xs))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
