package violation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Classifier thresholds, fixed across implementations.
const (
	// minSubmissionSeconds: reported per-question time below this is
	// implausible for a human reading the question.
	minSubmissionSeconds = 2.0
	// minTimingSamples: variance is meaningless on fewer latencies.
	minTimingSamples = 6
	// maxUniformVariance: population variance below this flags bot-like
	// uniformity. Population (divide by N), not sample (N-1); the choice
	// materially shifts the threshold's sensitivity.
	maxUniformVariance = 0.5
)

// automationAgents is the case-insensitive user-agent deny-list.
var automationAgents = []string{"headless", "phantom", "selenium", "webdriver", "puppeteer", "playwright"}

// hiddenCharRegex matches zero-width/invisible code points that betray a
// programmatic paste: U+200B..U+200D and U+FEFF.
var hiddenCharRegex = regexp.MustCompile("[\u200B-\u200D\uFEFF]")

// RequestContext is everything Classify may look at for one inbound
// student request. Classification is a pure function of this input.
type RequestContext struct {
	StudentID      string
	AttemptID      string
	SessionID      string
	ClientIP       string
	AttemptStartIP string
	UserAgent      string

	// payload
	AnswerText       string
	TimeSpentSeconds *float64  // reported per-question time; nil if absent
	AnswerLatencies  []float64 // per-answer latencies, seconds
}

// Classify applies every detection rule independently and returns the typed
// signals it finds. Rules are order-insensitive and never mutate state;
// persisting the result is the ledger's job.
func Classify(rc RequestContext) []Violation {
	now := time.Now().UTC()
	var found []Violation

	add := func(typ Type, desc string, meta map[string]interface{}) {
		found = append(found, Violation{
			AttemptID:   rc.AttemptID,
			Type:        typ,
			Description: desc,
			Meta:        meta,
			SourceIP:    rc.ClientIP,
			OccurredAt:  now,
		})
	}

	if agent := matchAutomationAgent(rc.UserAgent); agent != "" {
		add(TypeSuspiciousUserAgent, "automation tooling user agent: "+agent,
			map[string]interface{}{"user_agent": rc.UserAgent, "matched": agent})
	}

	if rc.TimeSpentSeconds != nil && *rc.TimeSpentSeconds < minSubmissionSeconds {
		add(TypeRapidSubmission, fmt.Sprintf("answer submitted in %.2fs", *rc.TimeSpentSeconds),
			map[string]interface{}{"time_spent": *rc.TimeSpentSeconds})
	}

	if len(rc.AnswerLatencies) >= minTimingSamples {
		if v := populationVariance(rc.AnswerLatencies); v < maxUniformVariance {
			add(TypeUniformTiming, fmt.Sprintf("answer timing variance %.3f over %d samples", v, len(rc.AnswerLatencies)),
				map[string]interface{}{"variance": v, "samples": len(rc.AnswerLatencies)})
		}
	}

	if rc.AttemptStartIP != "" && rc.ClientIP != rc.AttemptStartIP {
		add(TypeIPChange, "request IP differs from attempt start IP",
			map[string]interface{}{"start_ip": rc.AttemptStartIP, "current_ip": rc.ClientIP})
	}

	if rc.AnswerText != "" && hiddenCharRegex.MatchString(rc.AnswerText) {
		add(TypeHiddenCharacters, "invisible unicode characters in answer text", nil)
	}

	return found
}

func matchAutomationAgent(ua string) string {
	lower := strings.ToLower(ua)
	for _, agent := range automationAgents {
		if strings.Contains(lower, agent) {
			return agent
		}
	}
	return ""
}

// populationVariance divides by N, not N-1.
func populationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return sq / float64(len(xs))
}
