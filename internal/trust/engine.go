// Package trust computes a certified pilgrim's trust score and permitted
// concurrent capacity. Every function is pure: the same inputs always give
// the same outputs, and nothing here touches storage or the clock.
package trust

import (
	"fmt"
	"time"

	"badal/internal/policy"
	dErrors "badal/pkg/domain-errors"
)

const (
	minScore = 0
	maxScore = 100
)

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return sev, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "severity must be minor, major or critical")
}

// Violation is one recorded breach of conduct.
type Violation struct {
	Date     time.Time `json:"date"`
	Reason   string    `json:"reason"`
	Severity Severity  `json:"severity"`
}

// State is the slice of a certification the engine reads and writes.
type State struct {
	Score             int
	CompletedRituals  int
	MaxActiveBadal    int
	ViolationCount    int
	LastViolationDate *time.Time
	Violations        []Violation
}

// Recommendation asks a human reviewer to consider suspension. The engine
// never suspends on its own.
type Recommendation struct {
	Reason string
	At     time.Time
}

// InitialScoreOnVerification returns the starting score and capacity for a
// newly verified pilgrim.
func InitialScoreOnVerification(p policy.Trust) (score, maxActiveBadal int) {
	return clamp(p.InitialScore), p.InitialCapacity
}

// OnRitualCompleted credits one verified completion. Every
// CapacityGrowthEvery completions earn a slot up to MaxCapacity. A slot is
// not granted while a violation falls inside the rolling window ending at
// now; it stays earned and is granted on the first completion after the
// window clears, one slot per completion.
func OnRitualCompleted(s State, now time.Time, p policy.Trust) State {
	next := s.clone()
	next.CompletedRituals++
	next.Score = clamp(next.Score + p.CompletionIncrement)
	if next.MaxActiveBadal < EarnedCapacity(next.CompletedRituals, p) &&
		violationsWithin(next.Violations, now, p.ViolationWindow) == 0 {
		next.MaxActiveBadal++
	}
	return next
}

// EarnedCapacity is the capacity completed rituals entitle a pilgrim to:
// the initial capacity plus one slot per CapacityGrowthEvery completions,
// capped at MaxCapacity.
func EarnedCapacity(completed int, p policy.Trust) int {
	if p.CapacityGrowthEvery <= 0 {
		return p.InitialCapacity
	}
	return min(p.MaxCapacity, p.InitialCapacity+completed/p.CapacityGrowthEvery)
}

// OnViolationRecorded appends v, deducts by severity and returns a
// recommendation when the score falls below the suspension threshold or the
// violations inside the rolling window exceed the ceiling.
func OnViolationRecorded(s State, v Violation, p policy.Trust) (State, *Recommendation) {
	next := s.clone()
	next.Violations = append(next.Violations, v)
	next.ViolationCount++
	at := v.Date
	next.LastViolationDate = &at
	next.Score = clamp(next.Score - Deduction(v.Severity, p))

	var reasons []string
	if next.Score < p.SuspensionThreshold {
		reasons = append(reasons, fmt.Sprintf("trust score %d below threshold %d", next.Score, p.SuspensionThreshold))
	}
	if recent := violationsWithin(next.Violations, v.Date, p.ViolationWindow); recent > p.ViolationCeiling {
		reasons = append(reasons, fmt.Sprintf("%d violations within %s exceeds ceiling %d", recent, p.ViolationWindow, p.ViolationCeiling))
	}
	if len(reasons) == 0 {
		return next, nil
	}
	reason := reasons[0]
	if len(reasons) > 1 {
		reason += "; " + reasons[1]
	}
	return next, &Recommendation{Reason: reason, At: v.Date}
}

// Deduction is the score penalty for a severity.
func Deduction(sev Severity, p policy.Trust) int {
	switch sev {
	case SeverityCritical:
		return p.Deductions.Critical
	case SeverityMajor:
		return p.Deductions.Major
	default:
		return p.Deductions.Minor
	}
}

func violationsWithin(vs []Violation, now time.Time, window time.Duration) int {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	n := 0
	for _, v := range vs {
		if v.Date.After(cutoff) && !v.Date.After(now) {
			n++
		}
	}
	return n
}

func clamp(score int) int {
	return max(minScore, min(maxScore, score))
}

func (s State) clone() State {
	out := s
	out.Violations = append([]Violation(nil), s.Violations...)
	if s.LastViolationDate != nil {
		t := *s.LastViolationDate
		out.LastViolationDate = &t
	}
	return out
}
