// Package scorer implements the harness's deterministic grading
// function (spec §4.6): a pure function of (Artifact, TestSuite) with
// a fixed order of penalty operations so any implementation produces
// the same numeric result from the same inputs.
package scorer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
	"github.com/benchharness/harness/internal/syntaxcheck"
)

// Penalty kind names (GLOSSARY).
const (
	PenaltyMissing  = "missing"
	PenaltyRequired = "required"
	PenaltyForbidden = "forbidden"
	PenaltySyntax   = "syntax"
	PenaltyCompile  = "jac_check"
)

// Config holds the configurable fractions used by the penalty steps.
// Zero values are replaced with spec defaults by New.
type Config struct {
	ForbiddenFraction float64 // default 0.25
	SyntaxFraction    float64 // default 0.05
	CompileFraction   float64 // default 1.0
}

// DefaultConfig returns the spec §4.6 default fractions.
func DefaultConfig() Config {
	return Config{ForbiddenFraction: 0.25, SyntaxFraction: 0.05, CompileFraction: 1.0}
}

// Scorer is a deterministic, side-effect-free grader. A nil Checker
// disables the hard compile-check penalty (step 4 is skipped, not
// failed) so callers can score without a SyntaxChecker wired up.
type Scorer struct {
	cfg     Config
	checker syntaxcheck.SyntaxChecker
}

// New builds a Scorer. checker may be nil.
func New(cfg Config, checker syntaxcheck.SyntaxChecker) *Scorer {
	if cfg.ForbiddenFraction == 0 {
		cfg.ForbiddenFraction = DefaultConfig().ForbiddenFraction
	}
	if cfg.SyntaxFraction == 0 {
		cfg.SyntaxFraction = DefaultConfig().SyntaxFraction
	}
	if cfg.CompileFraction == 0 {
		cfg.CompileFraction = DefaultConfig().CompileFraction
	}
	return &Scorer{cfg: cfg, checker: checker}
}

// Score grades every TestCase in ts against a.Responses, in suite
// order, and returns the full EvalResult (unrounded scores; rounding
// happens only in the Summary, per spec §4.6).
func (s *Scorer) Score(a store.Artifact, ts *suite.TestSuite) store.EvalResult {
	scores := make([]store.TestScore, 0, len(ts.Tests))
	for _, tc := range ts.Tests {
		scores = append(scores, s.scoreOne(a, tc))
	}

	return store.EvalResult{
		ArtifactID: a.ID,
		Meta:       a.Meta,
		Scores:     scores,
		Summary:    summarize(scores, ts),
	}
}

func (s *Scorer) scoreOne(a store.Artifact, tc suite.TestCase) store.TestScore {
	points := float64(tc.Points)
	entry, ok := a.Responses[tc.ID]
	if !ok || entry.Missing || entry.Code == "" {
		return store.TestScore{
			TestID: tc.ID,
			Score:  0,
			Max:    points,
			Penalties: []store.Penalty{
				{Kind: PenaltyMissing, Amount: points},
			},
			Feedback: []string{"no response recorded for this test"},
		}
	}
	response := entry.Code

	var penalties []store.Penalty
	var feedback []string

	// Step 1: required patterns define the partial-credit base.
	found := countMatches(response, tc.RequiredPatterns)
	var partial float64
	if len(tc.RequiredPatterns) > 0 {
		partial = (float64(found) / float64(len(tc.RequiredPatterns))) * points
	} else {
		partial = points
	}
	requiredPenalty := points - partial
	if requiredPenalty > 0 {
		penalties = append(penalties, store.Penalty{Kind: PenaltyRequired, Amount: requiredPenalty})
		feedback = append(feedback, missingPatternsFeedback(tc.RequiredPatterns, response))
	}

	// Step 2: forbidden patterns, applied against the partial-credit base.
	remaining := partial
	forbiddenMatches := 0
	for _, p := range tc.ForbiddenPatterns {
		forbiddenMatches += strings.Count(response, p)
	}
	forbiddenPenalty := float64(forbiddenMatches) * s.cfg.ForbiddenFraction * points
	if forbiddenPenalty > remaining {
		forbiddenPenalty = remaining
	}
	if forbiddenPenalty > 0 {
		penalties = append(penalties, store.Penalty{Kind: PenaltyForbidden, Amount: forbiddenPenalty})
		feedback = append(feedback, "response contains forbidden pattern(s)")
	}
	remaining -= forbiddenPenalty

	// Step 3: soft textual syntax rules.
	violations := syntaxcheck.CheckTextual(response)
	syntaxPenalty := float64(len(violations)) * s.cfg.SyntaxFraction * points
	if syntaxPenalty > remaining {
		syntaxPenalty = remaining
	}
	if syntaxPenalty > 0 {
		penalties = append(penalties, store.Penalty{Kind: PenaltySyntax, Amount: syntaxPenalty})
		for _, v := range violations {
			feedback = append(feedback, v)
		}
	}
	remaining -= syntaxPenalty

	// Step 4: hard compile/syntax-check penalty, applied to whatever remains.
	if s.checker != nil {
		result := s.checker.Check(response)
		if !result.OK {
			compilePenalty := remaining * s.cfg.CompileFraction
			if compilePenalty > 0 {
				penalties = append(penalties, store.Penalty{Kind: PenaltyCompile, Amount: compilePenalty})
				feedback = append(feedback, result.Errors...)
			}
			remaining -= compilePenalty
		}
	}

	if remaining < 0 {
		remaining = 0
	}

	return store.TestScore{
		TestID:    tc.ID,
		Score:     remaining,
		Max:       points,
		Penalties: penalties,
		Feedback:  feedback,
	}
}

func countMatches(response string, patterns []string) int {
	n := 0
	for _, p := range patterns {
		if strings.Contains(response, p) {
			n++
		}
	}
	return n
}

func missingPatternsFeedback(patterns []string, response string) string {
	var missing []string
	for _, p := range patterns {
		if !strings.Contains(response, p) {
			missing = append(missing, p)
		}
	}
	return "missing required pattern(s): " + strings.Join(missing, ", ")
}

// summarize rolls scores up into category/level breakdowns and the
// overall percentage, rounding to two decimal places only here (spec
// §4.6: intermediate math stays full precision).
func summarize(scores []store.TestScore, ts *suite.TestSuite) store.EvalSummary {
	byID := make(map[string]suite.TestCase, len(ts.Tests))
	for _, tc := range ts.Tests {
		byID[tc.ID] = tc
	}

	var totalScore, totalMax float64
	categories := make(map[string]*store.CategoryBreakdown)
	levels := make(map[int]*store.LevelBreakdown)
	totalPenalties := make(map[string]float64)

	for _, sc := range scores {
		tc := byID[sc.TestID]
		totalScore += sc.Score
		totalMax += sc.Max

		cat, ok := categories[tc.Category]
		if !ok {
			cat = &store.CategoryBreakdown{Category: tc.Category}
			categories[tc.Category] = cat
		}
		cat.Score += sc.Score
		cat.Max += sc.Max
		cat.Count++

		lvl, ok := levels[tc.Level]
		if !ok {
			lvl = &store.LevelBreakdown{Level: tc.Level}
			levels[tc.Level] = lvl
		}
		lvl.Score += sc.Score
		lvl.Max += sc.Max
		lvl.Count++

		for _, p := range sc.Penalties {
			totalPenalties[p.Kind] += p.Amount
		}
	}

	catOut := make([]store.CategoryBreakdown, 0, len(categories))
	for _, c := range categories {
		catOut = append(catOut, *c)
	}
	sort.Slice(catOut, func(i, j int) bool { return catOut[i].Category < catOut[j].Category })

	lvlOut := make([]store.LevelBreakdown, 0, len(levels))
	for _, l := range levels {
		lvlOut = append(lvlOut, *l)
	}
	sort.Slice(lvlOut, func(i, j int) bool { return lvlOut[i].Level < lvlOut[j].Level })

	var overall float64
	if totalMax > 0 {
		overall = (totalScore / totalMax) * 100
	}

	roundedCats := make([]store.CategoryBreakdown, len(catOut))
	for i, c := range catOut {
		roundedCats[i] = store.CategoryBreakdown{
			Category: c.Category,
			Score:    round2(c.Score),
			Max:      round2(c.Max),
			Count:    c.Count,
		}
	}
	roundedLevels := make([]store.LevelBreakdown, len(lvlOut))
	for i, l := range lvlOut {
		roundedLevels[i] = store.LevelBreakdown{
			Level: l.Level,
			Score: round2(l.Score),
			Max:   round2(l.Max),
			Count: l.Count,
		}
	}
	roundedPenalties := make(map[string]float64, len(totalPenalties))
	for k, v := range totalPenalties {
		roundedPenalties[k] = round2(v)
	}

	return store.EvalSummary{
		OverallPercent: round2(overall),
		Categories:     roundedCats,
		Levels:         roundedLevels,
		TotalPenalties: roundedPenalties,
	}
}

func round2(v float64) float64 {
	f, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return v
	}
	return f
}
