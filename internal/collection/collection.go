// Package collection implements the Collection Aggregator (spec
// §4.7): groups Artifacts sharing a logical identity into named
// Collections and computes cross-artifact statistics and pairwise
// comparisons. The Aggregator holds no state of its own beyond the
// Store it reads/writes through — it is a pure view over
// store.Collection/store.EvalResult.
package collection

import (
	"context"
	"math"
	"sort"

	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/store"
)

// Aggregator computes statistics over Collections (spec §4.7).
type Aggregator struct {
	st store.Store
}

// New builds an Aggregator over st.
func New(st store.Store) *Aggregator {
	return &Aggregator{st: st}
}

// CreateFromSelection promotes a loose set of artifact ids into a
// named Collection (spec §4.7 "create-from-selection").
func (a *Aggregator) CreateFromSelection(ctx context.Context, name string, artifactIDs []string) (store.Collection, error) {
	if err := validateName(name); err != nil {
		return store.Collection{}, err
	}
	return a.st.CreateCollection(ctx, name, artifactIDs)
}

// Add appends one artifact to an existing Collection.
func (a *Aggregator) Add(ctx context.Context, name, artifactID string) error {
	return a.st.AddToCollection(ctx, name, artifactID)
}

// Remove drops one artifact from a Collection (a reference removal;
// the Artifact itself is untouched, per spec §3 "members may be
// removed but never mutated").
func (a *Aggregator) Remove(ctx context.Context, name, artifactID string) error {
	return a.st.RemoveFromCollection(ctx, name, artifactID)
}

// Delete removes a Collection entirely.
func (a *Aggregator) Delete(ctx context.Context, name string) error {
	return a.st.DeleteCollection(ctx, name)
}

// List returns every Collection.
func (a *Aggregator) List(ctx context.Context) ([]store.Collection, error) {
	return a.st.ListCollections(ctx)
}

// Stats is the per-collection statistics block spec §4.7 describes.
type Stats struct {
	Name           string
	FileCount      int
	MeanPercent    float64
	StdDevPercent  float64
	CategoryMeans  map[string]float64
}

// Statistics computes mean/stddev of per-artifact overall percentages
// and per-category mean percentage for the named Collection. Standard
// deviation uses the population formula when the Collection has two
// or more members; reported as 0 otherwise (spec §4.7).
func (a *Aggregator) Statistics(ctx context.Context, name string) (Stats, error) {
	c, err := a.st.ReadCollection(ctx, name)
	if err != nil {
		return Stats{}, err
	}

	results := make([]store.EvalResult, 0, len(c.Members))
	for _, id := range c.Members {
		r, err := a.st.ReadEvalResult(ctx, id)
		if err != nil {
			continue
		}
		results = append(results, r)
	}

	return computeStats(name, results), nil
}

func computeStats(name string, results []store.EvalResult) Stats {
	stats := Stats{Name: name, FileCount: len(results), CategoryMeans: make(map[string]float64)}
	if len(results) == 0 {
		return stats
	}

	percents := make([]float64, len(results))
	for i, r := range results {
		percents[i] = r.Summary.OverallPercent
	}
	stats.MeanPercent = mean(percents)
	stats.StdDevPercent = populationStdDev(percents, stats.MeanPercent)

	catScores := make(map[string][]float64)
	for _, r := range results {
		for _, cat := range r.Summary.Categories {
			var pct float64
			if cat.Max > 0 {
				pct = (cat.Score / cat.Max) * 100
			}
			catScores[cat.Category] = append(catScores[cat.Category], pct)
		}
	}
	for cat, scores := range catScores {
		stats.CategoryMeans[cat] = mean(scores)
	}

	return stats
}

// Comparison is the result of Compare(c1, c2): per spec §4.7, means,
// standard deviations, the union of categories, and a per-category
// delta computed as C2 − C1.
type Comparison struct {
	A, B           Stats
	Categories     []string
	CategoryDeltas map[string]float64 // B - A, per category
}

// Compare returns Stats for both Collections plus the union of
// categories and per-category deltas (B minus A).
func (a *Aggregator) Compare(ctx context.Context, nameA, nameB string) (Comparison, error) {
	statsA, err := a.Statistics(ctx, nameA)
	if err != nil {
		return Comparison{}, err
	}
	statsB, err := a.Statistics(ctx, nameB)
	if err != nil {
		return Comparison{}, err
	}

	catSet := make(map[string]struct{}, len(statsA.CategoryMeans)+len(statsB.CategoryMeans))
	for cat := range statsA.CategoryMeans {
		catSet[cat] = struct{}{}
	}
	for cat := range statsB.CategoryMeans {
		catSet[cat] = struct{}{}
	}
	categories := make([]string, 0, len(catSet))
	for cat := range catSet {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	deltas := make(map[string]float64, len(categories))
	for _, cat := range categories {
		deltas[cat] = statsB.CategoryMeans[cat] - statsA.CategoryMeans[cat]
	}

	return Comparison{A: statsA, B: statsB, Categories: categories, CategoryDeltas: deltas}, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func populationStdDev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// validateName enforces the Collection name charset spec §6 defines:
// 1-64 characters from [A-Za-z0-9_-].
func validateName(name string) error {
	if len(name) < 1 || len(name) > 64 {
		return harnesserr.New(harnesserr.Config, "collection name must be 1-64 characters")
	}
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			continue
		default:
			return harnesserr.New(harnesserr.Config, "collection name must match [A-Za-z0-9_-]")
		}
	}
	return nil
}
